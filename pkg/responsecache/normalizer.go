package responsecache

import (
	"regexp"
	"strings"
	"unicode"
)

// EmptyQuerySentinel is the canonical form of empty or whitespace-only
// input. It is its own normalization fixed point.
const EmptyQuerySentinel = "empty-query"

// Normalizer preprocesses customer queries for consistent cache keys
type Normalizer interface {
	Normalize(query, language string) string
}

// DefaultNormalizer folds case, collapses whitespace, strips punctuation
// and drops language-specific filler words so that semantically identical
// phrasings collide on the same canonical string. Pure and deterministic;
// it never fails.
type DefaultNormalizer struct {
	whitespaceRegex  *regexp.Regexp
	punctuationRegex *regexp.Regexp
	stopWords        map[string]map[string]bool
}

// NewNormalizer creates a normalizer with the built-in stop-word tables
func NewNormalizer() Normalizer {
	return &DefaultNormalizer{
		whitespaceRegex: regexp.MustCompile(`\s+`),
		// Keep letters, digits and hyphens; everything else is noise
		punctuationRegex: regexp.MustCompile(`[^\p{L}\p{N}\s-]`),
		stopWords:        defaultStopWords(),
	}
}

// Normalize returns the canonical form of a query. Empty or
// whitespace-only input yields EmptyQuerySentinel rather than an error.
func (n *DefaultNormalizer) Normalize(query, language string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return EmptyQuerySentinel
	}

	normalized = n.punctuationRegex.ReplaceAllString(normalized, " ")
	normalized = n.whitespaceRegex.ReplaceAllString(normalized, " ")

	words := strings.Fields(normalized)
	stopWords := n.stopWords[baseLanguage(language)]

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if stopWords != nil && stopWords[word] {
			continue
		}
		// Single-rune fragments carry no intent unless numeric
		if runeLen(word) < 2 && !isNumber(word) {
			continue
		}
		filtered = append(filtered, word)
	}

	// Preserve order for semantic meaning, drop consecutive repeats
	deduped := deduplicateConsecutive(filtered)

	if len(deduped) == 0 {
		return EmptyQuerySentinel
	}

	return strings.Join(deduped, " ")
}

// baseLanguage reduces a BCP-47 style tag to its primary subtag
func baseLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(language, "-_"); i > 0 {
		language = language[:i]
	}
	return language
}

func runeLen(s string) int {
	return len([]rune(s))
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}

func deduplicateConsecutive(words []string) []string {
	if len(words) <= 1 {
		return words
	}

	result := make([]string, 0, len(words))
	result = append(result, words[0])

	for i := 1; i < len(words); i++ {
		if words[i] != words[i-1] {
			result = append(result, words[i])
		}
	}

	return result
}

// defaultStopWords returns filler words per language. Unknown languages
// get no stop-word filtering, only case/whitespace/punctuation folding.
func defaultStopWords() map[string]map[string]bool {
	return map[string]map[string]bool{
		"en": wordSet(
			"a", "an", "the",
			"i", "me", "my", "we", "our", "you", "your", "it", "its",
			"is", "am", "are", "was", "were", "be", "been", "being",
			"do", "does", "did", "doing", "have", "has", "had",
			"will", "would", "should", "could", "can", "may", "might",
			"at", "by", "for", "with", "to", "from", "in", "on", "of",
			"and", "or", "but", "if", "so", "then",
			"please", "kindly", "just", "really", "very",
			"hi", "hello", "hey", "thanks", "thank",
		),
		"es": wordSet(
			"el", "la", "los", "las", "un", "una", "unos", "unas",
			"yo", "tu", "usted", "nosotros", "mi", "su",
			"es", "son", "esta", "estan", "ser", "estar", "hay",
			"de", "del", "en", "a", "al", "por", "para", "con", "sin",
			"y", "o", "pero", "si", "que",
			"favor", "gracias", "hola",
		),
		"fr": wordSet(
			"le", "la", "les", "un", "une", "des", "du", "de",
			"je", "tu", "vous", "nous", "mon", "ma", "mes", "votre",
			"est", "sont", "etre", "avoir", "ai", "avez",
			"a", "au", "aux", "en", "dans", "pour", "avec", "sans", "sur",
			"et", "ou", "mais", "si", "que", "qui",
			"svp", "merci", "bonjour",
		),
	}
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
