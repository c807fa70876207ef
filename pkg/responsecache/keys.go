package responsecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix is the fixed namespace for response cache keys
const KeyPrefix = "response_cache"

// DeriveResponseKey derives the store lookup key for a canonical query in
// a given language. The key is a pure function of its inputs: no salt, no
// time component, stable across process restarts. Language participates in
// both the namespace and the digest so identical canonical text in
// different languages never collides.
func DeriveResponseKey(canonical, language string) string {
	language = normalizeLanguageTag(language)

	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(canonical))

	return fmt.Sprintf("%s:%s:%s", KeyPrefix, language, hex.EncodeToString(h.Sum(nil)))
}

// CategoryScanPattern returns the SCAN match pattern covering all cached
// responses, optionally scoped to one language.
func CategoryScanPattern(language string) string {
	if language == "" {
		return KeyPrefix + ":*"
	}
	return fmt.Sprintf("%s:%s:*", KeyPrefix, normalizeLanguageTag(language))
}

func normalizeLanguageTag(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "und"
	}
	return language
}
