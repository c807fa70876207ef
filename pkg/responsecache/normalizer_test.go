package responsecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer()

	t.Run("folds case and whitespace", func(t *testing.T) {
		assert.Equal(t,
			n.Normalize("What   Time Do You OPEN?", "en"),
			n.Normalize("what time do you open", "en"),
		)
	})

	t.Run("strips punctuation", func(t *testing.T) {
		assert.Equal(t,
			n.Normalize("Do you have free slots tomorrow?", "en"),
			n.Normalize("do you have free slots tomorrow", "en"),
		)
	})

	t.Run("drops filler words", func(t *testing.T) {
		assert.Equal(t,
			n.Normalize("Please, can I book a table?", "en"),
			n.Normalize("book table", "en"),
		)
	})

	t.Run("deduplicates consecutive repeats", func(t *testing.T) {
		assert.Equal(t,
			n.Normalize("book book table", "en"),
			n.Normalize("book table", "en"),
		)
	})

	t.Run("empty input returns sentinel", func(t *testing.T) {
		assert.Equal(t, EmptyQuerySentinel, n.Normalize("", "en"))
		assert.Equal(t, EmptyQuerySentinel, n.Normalize("   \t\n ", "en"))
	})

	t.Run("pure-noise input returns sentinel", func(t *testing.T) {
		assert.Equal(t, EmptyQuerySentinel, n.Normalize("?!...", "en"))
		assert.Equal(t, EmptyQuerySentinel, n.Normalize("the a an", "en"))
	})

	t.Run("preserves numbers", func(t *testing.T) {
		canonical := n.Normalize("table for 2 at 8", "en")
		assert.Contains(t, canonical, "2")
		assert.Contains(t, canonical, "8")
	})

	t.Run("keeps accented letters", func(t *testing.T) {
		canonical := n.Normalize("¿Cuánto cuesta una habitación?", "es")
		assert.Contains(t, canonical, "cuánto")
		assert.Contains(t, canonical, "habitación")
	})

	t.Run("unknown language skips stop words", func(t *testing.T) {
		assert.Equal(t, "the offer", n.Normalize("The Offer", "de"))
	})

	t.Run("language subtags share tables", func(t *testing.T) {
		assert.Equal(t,
			n.Normalize("can you help me", "en-US"),
			n.Normalize("can you help me", "en"),
		)
	})
}

func TestNormalizer_Idempotence(t *testing.T) {
	n := NewNormalizer()

	inputs := []struct {
		query    string
		language string
	}{
		{"Do you have free slots tomorrow?", "en"},
		{"   PLEASE   help    me!!! ", "en"},
		{"", "en"},
		{"¿Hay mesas libres mañana?", "es"},
		{"Est-ce que vous êtes ouverts demain ?", "fr"},
		{"check-in time", "en"},
		{"12345", "en"},
	}

	for _, tc := range inputs {
		once := n.Normalize(tc.query, tc.language)
		twice := n.Normalize(once, tc.language)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", tc.query)
	}
}

func TestNormalizer_Determinism(t *testing.T) {
	n := NewNormalizer()

	first := n.Normalize("Do you have any free slots tomorrow?", "en")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, n.Normalize("Do you have any free slots tomorrow?", "en"))
	}
}
