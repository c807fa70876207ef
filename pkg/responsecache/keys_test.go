package responsecache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveResponseKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		first := DeriveResponseKey("free slots tomorrow", "en")
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, DeriveResponseKey("free slots tomorrow", "en"))
		}
	})

	t.Run("namespaced with prefix and language", func(t *testing.T) {
		key := DeriveResponseKey("free slots tomorrow", "en")
		assert.True(t, strings.HasPrefix(key, KeyPrefix+":en:"))
	})

	t.Run("fixed width digest", func(t *testing.T) {
		short := DeriveResponseKey("hi", "en")
		long := DeriveResponseKey(strings.Repeat("long query ", 100), "en")
		assert.Equal(t, len(short), len(long))
	})

	t.Run("languages never collide", func(t *testing.T) {
		assert.NotEqual(t,
			DeriveResponseKey("reservation", "en"),
			DeriveResponseKey("reservation", "fr"),
		)
	})

	t.Run("different canonical text never collides", func(t *testing.T) {
		assert.NotEqual(t,
			DeriveResponseKey("opening hours", "en"),
			DeriveResponseKey("closing hours", "en"),
		)
	})

	t.Run("empty language maps to und", func(t *testing.T) {
		key := DeriveResponseKey("anything", "")
		assert.True(t, strings.HasPrefix(key, KeyPrefix+":und:"))
	})
}

func TestCategoryScanPattern(t *testing.T) {
	assert.Equal(t, "response_cache:*", CategoryScanPattern(""))
	assert.Equal(t, "response_cache:en:*", CategoryScanPattern("en"))
	assert.Equal(t, "response_cache:en-us:*", CategoryScanPattern("EN-US"))
}
