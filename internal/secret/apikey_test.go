package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateAPIKey()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
		assert.True(t, ValidAPIKeyFormat(key), "key %q", key)
		assert.False(t, seen[key], "duplicate key generated")
		seen[key] = true
	}
}

func TestValidAPIKeyFormatRejections(t *testing.T) {
	tests := []string{
		"",
		"fk_",
		"sk_" + strings.Repeat("a", 43),
		"fk_" + strings.Repeat("a", 42),
		"fk_" + strings.Repeat("a", 44),
		"fk_" + strings.Repeat("!", 43),
	}
	for _, raw := range tests {
		assert.False(t, ValidAPIKeyFormat(raw), "input %q", raw)
	}
}

func TestKeyDisplayPrefixAndMask(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	prefix := KeyDisplayPrefix(key)
	assert.Len(t, prefix, DisplayPrefixLen)
	assert.True(t, strings.HasPrefix(key, prefix))

	masked := MaskKey(prefix)
	assert.True(t, strings.HasPrefix(masked, prefix))
	assert.NotContains(t, masked, key[DisplayPrefixLen:])

	// Short inputs come back unchanged.
	assert.Equal(t, "fk_ab", KeyDisplayPrefix("fk_ab"))
}
