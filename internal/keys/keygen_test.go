package keys

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`)

func TestGenerateCodeFormat(t *testing.T) {
	code, err := GenerateCode("")
	require.NoError(t, err)
	assert.Regexp(t, codePattern, code)
}

func TestGenerateCodePrefix(t *testing.T) {
	code, err := GenerateCode("pro")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "PRO-"), "got %s", code)
	assert.Regexp(t, codePattern, strings.TrimPrefix(code, "PRO-"))
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := GenerateCode("")
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestNormalizePrefixDropsNoise(t *testing.T) {
	assert.Equal(t, "GLASS", NormalizePrefix("  glass! "))
	assert.Equal(t, "", NormalizePrefix("---"))
	assert.Len(t, NormalizePrefix("averyverylongprefix"), maxPrefixRunes)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "AB12-CD34-EF56-GH78", NormalizeCode("  ab12-cd34-ef56-gh78 "))
}
