package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownTopLevelKey(t *testing.T) {
	path := writeTestConfig(t, `unknown_section = "value"`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_TypoInTopLevelKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, `[transfer]
chunk_size = "1MiB"
`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean \"transfers\"")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated_key = true`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_KnownTableWithTypoField_NoTopLevelError(t *testing.T) {
	// md.Undecoded reports the dotted path of an unknown field inside a
	// known table, but only top-level table names are checked, so the field
	// is ignored and the load succeeds.
	path := writeTestConfig(t, `[transfers]
chunk_sizee = "1MiB"
`)
	_, err := Load(path, testLogger(t))
	require.NoError(t, err)
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"transfer", "transfers", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range cases {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b))
	}
}

func TestClosestMatch_WithinDistance(t *testing.T) {
	match := closestMatch("transfer", knownTopLevelKeysList)
	assert.Equal(t, "transfers", match)
}

func TestClosestMatch_TooFar(t *testing.T) {
	match := closestMatch("zzzzzzzzzzzzzzzz", knownTopLevelKeysList)
	assert.Empty(t, match)
}
