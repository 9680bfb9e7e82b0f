package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect_ExactMatch(t *testing.T) {
	configs := []FileTypeConfig{
		{MIMEPattern: "text/csv", Chunking: Config{Kind: KindLines, Value: 100}},
		{MIMEPattern: "other", Chunking: Config{Kind: KindSize, Value: 1024}},
	}

	got, ok := Select("text/csv", configs)
	assert.True(t, ok)
	assert.Equal(t, KindLines, got.Chunking.Kind)
}

func TestSelect_PrefixMatch(t *testing.T) {
	configs := []FileTypeConfig{
		{MIMEPattern: "image/*", Chunking: Config{Kind: KindSize, Value: 512}},
	}

	got, ok := Select("image/png", configs)
	assert.True(t, ok)
	assert.Equal(t, 512, got.Chunking.Value)
}

func TestSelect_PrefixDoesNotMatchUnrelated(t *testing.T) {
	configs := []FileTypeConfig{
		{MIMEPattern: "image/*", Chunking: Config{Kind: KindSize, Value: 512}},
	}

	_, ok := Select("video/mp4", configs)
	assert.False(t, ok)
}

func TestSelect_FallsBackToOther(t *testing.T) {
	configs := []FileTypeConfig{
		{MIMEPattern: "text/csv", Chunking: Config{Kind: KindLines, Value: 100}},
		{MIMEPattern: "other", Chunking: Config{Kind: KindSize, Value: 2048}},
	}

	got, ok := Select("application/pdf", configs)
	assert.True(t, ok)
	assert.Equal(t, 2048, got.Chunking.Value)
}

func TestSelect_NoMatchNoFallback(t *testing.T) {
	configs := []FileTypeConfig{
		{MIMEPattern: "text/csv", Chunking: Config{Kind: KindLines, Value: 100}},
	}

	_, ok := Select("application/pdf", configs)
	assert.False(t, ok)
}
