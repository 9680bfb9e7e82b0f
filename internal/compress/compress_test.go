package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upload-engine/chunkup/internal/model"
)

func TestShouldCompress_BelowThreshold(t *testing.T) {
	assert.False(t, ShouldCompress(100))
}

func TestShouldCompress_AboveThreshold(t *testing.T) {
	assert.True(t, ShouldCompress(2000))
}

func TestCompress_SmallBinaryChunkUncompressed(t *testing.T) {
	ch := model.Chunk{Kind: model.KindBinary, Payload: []byte("small")}

	result, err := Compress(ch)
	require.NoError(t, err)
	assert.False(t, result.Compressed)
	assert.Equal(t, []byte("small"), result.Chunk.Payload)
}

func TestCompress_LargeBinaryChunkRoundTrips(t *testing.T) {
	raw := []byte(strings.Repeat("a", 5000))
	ch := model.Chunk{Kind: model.KindBinary, Payload: raw}

	result, err := Compress(ch)
	require.NoError(t, err)
	assert.True(t, result.Compressed)
	assert.Less(t, len(result.Chunk.Payload), len(raw))

	decompressed, err := Decompress(result.Chunk.Payload, result.Compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, decompressed)
}

func TestCompress_LinesChunkJSONEncodesFirst(t *testing.T) {
	rows := make([][]string, 200)
	for i := range rows {
		rows[i] = []string{"value", "more repeated padding text here"}
	}

	ch := model.Chunk{Kind: model.KindLines, Rows: rows}

	result, err := Compress(ch)
	require.NoError(t, err)
	assert.True(t, result.Compressed)

	decompressed, err := Decompress(result.Chunk.Payload, result.Compressed)
	require.NoError(t, err)
	assert.Contains(t, string(decompressed), "value")
}

func TestCompress_StatsReflectSizes(t *testing.T) {
	raw := []byte(strings.Repeat("b", 10000))
	ch := model.Chunk{Kind: model.KindBinary, Payload: raw}

	result, err := Compress(ch)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), result.Stats.OriginalSize)
	assert.Less(t, result.Stats.CompressedSize, result.Stats.OriginalSize)
	assert.Less(t, result.Stats.Ratio, 1.0)
}

func TestDecompress_Uncompressed_ReturnsAsIs(t *testing.T) {
	got, err := Decompress([]byte("plain"), false)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)
}
