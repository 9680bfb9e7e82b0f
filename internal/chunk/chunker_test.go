package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upload-engine/chunkup/internal/model"
)

func drain(out <-chan *model.Chunk, errc <-chan error) ([]*model.Chunk, error) {
	var chunks []*model.Chunk

	for ch := range out {
		chunks = append(chunks, ch)
	}

	return chunks, <-errc
}

func TestChunkBySize_ExactMultiple(t *testing.T) {
	src := newMemSource(make([]byte, 300))
	c := New()

	out, errc := c.Chunk(context.Background(), src, "application/octet-stream", FileTypeConfig{Chunking: Config{Kind: KindSize, Value: 100}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, 3, ch.Total)
		assert.Equal(t, int64(100), ch.Size)
		assert.Equal(t, int64(i*100), ch.Offset)
		assert.Equal(t, model.KindBinary, ch.Kind)
	}
}

func TestChunkBySize_Remainder(t *testing.T) {
	src := newMemSource(make([]byte, 250))
	c := New()

	out, errc := c.Chunk(context.Background(), src, "application/octet-stream", FileTypeConfig{Chunking: Config{Kind: KindSize, Value: 100}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, int64(50), chunks[2].Size)

	var sum int64
	for _, ch := range chunks {
		sum += ch.Size
	}

	assert.Equal(t, src.Size(), sum)
}

func TestChunkBySize_RejectsZeroValue(t *testing.T) {
	src := newMemSource(make([]byte, 10))
	c := New()

	_, errc := c.Chunk(context.Background(), src, "application/octet-stream", FileTypeConfig{Chunking: Config{Kind: KindSize, Value: 0}})
	err := <-errc
	assert.Error(t, err)
}

func TestReadPayload_ReturnsCorrectBytes(t *testing.T) {
	data := []byte("0123456789")
	src := newMemSource(data)

	ch := &model.Chunk{Offset: 2, Size: 4}
	got, err := ReadPayload(src, ch)

	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestChunkByLines_CSV(t *testing.T) {
	data := []byte("a,b\nc,d\ne,f\ng,h\ni,j\n")
	src := newMemSource(data)
	c := New()

	out, errc := c.Chunk(context.Background(), src, "text/csv", FileTypeConfig{Chunking: Config{Kind: KindLines, Value: 2}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, chunks[0].Rows)
	assert.Equal(t, [][]string{{"i", "j"}}, chunks[2].Rows)

	for _, ch := range chunks {
		assert.Equal(t, 3, ch.Total)
	}
}

func TestChunkByLines_Text(t *testing.T) {
	data := []byte("line one\nline two\nline three\n")
	src := newMemSource(data)
	c := New()

	out, errc := c.Chunk(context.Background(), src, "text/plain", FileTypeConfig{Chunking: Config{Kind: KindLines, Value: 2}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, [][]string{{"line one"}, {"line two"}}, chunks[0].Rows)
	assert.Equal(t, [][]string{{"line three"}}, chunks[1].Rows)
}

func TestChunkByLines_RejectsUnsupportedMIME(t *testing.T) {
	src := newMemSource([]byte("data"))
	c := New()

	_, errc := c.Chunk(context.Background(), src, "application/pdf", FileTypeConfig{Chunking: Config{Kind: KindLines, Value: 2}})
	err := <-errc
	assert.Error(t, err)
}

func TestChunkByLines_SanitizesFormulaInjection(t *testing.T) {
	data := []byte("=SUM(A1:A2),plain\n")
	src := newMemSource(data)
	c := New()

	out, errc := c.Chunk(context.Background(), src, "text/csv", FileTypeConfig{Chunking: Config{Kind: KindLines, Value: 10}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "'=SUM(A1:A2)", chunks[0].Rows[0][0])
}

func TestChunk_ContextCancellation(t *testing.T) {
	src := newMemSource(make([]byte, 1000))
	c := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, errc := c.Chunk(ctx, src, "application/octet-stream", FileTypeConfig{Chunking: Config{Kind: KindSize, Value: 10}})

	for range out {
	}

	assert.Error(t, <-errc)
}
