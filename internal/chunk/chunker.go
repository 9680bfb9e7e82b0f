package chunk

import (
	"context"
	"fmt"
	"io"

	"github.com/upload-engine/chunkup/internal/model"
	"github.com/upload-engine/chunkup/internal/retry"
	"github.com/upload-engine/chunkup/internal/sanitize"
)

// Source is a random-access view of the file being chunked. The chunker
// never reads ahead of what a chunk's own range covers, and in size mode it
// defers even that read to ReadPayload so a chunk descriptor can cross the
// pipeline before its bytes are materialized.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Chunker produces chunk sequences for a file. It holds no per-file state;
// all state lives in the channel goroutine spawned by Chunk.
type Chunker struct{}

// New returns a ready-to-use Chunker.
func New() *Chunker {
	return &Chunker{}
}

// Chunk starts producing chunks for src under cfg and returns a channel of
// chunks and a channel that receives at most one error. Both channels are
// closed when the sequence ends, whether normally or due to an error or
// context cancellation. The caller must drain chunks until close to avoid
// leaking the producer goroutine.
//
// Chunks cross the channel as pointers: for line-based parsing whose total
// chunk count is only known at EOF, every chunk is first sent with
// Total == model.UnknownTotal, and the producer patches Total in place on
// every chunk it already sent once the real count is known, before closing
// the channel. A caller that needs a stable total must wait for the
// channel to close rather than trust Total on an individual chunk in
// isolation.
func (c *Chunker) Chunk(ctx context.Context, src Source, mimeType string, cfg FileTypeConfig) (<-chan *model.Chunk, <-chan error) {
	out := make(chan *model.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		var err error

		switch cfg.Chunking.Kind {
		case KindSize:
			err = c.chunkBySize(ctx, src, cfg.Chunking.Value, out)
		case KindLines:
			err = c.chunkByLines(ctx, src, mimeType, cfg.Chunking.Value, out)
		default:
			err = &retry.ValidationError{Message: fmt.Sprintf("chunk: unknown chunking kind %q", cfg.Chunking.Kind)}
		}

		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

// ReadPayload materializes a binary chunk's bytes from src. Size-mode
// chunks leave Payload nil until a consumer calls this, keeping the
// producer side lazy per the chunker's non-eager-read contract.
func ReadPayload(src Source, ch *model.Chunk) ([]byte, error) {
	buf := make([]byte, ch.Size)

	n, err := src.ReadAt(buf, ch.Offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("chunk: reading payload for chunk %d: %w", ch.Index, err)
	}

	return buf[:n], nil
}

func (c *Chunker) chunkBySize(ctx context.Context, src Source, size int, out chan<- *model.Chunk) error {
	if size <= 0 {
		return &retry.ValidationError{Message: "chunk: chunking.value must be positive for size mode"}
	}

	total := src.Size()
	if total < 0 {
		return &retry.ValidationError{Message: "chunk: negative source size"}
	}

	count := int((total + int64(size) - 1) / int64(size))
	if total == 0 {
		count = 1
	}

	for i := range count {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		offset := int64(i) * int64(size)
		remaining := total - offset
		chunkSize := int64(size)

		if remaining < chunkSize {
			chunkSize = remaining
		}

		ch := &model.Chunk{
			Index:  i,
			Total:  count,
			Kind:   model.KindBinary,
			Offset: offset,
			Size:   chunkSize,
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ch:
		}
	}

	return nil
}

// chunkByLines streams rows from the parser matching mimeType, batching
// rowsPerChunk rows per chunk. Every chunk is emitted as soon as its batch
// fills, with Total set to model.UnknownTotal, since the row count isn't
// known until the source is exhausted. Once EOF is reached, Total is
// patched on every chunk already sent (the caller holds the same pointer).
func (c *Chunker) chunkByLines(ctx context.Context, src Source, mimeType string, rowsPerChunk int, out chan<- *model.Chunk) error {
	if rowsPerChunk <= 0 {
		return &retry.ValidationError{Message: "chunk: chunking.value must be positive for lines mode"}
	}

	rs, err := newRowSource(src, mimeType)
	if err != nil {
		return err
	}

	var (
		sent  []*model.Chunk
		batch [][]string
		index int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		ch := &model.Chunk{
			Index: index,
			Total: model.UnknownTotal,
			Kind:  model.KindLines,
			Rows:  sanitizeRows(batch),
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ch:
		}

		sent = append(sent, ch)
		index++
		batch = nil

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, rowErr := rs.Next()
		if rowErr == io.EOF {
			break
		}

		if rowErr != nil {
			return fmt.Errorf("chunk: parsing rows: %w", rowErr)
		}

		batch = append(batch, row)

		if len(batch) == rowsPerChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	total := len(sent)
	if total == 0 {
		total = 1
	}

	for _, ch := range sent {
		ch.Total = total
	}

	return nil
}

func sanitizeRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))

	for i, row := range rows {
		sanitized := make([]string, len(row))
		for j, cell := range row {
			sanitized[j] = sanitize.CSVField(cell, 0)
		}

		out[i] = sanitized
	}

	return out
}
