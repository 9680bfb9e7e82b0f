// Package compress implements the compressor (C3): raw DEFLATE over a
// chunk's payload, gated by size, with stats and deterministic
// decompression.
package compress

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/upload-engine/chunkup/internal/model"
)

// compressThreshold is the minimum payload size that makes compression
// worthwhile; anything smaller is left as-is since DEFLATE's framing
// overhead can exceed the savings.
const compressThreshold = 1024

// Stats describes one compression attempt.
type Stats struct {
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	WallTime       time.Duration
}

// Result is a chunk plus the outcome of running it through Compress.
type Result struct {
	Chunk      model.Chunk
	Compressed bool
	Stats      Stats
}

// ShouldCompress reports whether a payload of the given size is worth
// compressing.
func ShouldCompress(size int) bool {
	return size > compressThreshold
}

// Compress runs ch through the compressor. For a binary chunk the raw
// Payload bytes are compressed; for a lines chunk, Rows is first
// JSON-encoded. If the resulting payload is not worth compressing per
// ShouldCompress, the chunk is returned unmodified with Compressed=false.
func Compress(ch model.Chunk) (Result, error) {
	raw, err := payloadBytes(ch)
	if err != nil {
		return Result{}, err
	}

	if !ShouldCompress(len(raw)) {
		out := ch
		out.Payload = raw

		return Result{
			Chunk:      out,
			Compressed: false,
			Stats: Stats{
				OriginalSize:   int64(len(raw)),
				CompressedSize: int64(len(raw)),
				Ratio:          1,
			},
		}, nil
	}

	start := time.Now()

	compressed, err := deflate(raw)
	if err != nil {
		return Result{}, fmt.Errorf("compress: deflating chunk %d: %w", ch.Index, err)
	}

	elapsed := time.Since(start)

	out := ch
	out.Payload = compressed
	out.Rows = nil

	ratio := 1.0
	if len(raw) > 0 {
		ratio = float64(len(compressed)) / float64(len(raw))
	}

	return Result{
		Chunk:      out,
		Compressed: true,
		Stats: Stats{
			OriginalSize:   int64(len(raw)),
			CompressedSize: int64(len(compressed)),
			Ratio:          ratio,
			WallTime:       elapsed,
		},
	}, nil
}

// Decompress reverses Compress: given the (possibly compressed) payload
// and whether it was compressed, it returns the original bytes. The
// result is byte-identical to what was originally passed to Compress.
func Decompress(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}

	return inflate(payload)
}

// PayloadBytes returns the raw bytes a chunk would be compressed from,
// without running compression: ch.Payload for binary chunks, or Rows
// JSON-encoded for lines chunks. Callers that need materialized bytes
// ahead of an independent compress decision (e.g. the pipeline's transform
// stage) use this instead of Compress.
func PayloadBytes(ch model.Chunk) ([]byte, error) {
	return payloadBytes(ch)
}

func payloadBytes(ch model.Chunk) ([]byte, error) {
	if ch.Kind == model.KindLines {
		b, err := json.Marshal(ch.Rows)
		if err != nil {
			return nil, fmt.Errorf("compress: json-encoding rows for chunk %d: %w", ch.Index, err)
		}

		return b, nil
	}

	return ch.Payload, nil
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating flate writer: %w", err)
	}

	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("writing to flate stream: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing flate stream: %w", err)
	}

	return buf.Bytes(), nil
}

func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: inflating: %w", err)
	}

	return out, nil
}
