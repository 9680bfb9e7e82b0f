// Package pipeline implements the engine's source->transform->sink
// streaming dataflow: it binds the Chunker, Compressor, Security Gate, and
// the HTTP sink into one cancellable per-file upload.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/upload-engine/chunkup/internal/cache"
	"github.com/upload-engine/chunkup/internal/chunk"
	"github.com/upload-engine/chunkup/internal/compress"
	"github.com/upload-engine/chunkup/internal/model"
	"github.com/upload-engine/chunkup/internal/resource"
	"github.com/upload-engine/chunkup/internal/retry"
	"github.com/upload-engine/chunkup/internal/security"
	"github.com/upload-engine/chunkup/internal/workerpool"
)

// Config configures one file's pipeline run.
type Config struct {
	FileID              string
	FileName            string
	FileSize            int64
	MimeType            string
	Endpoint            string
	ConcurrentStreams   int
	CompressionEnabled  bool
	ValidateChunks      bool
	ResumabilityEnabled bool
	ChecksumEnabled     bool
	ResumeToken         string
	ResumeChunks        map[int]bool // chunk indexes to skip; nil means upload all
}

// Deps collects the components a Pipeline binds together. Pool,
// KeyManager, Accountant, Bandwidth, and Cache may be nil to disable
// worker-offloaded validation, encryption, accounting, throttling, and
// chunk caching respectively.
type Deps struct {
	Chunker    *chunk.Chunker
	Pool       *workerpool.Pool
	KeyManager *security.KeyManager
	Accountant *resource.Accountant
	Bandwidth  *security.BandwidthLimiter
	Cache      *cache.Cache
	HTTPClient *http.Client
}

// ChunkResult reports one chunk's transport outcome, used by the manager's
// per-chunk retry wrapper and state updates.
type ChunkResult struct {
	Index int
	Size  int64
	Err   error
}

// Pipeline runs one file's chunk→transform→sink dataflow.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New creates a Pipeline bound to cfg and deps.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.ConcurrentStreams <= 0 {
		cfg.ConcurrentStreams = 1
	}

	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}

	return &Pipeline{cfg: cfg, deps: deps}
}

// Run streams src's chunks through validate→compress→encrypt→accounting→
// sink, honoring up to cfg.ConcurrentStreams chunks in flight, and returns
// once every chunk has been submitted and resolved or ctx is canceled.
// results receives one ChunkResult per chunk as it resolves; Run closes it
// before returning.
func (p *Pipeline) Run(ctx context.Context, src chunk.Source, chunking chunk.FileTypeConfig, results chan<- ChunkResult) error {
	defer close(results)

	out, errc := p.deps.Chunker.Chunk(ctx, src, p.cfg.MimeType, chunking)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.cfg.ConcurrentStreams)

	// draining stays true once gctx is canceled (by ctx or by a failed
	// chunk): the chunker goroutine still owns out and may be blocked
	// sending into it, so every remaining chunk must still be received,
	// just no longer scheduled.
	draining := false

	for ch := range out {
		if draining {
			continue
		}

		if p.cfg.ResumeChunks != nil && p.cfg.ResumeChunks[ch.Index] {
			continue
		}

		ch := ch

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			draining = true
			continue
		}

		g.Go(func() error {
			defer func() { <-sem }()

			size, err := p.processOne(gctx, src, ch)
			results <- ChunkResult{Index: ch.Index, Size: size, Err: err}

			return err
		})
	}

	runErr := g.Wait()

	if chunkErr := <-errc; chunkErr != nil && runErr == nil {
		runErr = chunkErr
	}

	return runErr
}

// processOne runs the transform and sink stages for a single chunk and
// returns the number of (pre-compression, pre-encryption) payload bytes it
// represents, for progress accounting.
func (p *Pipeline) processOne(ctx context.Context, src chunk.Source, ch *model.Chunk) (int64, error) {
	payload, err := p.materializeCached(src, ch)
	if err != nil {
		return 0, err
	}

	originalSize := int64(len(payload))

	if p.cfg.ValidateChunks {
		if err := p.validate(ctx, ch, payload); err != nil {
			return 0, err
		}
	}

	checksum := ""
	if p.cfg.ChecksumEnabled {
		sum := sha256.Sum256(payload)
		checksum = hex.EncodeToString(sum[:])
	}

	compressed := false
	if p.cfg.CompressionEnabled {
		payload, compressed, err = p.compress(ctx, ch, payload)
		if err != nil {
			return 0, err
		}
	}

	if p.deps.KeyManager != nil && p.deps.KeyManager.HasKey(p.cfg.FileID) {
		payload, err = p.deps.KeyManager.Encrypt(p.cfg.FileID, payload)
		if err != nil {
			return 0, &retry.ValidationError{Message: fmt.Sprintf("pipeline: encrypting chunk %d: %v", ch.Index, err)}
		}
	}

	var handle *resource.Handle
	if p.deps.Accountant != nil {
		handle = p.deps.Accountant.Acquire(model.ResourceChunk, int64(len(payload)), map[string]string{
			"file_id": p.cfg.FileID,
		}, nil)
		defer handle.Release()
	}

	if err := p.sink(ctx, ch, payload, compressed, checksum); err != nil {
		return 0, err
	}

	return originalSize, nil
}

// materializeCached consults the Chunk Cache (C4) before reading ch from
// src, so a chunk a prior attempt for this same file already fetched
// (retried within one process lifetime, or resumed against a cache the
// engine kept warm) skips the disk read entirely. A cache miss or a
// disabled cache falls through to materialize and, on success, seeds the
// cache for the next attempt. A cache write failure never fails the
// upload — the cache is an optimization only.
func (p *Pipeline) materializeCached(src chunk.Source, ch *model.Chunk) ([]byte, error) {
	if p.deps.Cache != nil {
		if payload, ok := p.deps.Cache.Get(p.cfg.FileID, ch.Index); ok {
			return payload, nil
		}
	}

	payload, err := p.materialize(src, ch)
	if err != nil {
		return nil, err
	}

	if p.deps.Cache != nil {
		_ = p.deps.Cache.Put(p.cfg.FileID, ch.Index, payload)
	}

	return payload, nil
}

// materialize produces the raw bytes for ch: KindLines chunks already
// carry parsed rows as JSON via the compressor's encoding path, so only
// KindBinary chunks require an on-demand read.
func (p *Pipeline) materialize(src chunk.Source, ch *model.Chunk) ([]byte, error) {
	if ch.Kind == model.KindBinary {
		return chunk.ReadPayload(src, ch)
	}

	return compress.PayloadBytes(*ch)
}

// validate offloads an empty-payload check to the worker pool (KindValidate)
// when one is configured, else runs it inline.
func (p *Pipeline) validate(ctx context.Context, ch *model.Chunk, payload []byte) error {
	if p.deps.Pool == nil {
		return validatePayload(payload)
	}

	task := workerpool.Task{
		ID:      fmt.Sprintf("validate-%s-%d", p.cfg.FileID, ch.Index),
		Kind:    workerpool.KindValidate,
		Payload: payload,
	}

	_, err := p.deps.Pool.Do(ctx, task)

	return err
}

func validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return &retry.ValidationError{Message: "pipeline: empty chunk payload"}
	}

	return nil
}

// compress offloads compression to the worker pool (KindCompress) when one
// is configured, else runs it inline.
func (p *Pipeline) compress(ctx context.Context, ch *model.Chunk, payload []byte) ([]byte, bool, error) {
	if p.deps.Pool == nil {
		res, err := compress.Compress(model.Chunk{Kind: model.KindBinary, Payload: payload})
		if err != nil {
			return nil, false, err
		}

		return res.Chunk.Payload, res.Compressed, nil
	}

	task := workerpool.Task{
		ID:      fmt.Sprintf("compress-%s-%d", p.cfg.FileID, ch.Index),
		Kind:    workerpool.KindCompress,
		Payload: payload,
	}

	v, err := p.deps.Pool.Do(ctx, task)
	if err != nil {
		return nil, false, err
	}

	res := v.(compress.Result)

	return res.Chunk.Payload, res.Compressed, nil
}

// NewWorkerHandler returns the workerpool.Handler that executes the task
// kinds this package submits via validate/compress: KindValidate runs
// validatePayload, KindCompress runs compress.Compress. Callers wiring a
// shared Pool across multiple pipelines pass this as the pool's handler.
func NewWorkerHandler() workerpool.Handler {
	return func(_ context.Context, task workerpool.Task) (any, error) {
		payload, ok := task.Payload.([]byte)
		if !ok {
			return nil, fmt.Errorf("pipeline: task %s payload is %T, not []byte", task.ID, task.Payload)
		}

		switch task.Kind {
		case workerpool.KindValidate:
			return nil, validatePayload(payload)
		case workerpool.KindCompress:
			return compress.Compress(model.Chunk{Kind: model.KindBinary, Payload: payload})
		default:
			return nil, fmt.Errorf("pipeline: unsupported task kind %q", task.Kind)
		}
	}
}

// chunkMetadata is the JSON body of the multipart "metadata" field.
type chunkMetadata struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// sink POSTs one transformed chunk as multipart/form-data to cfg.Endpoint,
// carrying ctx so pipeline cancellation aborts the in-flight request. A
// non-2xx response becomes an HTTPStatusError for C7 to classify.
func (p *Pipeline) sink(ctx context.Context, ch *model.Chunk, payload []byte, compressed bool, checksum string) error {
	body, contentType, err := p.buildMultipartBody(ch, payload, checksum)
	if err != nil {
		return err
	}

	reader := io.Reader(body)
	if p.deps.Bandwidth != nil {
		reader = p.deps.Bandwidth.WrapReader(ctx, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, reader)
	if err != nil {
		return fmt.Errorf("pipeline: building sink request for chunk %d: %w", ch.Index, err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := p.deps.HTTPClient.Do(req)
	if err != nil {
		return &retry.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	_ = compressed // surfaced via Stats upstream; sink only needs the final bytes

	return nil
}

// buildMultipartBody assembles the chunk/metadata/resumeToken/checksum
// fields spec.md §6 names.
func (p *Pipeline) buildMultipartBody(ch *model.Chunk, payload []byte, checksum string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	metaPart, err := w.CreateFormField("metadata")
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: creating metadata field: %w", err)
	}

	meta := chunkMetadata{
		FileID:      p.cfg.FileID,
		FileName:    p.cfg.FileName,
		FileSize:    p.cfg.FileSize,
		MimeType:    p.cfg.MimeType,
		ChunkIndex:  ch.Index,
		TotalChunks: ch.Total,
	}

	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, "", fmt.Errorf("pipeline: encoding metadata: %w", err)
	}

	chunkPart, err := w.CreateFormFile("chunk", p.cfg.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: creating chunk field: %w", err)
	}

	if _, err := chunkPart.Write(payload); err != nil {
		return nil, "", fmt.Errorf("pipeline: writing chunk bytes: %w", err)
	}

	if p.cfg.ResumabilityEnabled {
		if err := writeFormValue(w, "resumeToken", p.cfg.ResumeToken); err != nil {
			return nil, "", err
		}
		if err := writeFormValue(w, "index", fmt.Sprint(ch.Index)); err != nil {
			return nil, "", err
		}
		if err := writeFormValue(w, "total", fmt.Sprint(ch.Total)); err != nil {
			return nil, "", err
		}
		if err := writeFormValue(w, "fileId", p.cfg.FileID); err != nil {
			return nil, "", err
		}
	}

	if checksum != "" {
		if err := writeFormValue(w, "checksum", checksum); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("pipeline: closing multipart writer: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

func writeFormValue(w *multipart.Writer, field, value string) error {
	fw, err := w.CreateFormField(field)
	if err != nil {
		return fmt.Errorf("pipeline: creating %s field: %w", field, err)
	}

	if _, err := fw.Write([]byte(value)); err != nil {
		return fmt.Errorf("pipeline: writing %s field: %w", field, err)
	}

	return nil
}
