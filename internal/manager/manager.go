// Package manager implements the resumable upload manager (C11): per-file
// orchestration that loads or creates persisted state, drives the pipeline
// across remaining chunks, applies the per-chunk retry wrapper, and exposes
// pause/resume/cancel plus throttled progress.
//
// Whether a failed attempt is retried, and after what delay, is decided
// solely by retry.Classifier.HandleError; the manager applies no retry
// limit of its own and does not consult resumable.max_retries.
package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/upload-engine/chunkup/internal/chunk"
	"github.com/upload-engine/chunkup/internal/model"
	"github.com/upload-engine/chunkup/internal/pipeline"
	"github.com/upload-engine/chunkup/internal/retry"
	"github.com/upload-engine/chunkup/internal/state"
)

// progressThrottle is the minimum interval between ProgressFunc deliveries
// for one file, per spec.md §4.11.
const progressThrottle = 100 * time.Millisecond

// ErrAlreadyUploading is returned by StartUpload when fileID already has a
// live upload.
var ErrAlreadyUploading = errors.New("manager: upload already in progress for this file")

// ErrNotResumable is returned by ResumeUpload when fileID has no state in a
// resumable status.
var ErrNotResumable = errors.New("manager: file is not resumable")

// ErrNotActive is returned by PauseUpload when fileID has no live upload.
var ErrNotActive = errors.New("manager: no active upload for this file")

// ProgressFunc receives delivery of one file's upload progress, throttled
// to at least progressThrottle apart.
type ProgressFunc func(model.Progress)

// PipelineFactory builds the Pipeline that will carry out one StartUpload
// call's remaining chunks, given the per-call pipeline.Config.
type PipelineFactory func(cfg pipeline.Config) *pipeline.Pipeline

// UploadRequest describes the file being uploaded.
type UploadRequest struct {
	FileID     string
	FileName   string
	FileSize   int64
	MimeType   string
	Endpoint   string
	Source     chunk.Source
	Chunking   chunk.FileTypeConfig
	Pipeline   pipeline.Config
	OnProgress ProgressFunc
}

// Manager orchestrates at most one live upload per fileID, on top of a
// shared state.Manager and retry.Classifier.
type Manager struct {
	states     *state.Manager
	classifier *retry.Classifier
	newPipe    PipelineFactory
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Manager.
func New(states *state.Manager, classifier *retry.Classifier, newPipe PipelineFactory, logger *slog.Logger) *Manager {
	return &Manager{
		states:     states,
		classifier: classifier,
		newPipe:    newPipe,
		logger:     logger,
		active:     make(map[string]context.CancelFunc),
	}
}

// StartUpload begins req.FileID's upload: rejects a concurrent call for the
// same fileID, loads or creates the persisted UploadState, and drives a
// fresh Pipeline over the chunks not yet marked uploaded. It returns once
// the upload reaches completed, paused (via PauseUpload/CancelUpload), or
// error.
func (m *Manager) StartUpload(ctx context.Context, req UploadRequest) error {
	runCtx, cancel, err := m.beginActive(ctx, req.FileID)
	if err != nil {
		return err
	}
	defer m.endActive(req.FileID)
	defer cancel()

	s, err := m.loadOrInitState(runCtx, req)
	if err != nil {
		return err
	}

	s.Status = model.StatusUploading
	if err := m.states.SaveUploadState(runCtx, s); err != nil {
		return fmt.Errorf("manager: persisting uploading status for %s: %w", req.FileID, err)
	}

	runErr := m.drive(runCtx, req, s)

	s.LastUpdateTime = time.Now()

	switch {
	case runErr == nil:
		s.Status = model.StatusCompleted
		s.Error = ""

		m.verifyChecksum(req, s)
	case ctx.Err() == nil && runCtx.Err() != nil:
		// runCtx was canceled locally (Pause/Cancel), not by the caller.
		s.Status = model.StatusPaused
	default:
		s.Status = model.StatusError
		s.Error = runErr.Error()
	}

	if saveErr := m.states.SaveUploadState(context.Background(), s); saveErr != nil {
		m.logger.Warn("manager: persisting final status", "file_id", req.FileID, "error", saveErr)

		if runErr == nil {
			return saveErr
		}
	}

	return runErr
}

// verifyChecksum recomputes the whole-file SHA-256 against req.Source after
// a completed upload and compares it to the checksum InitializeState
// captured before any chunk was sent. A mismatch only ever gets logged, per
// SPEC_FULL.md §5.5 — by the time this runs every chunk has already been
// accepted by the endpoint, so there is nothing left to retry.
func (m *Manager) verifyChecksum(req UploadRequest, s *model.UploadState) {
	if s.Checksum == "" || req.Source == nil {
		return
	}

	sum := sha256.New()

	if _, err := io.Copy(sum, io.NewSectionReader(req.Source, 0, req.FileSize)); err != nil {
		m.logger.Warn("manager: re-hashing file after upload failed", "file_id", req.FileID, "error", err)

		return
	}

	got := hex.EncodeToString(sum.Sum(nil))
	if got != s.Checksum {
		m.logger.Warn("manager: post-upload hash mismatch", "file_id", req.FileID, "expected", s.Checksum, "got", got)
	}
}

// drive runs pipe over the file and applies the per-chunk retry wrapper:
// each ChunkResult updates persisted ChunkState and, on success,
// UploadState.uploadedChunks/BytesUploaded; on failure it consults the
// classifier and either sleeps-then-retries the whole pipeline or returns
// the error.
func (m *Manager) drive(ctx context.Context, req UploadRequest, s *model.UploadState) error {
	attempt := 0

	for {
		attempt++

		pipe := m.newPipe(m.resumablePipelineConfig(req, s))

		results := make(chan pipeline.ChunkResult)

		go func() {
			_ = pipe.Run(ctx, req.Source, req.Chunking, results)
		}()

		lastEmit := time.Time{}
		var runErr error

		for r := range results {
			if r.Err != nil {
				runErr = r.Err
				m.recordChunkFailure(ctx, req.FileID, r, attempt)

				continue
			}

			m.recordChunkSuccess(ctx, req.FileID, s, r)
			m.emitProgress(req, s, &lastEmit)
		}

		if runErr == nil {
			return nil
		}

		shouldRetry, delay := m.classifier.HandleError(runErr, attempt, true)
		if !shouldRetry {
			return runErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// resumablePipelineConfig builds req.Pipeline for one attempt, skipping
// whatever s.UploadedChunks already reflects so a retry never re-uploads a
// chunk a prior attempt already landed.
func (m *Manager) resumablePipelineConfig(req UploadRequest, s *model.UploadState) pipeline.Config {
	skip := make(map[int]bool, len(s.UploadedChunks))
	for idx, done := range s.UploadedChunks {
		if done {
			skip[idx] = true
		}
	}

	cfg := req.Pipeline
	cfg.FileID = req.FileID
	cfg.FileName = req.FileName
	cfg.FileSize = req.FileSize
	cfg.MimeType = req.MimeType
	cfg.Endpoint = req.Endpoint
	cfg.ResumabilityEnabled = true
	cfg.ResumeToken = s.ResumeToken
	cfg.ResumeChunks = skip

	return cfg
}

func (m *Manager) recordChunkSuccess(ctx context.Context, fileID string, s *model.UploadState, r pipeline.ChunkResult) {
	s.UploadedChunks[r.Index] = true
	s.BytesUploaded += r.Size

	cs := &model.ChunkState{
		Index:            r.Index,
		Size:             r.Size,
		LastAttemptEpoch: time.Now().UnixMilli(),
		UpdatedAt:        time.Now(),
	}

	if err := m.states.SaveChunkState(ctx, fileID, cs); err != nil {
		m.logger.Warn("manager: saving chunk state", "file_id", fileID, "index", r.Index, "error", err)
	}

	if err := m.states.SaveUploadState(ctx, s); err != nil {
		m.logger.Warn("manager: saving upload state", "file_id", fileID, "error", err)
	}
}

func (m *Manager) recordChunkFailure(ctx context.Context, fileID string, r pipeline.ChunkResult, attempt int) {
	cs := &model.ChunkState{
		Index:            r.Index,
		Attempts:         attempt,
		LastAttemptEpoch: time.Now().UnixMilli(),
		Error:            r.Err.Error(),
		UpdatedAt:        time.Now(),
	}

	if err := m.states.SaveChunkState(ctx, fileID, cs); err != nil {
		m.logger.Warn("manager: saving failed chunk state", "file_id", fileID, "index", r.Index, "error", err)
	}
}

// emitProgress delivers req.OnProgress no more often than progressThrottle,
// computing speed and ETA guarded against division by zero.
func (m *Manager) emitProgress(req UploadRequest, s *model.UploadState, lastEmit *time.Time) {
	if req.OnProgress == nil {
		return
	}

	now := time.Now()
	if !lastEmit.IsZero() && now.Sub(*lastEmit) < progressThrottle {
		return
	}

	*lastEmit = now

	elapsed := now.Sub(s.StartTime).Seconds()

	var speed float64
	if elapsed > 0 {
		speed = float64(s.BytesUploaded) / elapsed
	}

	var eta time.Duration
	if speed > 0 {
		remaining := s.FileSize - s.BytesUploaded
		eta = time.Duration(float64(remaining)/speed) * time.Second
	}

	req.OnProgress(model.Progress{
		FileID:                 req.FileID,
		BytesUploaded:          s.BytesUploaded,
		TotalBytes:             s.FileSize,
		Speed:                  speed,
		EstimatedTimeRemaining: eta,
	})
}

// loadOrInitState loads fileID's persisted state if present and resumable,
// else initializes a fresh one from req.Source.
func (m *Manager) loadOrInitState(ctx context.Context, req UploadRequest) (*model.UploadState, error) {
	existing, err := m.states.GetUploadState(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("manager: loading state for %s: %w", req.FileID, err)
	}

	if existing != nil && existing.Status.IsResumable() {
		return existing, nil
	}

	s, err := m.states.InitializeState(ctx, req.FileID, req.FileName, req.FileSize, req.MimeType, io.NewSectionReader(req.Source, 0, req.FileSize))
	if err != nil {
		return nil, fmt.Errorf("manager: initializing state for %s: %w", req.FileID, err)
	}

	return s, nil
}

func (m *Manager) beginActive(ctx context.Context, fileID string) (context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[fileID]; ok {
		return nil, nil, ErrAlreadyUploading
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.active[fileID] = cancel

	return runCtx, cancel, nil
}

func (m *Manager) endActive(fileID string) {
	m.mu.Lock()
	delete(m.active, fileID)
	m.mu.Unlock()
}

// ResumeUpload resumes fileID's upload: rejects unless a prior state exists
// in a resumable status, then calls StartUpload with the same arguments.
func (m *Manager) ResumeUpload(ctx context.Context, req UploadRequest) error {
	s, err := m.states.GetUploadState(ctx, req.FileID)
	if err != nil {
		return fmt.Errorf("manager: loading state for %s: %w", req.FileID, err)
	}

	if s == nil || !s.Status.IsResumable() {
		return ErrNotResumable
	}

	return m.StartUpload(ctx, req)
}

// PauseUpload aborts fileID's in-flight pipeline (if any) and persists
// status=paused. The in-flight StartUpload call observes the cancellation
// and performs the persistence itself; PauseUpload only triggers it.
func (m *Manager) PauseUpload(fileID string) error {
	m.mu.Lock()
	cancel, ok := m.active[fileID]
	m.mu.Unlock()

	if !ok {
		return ErrNotActive
	}

	cancel()

	return nil
}

// CancelUpload pauses fileID's upload, then deletes its persisted state.
func (m *Manager) CancelUpload(ctx context.Context, fileID string) error {
	_ = m.PauseUpload(fileID) // best-effort; fileID may not be active

	return m.states.RemoveUploadState(ctx, fileID)
}
