package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upload-engine/chunkup/internal/model"
)

func uploadStateKey(fileID string) string {
	return "upload_state_" + fileID
}

// indexKey stores the JSON array of every fileID ever saved through
// SaveUploadState. FileBackend keys are sha256-hashed filenames, so this
// index is the only way the CLI's status/queue commands and the session
// TTL sweep can enumerate known uploads.
const indexKey = "upload_index"

func chunkStateKey(fileID string, index int) string {
	return fmt.Sprintf("chunk_state_%s_%d", fileID, index)
}

func chunkCacheKey(fileID string, index int) string {
	return chunkStateKey(fileID, index)
}

// Manager wraps a Backend with a write-through in-memory cache and an
// autosave loop. Every SaveUploadState/SaveChunkState call updates the
// cache and the backend together; every Get checks the cache first.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu           sync.RWMutex
	uploadStates map[string]*model.UploadState
	chunkStates  map[string]*model.ChunkState

	autosaveInterval time.Duration
	stop             chan struct{}
	stopped          chan struct{}
}

// NewManager creates a Manager over backend. autosaveInterval <= 0
// disables the autosave loop (Start becomes a no-op).
func NewManager(backend Backend, autosaveInterval time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		backend:          backend,
		logger:           logger,
		uploadStates:     make(map[string]*model.UploadState),
		chunkStates:      make(map[string]*model.ChunkState),
		autosaveInterval: autosaveInterval,
	}
}

// StartAutosave runs a ticker loop that flushes every in-memory state to
// the backend every autoSaveInterval, until ctx is canceled or Stop is
// called. It is a no-op if autosaveInterval <= 0.
func (m *Manager) StartAutosave(ctx context.Context) {
	if m.autosaveInterval <= 0 {
		return
	}

	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})

	go func() {
		defer close(m.stopped)

		ticker := time.NewTicker(m.autosaveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.flush(ctx)
			}
		}
	}()
}

// StopAutosave stops the autosave loop started by StartAutosave and waits
// for it to exit. Safe to call even if StartAutosave was never called.
func (m *Manager) StopAutosave() {
	if m.stop == nil {
		return
	}

	close(m.stop)
	<-m.stopped
}

func (m *Manager) flush(ctx context.Context) {
	m.mu.RLock()
	uploads := make([]*model.UploadState, 0, len(m.uploadStates))
	for _, s := range m.uploadStates {
		uploads = append(uploads, s)
	}

	chunks := make([]*model.ChunkState, 0, len(m.chunkStates))
	chunkFileIDs := make([]string, 0, len(m.chunkStates))

	for key, cs := range m.chunkStates {
		chunks = append(chunks, cs)
		chunkFileIDs = append(chunkFileIDs, key)
	}
	m.mu.RUnlock()

	for _, s := range uploads {
		if err := m.persistUploadState(ctx, s); err != nil {
			m.logger.Warn("state: autosave failed for upload state", "file_id", s.FileID, "error", err)
		}
	}

	for i, cs := range chunks {
		if err := m.persistChunkStateRaw(ctx, chunkFileIDs[i], cs); err != nil {
			m.logger.Warn("state: autosave failed for chunk state", "key", chunkFileIDs[i], "error", err)
		}
	}
}

// SaveUploadState updates the in-memory cache and the backend.
func (m *Manager) SaveUploadState(ctx context.Context, s *model.UploadState) error {
	m.mu.Lock()
	m.uploadStates[s.FileID] = s.Clone()
	m.mu.Unlock()

	if err := m.persistUploadState(ctx, s); err != nil {
		return err
	}

	return m.addToIndex(ctx, s.FileID)
}

func (m *Manager) persistUploadState(ctx context.Context, s *model.UploadState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: marshaling upload state %s: %w", s.FileID, err)
	}

	if err := m.backend.Set(ctx, uploadStateKey(s.FileID), data); err != nil {
		return fmt.Errorf("state: persisting upload state %s: %w", s.FileID, err)
	}

	return nil
}

// GetUploadState checks the in-memory cache first, then the backend.
func (m *Manager) GetUploadState(ctx context.Context, fileID string) (*model.UploadState, error) {
	m.mu.RLock()
	if s, ok := m.uploadStates[fileID]; ok {
		m.mu.RUnlock()
		return s.Clone(), nil
	}
	m.mu.RUnlock()

	data, err := m.backend.Get(ctx, uploadStateKey(fileID))
	if err != nil {
		return nil, fmt.Errorf("state: loading upload state %s: %w", fileID, err)
	}

	if data == nil {
		return nil, nil
	}

	var s model.UploadState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: unmarshaling upload state %s: %w", fileID, err)
	}

	m.mu.Lock()
	m.uploadStates[fileID] = s.Clone()
	m.mu.Unlock()

	return &s, nil
}

// RemoveUploadState deletes a file's upload state from both the cache and
// the backend. Used only on explicit cancel-and-forget.
func (m *Manager) RemoveUploadState(ctx context.Context, fileID string) error {
	m.mu.Lock()
	delete(m.uploadStates, fileID)
	m.mu.Unlock()

	if err := m.backend.Delete(ctx, uploadStateKey(fileID)); err != nil {
		return fmt.Errorf("state: removing upload state %s: %w", fileID, err)
	}

	return m.removeFromIndex(ctx, fileID)
}

// ListFileIDs returns every fileID with a saved upload state, in the order
// they were first saved.
func (m *Manager) ListFileIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.loadIndexLocked(ctx)
}

func (m *Manager) loadIndexLocked(ctx context.Context) ([]string, error) {
	data, err := m.backend.Get(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("state: loading upload index: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("state: unmarshaling upload index: %w", err)
	}

	return ids, nil
}

func (m *Manager) addToIndex(ctx context.Context, fileID string) error {
	ids, err := m.loadIndexLocked(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == fileID {
			return nil
		}
	}

	return m.writeIndex(ctx, append(ids, fileID))
}

func (m *Manager) removeFromIndex(ctx context.Context, fileID string) error {
	ids, err := m.loadIndexLocked(ctx)
	if err != nil {
		return err
	}

	kept := ids[:0]
	for _, id := range ids {
		if id != fileID {
			kept = append(kept, id)
		}
	}

	return m.writeIndex(ctx, kept)
}

func (m *Manager) writeIndex(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("state: marshaling upload index: %w", err)
	}

	if err := m.backend.Set(ctx, indexKey, data); err != nil {
		return fmt.Errorf("state: persisting upload index: %w", err)
	}

	return nil
}

// SaveChunkState updates the in-memory cache and the backend for one
// chunk's state.
func (m *Manager) SaveChunkState(ctx context.Context, fileID string, cs *model.ChunkState) error {
	key := chunkCacheKey(fileID, cs.Index)

	m.mu.Lock()
	m.chunkStates[key] = cs
	m.mu.Unlock()

	return m.persistChunkStateRaw(ctx, key, cs)
}

func (m *Manager) persistChunkStateRaw(ctx context.Context, key string, cs *model.ChunkState) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("state: marshaling chunk state %s: %w", key, err)
	}

	if err := m.backend.Set(ctx, key, data); err != nil {
		return fmt.Errorf("state: persisting chunk state %s: %w", key, err)
	}

	return nil
}

// GetChunkState checks the in-memory cache first, then the backend.
func (m *Manager) GetChunkState(ctx context.Context, fileID string, index int) (*model.ChunkState, error) {
	key := chunkCacheKey(fileID, index)

	m.mu.RLock()
	if cs, ok := m.chunkStates[key]; ok {
		m.mu.RUnlock()
		return cs, nil
	}
	m.mu.RUnlock()

	data, err := m.backend.Get(ctx, chunkStateKey(fileID, index))
	if err != nil {
		return nil, fmt.Errorf("state: loading chunk state %s: %w", key, err)
	}

	if data == nil {
		return nil, nil
	}

	var cs model.ChunkState
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("state: unmarshaling chunk state %s: %w", key, err)
	}

	m.mu.Lock()
	m.chunkStates[key] = &cs
	m.mu.Unlock()

	return &cs, nil
}

// InitializeState computes the whole-file SHA-256 of r, mints a fresh
// resume token, and persists a freshly initialized UploadState. Callers
// set TotalChunks once the chunker has determined it.
func (m *Manager) InitializeState(ctx context.Context, fileID, fileName string, fileSize int64, mimeType string, r io.Reader) (*model.UploadState, error) {
	sum := sha256.New()

	if _, err := io.Copy(sum, r); err != nil {
		return nil, fmt.Errorf("state: hashing file %s: %w", fileName, err)
	}

	now := time.Now()

	s := &model.UploadState{
		FileID:         fileID,
		FileName:       fileName,
		FileSize:       fileSize,
		MimeType:       mimeType,
		UploadedChunks: make(map[int]bool),
		StartTime:      now,
		LastUpdateTime: now,
		Status:         model.StatusInitialized,
		ResumeToken:    uuid.NewString(),
		Checksum:       hex.EncodeToString(sum.Sum(nil)),
	}

	if err := m.SaveUploadState(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// CanResume reports whether fileID has a state in a resumable status.
func (m *Manager) CanResume(ctx context.Context, fileID string) (bool, error) {
	s, err := m.GetUploadState(ctx, fileID)
	if err != nil {
		return false, err
	}

	if s == nil {
		return false, nil
	}

	return s.Status.IsResumable(), nil
}

// GetResumableChunks returns {0..totalChunks-1} \ uploadedChunks for
// fileID, or nil if no state exists.
func (m *Manager) GetResumableChunks(ctx context.Context, fileID string) ([]int, error) {
	s, err := m.GetUploadState(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if s == nil {
		return nil, nil
	}

	return s.ResumableChunks(), nil
}

// Close stops the autosave loop (if running) and closes the backend.
func (m *Manager) Close() error {
	m.StopAutosave()
	return m.backend.Close()
}

// SweepExpired removes every terminal (completed or failed) upload state
// whose LastUpdateTime is older than ttl, returning the fileIDs it
// removed. Active and paused uploads are never swept regardless of age.
func (m *Manager) SweepExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	ids, err := m.ListFileIDs(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-ttl)

	var removed []string

	for _, id := range ids {
		s, err := m.GetUploadState(ctx, id)
		if err != nil || s == nil {
			continue
		}

		if !s.Status.IsTerminal() || s.LastUpdateTime.After(cutoff) {
			continue
		}

		if err := m.RemoveUploadState(ctx, id); err != nil {
			m.logger.Warn("state: sweep failed to remove expired state", "file_id", id, "error", err)

			continue
		}

		removed = append(removed, id)
	}

	return removed, nil
}
