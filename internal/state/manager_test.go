package state

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upload-engine/chunkup/internal/model"
)

func testManager(t *testing.T) *Manager {
	t.Helper()

	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	return NewManager(b, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestManager_InitializeState(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.InitializeState(ctx, "file-1", "report.csv", 100, "text/csv", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusInitialized, s.Status)
	assert.NotEmpty(t, s.ResumeToken)
	assert.NotEmpty(t, s.Checksum)

	got, err := m.GetUploadState(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, s.Checksum, got.Checksum)
}

func TestManager_CanResume(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	ok, err := m.CanResume(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	ok, err = m.CanResume(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_CanResume_CompletedIsFalse(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	s.Status = model.StatusCompleted
	require.NoError(t, m.SaveUploadState(ctx, s))

	ok, err := m.CanResume(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_GetResumableChunks(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	s.TotalChunks = 5
	s.UploadedChunks[1] = true
	s.UploadedChunks[3] = true
	require.NoError(t, m.SaveUploadState(ctx, s))

	remaining, err := m.GetResumableChunks(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, remaining)
}

func TestManager_RemoveUploadState(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, m.RemoveUploadState(ctx, "file-1"))

	got, err := m.GetUploadState(ctx, "file-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_ChunkState_RoundTrip(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	cs := &model.ChunkState{Index: 2, Size: 100, Checksum: "abc"}
	require.NoError(t, m.SaveChunkState(ctx, "file-1", cs))

	got, err := m.GetChunkState(ctx, "file-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Checksum)
}

func TestManager_CacheHitAvoidsBackend(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	// Corrupt the backend directly; the cache should still serve the value.
	require.NoError(t, m.backend.Set(ctx, uploadStateKey("file-1"), []byte("not json")))

	got, err := m.GetUploadState(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, s.Checksum, got.Checksum)
}

func TestManager_Autosave_FlushesPeriodically(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	m := NewManager(b, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAutosave(ctx)
	defer m.StopAutosave()

	_, err = m.InitializeState(ctx, "file-1", "a.bin", 10, "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	// Directly bypass the write-through save to prove autosave, not the
	// initial save, is what flushes this mutation.
	m.mu.Lock()
	m.uploadStates["file-1"].BytesUploaded = 42
	m.mu.Unlock()

	time.Sleep(60 * time.Millisecond)

	raw, err := b.Get(ctx, uploadStateKey("file-1"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bytes_uploaded":42`)
}
