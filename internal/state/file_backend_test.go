package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_SetGetRoundTrip(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k1", []byte("hello")))

	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFileBackend_GetMissingReturnsNilNil(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	got, err := b.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileBackend_Delete(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k1", []byte("hello")))
	require.NoError(t, b.Delete(ctx, "k1"))

	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileBackend_DeleteMissingIsNoop(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, b.Delete(context.Background(), "missing"))
}

func TestFileBackend_OverwriteUpdatesValue(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k1", []byte("first")))
	require.NoError(t, b.Set(ctx, "k1", []byte("second")))

	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}
