package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upload-engine/chunkup/internal/model"
)

func TestScheduler_GetNext_OrdersByPriorityThenRetriesThenStartTime(t *testing.T) {
	s := New(0)

	s.Enqueue("low", 1)
	s.Enqueue("high", 5)
	s.Enqueue("mid", 3)

	item, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "high", item.FileID)

	item, ok = s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "mid", item.FileID)

	item, ok = s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "low", item.FileID)
}

func TestScheduler_GetNext_FewerRetriesWinsAtEqualPriority(t *testing.T) {
	s := New(0)

	s.Enqueue("a", 1)
	s.Enqueue("b", 1)

	got, ok := s.GetNext() // pop "a" (earliest StartTime) to fail-and-retry it
	require.True(t, ok)
	require.Equal(t, "a", got.FileID)

	s.Fail(got.FileID, model.UploadStats{})
	_, ok = s.Retry(got.FileID)
	require.True(t, ok)

	item, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "b", item.FileID, "b has fewer retries than the just-retried a")
}

func TestScheduler_GetNext_RespectsConcurrencyCap(t *testing.T) {
	s := New(1)

	s.Enqueue("a", 1)
	s.Enqueue("b", 1)

	_, ok := s.GetNext()
	require.True(t, ok)

	_, ok = s.GetNext()
	assert.False(t, ok)
	assert.Equal(t, 1, s.ActiveCount())
}

func TestScheduler_Complete_FreesSlotAndRemovesEntry(t *testing.T) {
	s := New(1)
	s.Enqueue("a", 1)

	item, ok := s.GetNext()
	require.True(t, ok)

	s.Complete(item.FileID, model.UploadStats{TotalBytes: 100, UploadedBytes: 100})
	assert.Equal(t, 0, s.ActiveCount())

	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestScheduler_FailThenRetry_ReordersQueue(t *testing.T) {
	s := New(0)

	s.Enqueue("a", 1)
	item, ok := s.GetNext()
	require.True(t, ok)

	s.Fail(item.FileID, model.UploadStats{})
	assert.Equal(t, 0, s.ActiveCount())

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.QueueError, got.Status)

	retried, ok := s.Retry("a")
	require.True(t, ok)
	assert.Equal(t, 1, retried.RetryAttempts)
	assert.Equal(t, model.QueueQueued, retried.Status)

	next, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "a", next.FileID)
}

func TestScheduler_PauseQueuedThenResume(t *testing.T) {
	s := New(0)
	s.Enqueue("a", 1)

	paused, ok := s.Pause("a")
	require.True(t, ok)
	assert.Equal(t, model.QueuePaused, paused.Status)

	_, ok = s.GetNext()
	assert.False(t, ok, "a paused item must not be returned by GetNext")

	resumed, ok := s.Resume("a")
	require.True(t, ok)
	assert.Equal(t, model.QueueQueued, resumed.Status)

	next, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "a", next.FileID)
}

func TestScheduler_PauseUploadingReleasesActiveSlot(t *testing.T) {
	s := New(1)
	s.Enqueue("a", 1)

	_, ok := s.GetNext()
	require.True(t, ok)
	require.Equal(t, 1, s.ActiveCount())

	_, ok = s.Pause("a")
	require.True(t, ok)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestScheduler_Remove(t *testing.T) {
	s := New(0)
	s.Enqueue("a", 1)
	s.Enqueue("b", 1)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))

	item, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "b", item.FileID)
}

func TestScheduler_EnqueueIsIdempotentForTrackedFileID(t *testing.T) {
	s := New(0)
	s.Enqueue("a", 1)
	s.Enqueue("a", 9)

	item, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, item.Priority, "second Enqueue for a tracked fileID must not overwrite it")
}

func TestScheduler_EmitsEventPerMutation(t *testing.T) {
	s := New(0)

	var kinds []string
	s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	s.Enqueue("a", 1)
	item, _ := s.GetNext()
	s.Complete(item.FileID, model.UploadStats{})

	assert.Equal(t, []string{"enqueued", "started", "completed"}, kinds)
}

func TestScheduler_SetMaxConcurrentAppliesImmediately(t *testing.T) {
	s := New(1)
	s.Enqueue("a", 1)
	s.Enqueue("b", 1)

	_, ok := s.GetNext()
	require.True(t, ok)

	_, ok = s.GetNext()
	require.False(t, ok)

	s.SetMaxConcurrent(2)

	_, ok = s.GetNext()
	assert.True(t, ok)
}

func TestScheduler_StartTimeOrdersEqualPriorityRetries(t *testing.T) {
	s := New(0)
	s.nowFunc = fixedClock(time.Unix(100, 0))
	s.Enqueue("older", 1)

	s.nowFunc = fixedClock(time.Unix(200, 0))
	s.Enqueue("newer", 1)

	item, ok := s.GetNext()
	require.True(t, ok)
	assert.Equal(t, "older", item.FileID)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
