// Package queue implements the queue scheduler (C12): a priority queue of
// files ordered by (priority desc, retryAttempts asc, startTime asc) with a
// global concurrency cap, grounded on the container/heap wrapper pattern
// Sia's upload heap uses (activeChunks map + mutex-guarded heap.Interface).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/upload-engine/chunkup/internal/model"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind   string // "enqueued", "started", "completed", "failed", "retried", "paused", "removed"
	FileID string
	Item   model.QueueItem
}

// Scheduler is the priority queue over model.QueueItem, safe for concurrent
// use. getNext only returns an item while active < maxConcurrent.
type Scheduler struct {
	mu            sync.Mutex
	items         itemHeap
	index         map[string]*entry
	active        int
	maxConcurrent int
	subs          []func(Event)
	nowFunc       func() time.Time
}

// entry wraps a QueueItem with its heap position, the same
// activeChunks-map-plus-heap-slot bookkeeping the grounding example uses to
// support O(log n) removal by key.
type entry struct {
	item   model.QueueItem
	pos    int
	inHeap bool
}

type itemHeap []*entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].item, h[j].item

	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}

	if a.RetryAttempts != b.RetryAttempts {
		return a.RetryAttempts < b.RetryAttempts // fewer retries first
	}

	return a.StartTime.Before(b.StartTime) // earlier enqueue first
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *itemHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	e.inHeap = true
	*h = append(*h, e)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.inHeap = false
	*h = old[:n-1]

	return e
}

// New creates a Scheduler with the given global concurrency cap.
// maxConcurrent <= 0 means unlimited.
func New(maxConcurrent int) *Scheduler {
	return &Scheduler{
		index:         make(map[string]*entry),
		maxConcurrent: maxConcurrent,
		nowFunc:       time.Now,
	}
}

// Subscribe registers fn to receive an Event after every mutation.
func (s *Scheduler) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, fn)
}

// SetMaxConcurrent updates the global concurrency cap, e.g. on a live
// config reload (spec.md §5.4).
func (s *Scheduler) SetMaxConcurrent(maxConcurrent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxConcurrent = maxConcurrent
}

// Enqueue adds fileID at priority, queued, startTime now. Re-enqueuing an
// already-tracked fileID is a no-op.
func (s *Scheduler) Enqueue(fileID string, priority int) model.QueueItem {
	s.mu.Lock()

	if e, ok := s.index[fileID]; ok {
		item := e.item
		s.mu.Unlock()

		return item
	}

	e := &entry{item: model.QueueItem{
		FileID:    fileID,
		Priority:  priority,
		Status:    model.QueueQueued,
		StartTime: s.nowFunc(),
	}}

	s.index[fileID] = e
	heap.Push(&s.items, e)

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "enqueued", FileID: fileID, Item: item})

	return item
}

// GetNext pops the highest-priority queued item and transitions it to
// uploading, but only while active < maxConcurrent (unlimited if <= 0). It
// returns (model.QueueItem{}, false) when nothing is eligible.
func (s *Scheduler) GetNext() (model.QueueItem, bool) {
	s.mu.Lock()

	if s.maxConcurrent > 0 && s.active >= s.maxConcurrent {
		s.mu.Unlock()
		return model.QueueItem{}, false
	}

	next := s.popQueued()
	if next == nil {
		s.mu.Unlock()
		return model.QueueItem{}, false
	}

	next.item.Status = model.QueueUploading
	s.active++

	item := next.item
	s.mu.Unlock()

	s.emit(Event{Kind: "started", FileID: item.FileID, Item: item})

	return item, true
}

// popQueued removes and returns the top-priority entry still in QueueQueued
// status, re-pushing any non-queued entries the heap pop exposes along the
// way (entries change status in place without leaving the heap, so the root
// is not guaranteed queued if a peer just transitioned).
func (s *Scheduler) popQueued() *entry {
	var skipped []*entry

	var found *entry

	for s.items.Len() > 0 {
		e := heap.Pop(&s.items).(*entry)
		if e.item.Status == model.QueueQueued {
			found = e
			break
		}

		skipped = append(skipped, e)
	}

	for _, e := range skipped {
		heap.Push(&s.items, e)
	}

	return found
}

// Complete marks fileID completed, decrements the active counter, and
// removes it from the index (completed items are no longer scheduled).
func (s *Scheduler) Complete(fileID string, stats model.UploadStats) {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}

	e.item.Status = model.QueueCompleted
	e.item.Stats = stats
	s.active--
	delete(s.index, fileID)

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "completed", FileID: fileID, Item: item})
}

// Fail marks fileID errored and decrements the active counter. The entry
// stays in the index (and out of the heap) so callers can still inspect its
// last status via Get; use Retry to re-enqueue it.
func (s *Scheduler) Fail(fileID string, stats model.UploadStats) {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}

	e.item.Status = model.QueueError
	e.item.Stats = stats
	s.active--

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "failed", FileID: fileID, Item: item})
}

// Retry re-queues a failed fileID: increments RetryAttempts, resets
// StartTime, and re-inserts it into the heap so ordering reflects the new
// retryAttempts/startTime.
func (s *Scheduler) Retry(fileID string) (model.QueueItem, bool) {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok {
		s.mu.Unlock()
		return model.QueueItem{}, false
	}

	e.item.RetryAttempts++
	e.item.StartTime = s.nowFunc()
	e.item.Status = model.QueueQueued
	heap.Push(&s.items, e)

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "retried", FileID: fileID, Item: item})

	return item, true
}

// Pause transitions a queued or uploading fileID to paused. An uploading
// item being paused releases its active slot.
func (s *Scheduler) Pause(fileID string) (model.QueueItem, bool) {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok {
		s.mu.Unlock()
		return model.QueueItem{}, false
	}

	wasUploading := e.item.Status == model.QueueUploading
	e.item.Status = model.QueuePaused

	if wasUploading {
		s.active--
	} else if e.inHeap {
		heap.Remove(&s.items, e.pos)
	}

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "paused", FileID: fileID, Item: item})

	return item, true
}

// Resume transitions a paused fileID back to queued and re-inserts it into
// the heap.
func (s *Scheduler) Resume(fileID string) (model.QueueItem, bool) {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok || e.item.Status != model.QueuePaused {
		s.mu.Unlock()
		return model.QueueItem{}, false
	}

	e.item.Status = model.QueueQueued
	heap.Push(&s.items, e)

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "enqueued", FileID: fileID, Item: item})

	return item, true
}

// Remove drops fileID from the queue entirely, releasing its active slot if
// it was uploading.
func (s *Scheduler) Remove(fileID string) bool {
	s.mu.Lock()

	e, ok := s.index[fileID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if e.item.Status == model.QueueUploading {
		s.active--
	}

	if e.inHeap {
		heap.Remove(&s.items, e.pos)
	}

	delete(s.index, fileID)

	item := e.item
	s.mu.Unlock()

	s.emit(Event{Kind: "removed", FileID: fileID, Item: item})

	return true
}

// Get returns fileID's current QueueItem, if tracked.
func (s *Scheduler) Get(fileID string) (model.QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[fileID]
	if !ok {
		return model.QueueItem{}, false
	}

	return e.item, true
}

// List returns every tracked item, in no particular order.
func (s *Scheduler) List() []model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.QueueItem, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, e.item)
	}

	return out
}

// ActiveCount returns the number of items currently in QueueUploading.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

func (s *Scheduler) emit(ev Event) {
	s.mu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(ev)
	}
}
