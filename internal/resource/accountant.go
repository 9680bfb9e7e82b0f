// Package resource implements the engine's Resource Accountant: scoped
// memory accounting for in-flight chunks, buffers, and worker allocations,
// with threshold-driven cleanup.
package resource

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/upload-engine/chunkup/internal/model"
)

// Disposer is implemented by resources that can release their own
// underlying storage on demand (e.g. a pooled buffer returning itself to
// a sync.Pool). Resources that don't implement it are still tracked and
// charged/credited, just never actively disposed by checkMemoryUsage.
type Disposer interface {
	Dispose()
}

// Thresholds expresses the warning/critical levels as fractions of
// MaxMemoryUsage.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// handleRecord is the accountant's bookkeeping for one live Handle.
type handleRecord struct {
	stats    model.ResourceStats
	disposer Disposer
}

// Accountant tracks allocated memory across all in-flight resources and
// enforces a configured budget via periodic threshold checks.
type Accountant struct {
	maxMemoryUsage int64
	thresholds     Thresholds
	logger         *slog.Logger

	mu             sync.Mutex
	handles        map[int64]*handleRecord
	nextID         int64
	totalAllocated int64
	peakMemoryUsage int64

	beforeGC []func()

	stop    chan struct{}
	stopped chan struct{}
}

// New creates an Accountant with the given budget and thresholds.
func New(maxMemoryUsage int64, thresholds Thresholds, logger *slog.Logger) *Accountant {
	return &Accountant{
		maxMemoryUsage: maxMemoryUsage,
		thresholds:     thresholds,
		logger:         logger,
		handles:        make(map[int64]*handleRecord),
	}
}

// Handle represents one scoped claim on the memory budget, acquired via
// Accountant.Acquire and returned via Release. Release is idempotent and
// safe to call from a defer; a runtime.AddCleanup finalizer is also
// registered as a backstop for handles a caller forgets to release.
type Handle struct {
	id int64
	a  *Accountant

	mu       sync.Mutex
	released bool
}

// Acquire registers a new resource of the given kind and size, charging it
// against the budget, and returns a Handle the caller must Release when
// done. disposer may be nil if the resource cannot dispose itself.
func (a *Accountant) Acquire(kind model.ResourceKind, size int64, metadata map[string]string, disposer Disposer) *Handle {
	a.mu.Lock()

	id := a.nextID
	a.nextID++

	a.handles[id] = &handleRecord{
		stats: model.ResourceStats{
			Type:      kind,
			Size:      size,
			CreatedAt: time.Now(),
			Metadata:  metadata,
		},
		disposer: disposer,
	}

	a.totalAllocated += size
	if a.totalAllocated > a.peakMemoryUsage {
		a.peakMemoryUsage = a.totalAllocated
	}

	a.mu.Unlock()

	h := &Handle{id: id, a: a}

	runtime.AddCleanup(h, func(a *Accountant) {
		a.releaseBackstop(id)
	}, a)

	return h
}

// Release credits the resource's size back to the budget and untracks it.
// Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	h.a.release(h.id)
}

// releaseBackstop is invoked by the runtime.AddCleanup finalizer for
// handles the caller never explicitly released. It logs, since reaching
// this path indicates a caller bug rather than a normal lifecycle.
func (a *Accountant) releaseBackstop(id int64) {
	a.mu.Lock()
	_, stillLive := a.handles[id]
	a.mu.Unlock()

	if !stillLive {
		return
	}

	if a.logger != nil {
		a.logger.Warn("resource: handle released via GC backstop, not explicitly", "handle_id", id)
	}

	a.release(id)
}

func (a *Accountant) release(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.handles[id]
	if !ok {
		return
	}

	delete(a.handles, id)
	a.totalAllocated -= rec.stats.Size
	if a.totalAllocated < 0 {
		a.totalAllocated = 0
	}
}

// ReleaseResource disposes of and untracks one resource by its handle id,
// regardless of current threshold state.
func (a *Accountant) ReleaseResource(h *Handle) {
	a.mu.Lock()
	rec, ok := a.handles[h.id]
	a.mu.Unlock()

	if ok && rec.disposer != nil {
		rec.disposer.Dispose()
	}

	h.Release()
}

// Stats summarizes the accountant's current state.
type Stats struct {
	TotalAllocated  int64
	ActiveResources int
	PeakMemoryUsage int64
}

// Stats returns a snapshot of current allocation state.
func (a *Accountant) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		TotalAllocated:  a.totalAllocated,
		ActiveResources: len(a.handles),
		PeakMemoryUsage: a.peakMemoryUsage,
	}
}

// RegisterBeforeGC registers a callback run by checkMemoryUsage whenever
// usage crosses the warning or critical threshold.
func (a *Accountant) RegisterBeforeGC(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.beforeGC = append(a.beforeGC, fn)
}

// StartMonitor runs checkMemoryUsage every interval until ctx is canceled
// or Stop is called.
func (a *Accountant) StartMonitor(ctx context.Context, interval time.Duration) {
	a.stop = make(chan struct{})
	a.stopped = make(chan struct{})

	go func() {
		defer close(a.stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			case <-ticker.C:
				a.checkMemoryUsage()
			}
		}
	}()
}

// Stop stops the monitor loop started by StartMonitor and waits for it to
// exit. Safe to call even if StartMonitor was never called.
func (a *Accountant) Stop() {
	if a.stop == nil {
		return
	}

	close(a.stop)
	<-a.stopped
}

// checkMemoryUsage runs the warning/critical threshold logic: above
// critical, every before-GC callback runs and then every tracked
// Disposer-capable resource is disposed and released; above warning only,
// the callbacks run.
func (a *Accountant) checkMemoryUsage() {
	a.mu.Lock()
	total := a.totalAllocated
	warningLevel := int64(float64(a.maxMemoryUsage) * a.thresholds.Warning)
	criticalLevel := int64(float64(a.maxMemoryUsage) * a.thresholds.Critical)
	callbacks := append([]func(){}, a.beforeGC...)

	var toDispose []int64
	if total >= criticalLevel {
		for id, rec := range a.handles {
			if rec.disposer != nil {
				toDispose = append(toDispose, id)
			}
		}
	}
	a.mu.Unlock()

	if total < warningLevel {
		return
	}

	for _, cb := range callbacks {
		cb()
	}

	for _, id := range toDispose {
		a.mu.Lock()
		rec, ok := a.handles[id]
		a.mu.Unlock()

		if !ok {
			continue
		}

		rec.disposer.Dispose()
		a.release(id)
	}
}
