package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectResults(t *testing.T, p *Pool, n int) []Result {
	t.Helper()

	var got []Result

	for range n {
		select {
		case r := <-p.Results():
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for result")
		}
	}

	return got
}

func TestPool_SuccessfulTask(t *testing.T) {
	p := New(2, func(ctx context.Context, task Task) (any, error) {
		return task.Payload, nil
	}, time.Second, 2, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "a", Kind: KindHash, Payload: 42})

	results := collectResults(t, p, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 42, results[0].Value)
}

func TestPool_RetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts atomic.Int32

	p := New(1, func(ctx context.Context, task Task) (any, error) {
		n := attempts.Add(1)
		if n < 3 {
			return nil, errors.New("transient")
		}

		return "ok", nil
	}, time.Second, 5, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "a", Kind: KindValidate})

	results := collectResults(t, p, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "ok", results[0].Value)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPool_RejectsAfterExhaustingRetries(t *testing.T) {
	p := New(1, func(ctx context.Context, task Task) (any, error) {
		return nil, errors.New("permanent failure")
	}, time.Second, 2, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "a", Kind: KindCompress})

	results := collectResults(t, p, 1)
	require.Error(t, results[0].Err)
}

func TestPool_TaskTimeoutCountsAsFailure(t *testing.T) {
	p := New(1, func(ctx context.Context, task Task) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond, 0, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "a", Kind: KindHash})

	results := collectResults(t, p, 1)
	require.Error(t, results[0].Err)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	p := New(1, func(ctx context.Context, task Task) (any, error) {
		panic("boom")
	}, time.Second, 1, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "a", Kind: KindHash})

	results := collectResults(t, p, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, 2, p.CrashedWorkers())
}

func TestPool_FIFOOrderRespected(t *testing.T) {
	var order []string
	done := make(chan struct{})

	p := New(1, func(ctx context.Context, task Task) (any, error) {
		order = append(order, task.ID)
		if len(order) == 3 {
			close(done)
		}

		return nil, nil
	}, time.Second, 0, nil)
	defer p.Dispose()

	p.Submit(Task{ID: "1"})
	p.Submit(Task{ID: "2"})
	p.Submit(Task{ID: "3"})

	collectResults(t, p, 3)
	<-done

	assert.Equal(t, []string{"1", "2", "3"}, order)
}

func TestPool_DisposeRejectsPendingTasks(t *testing.T) {
	block := make(chan struct{})

	p := New(1, func(ctx context.Context, task Task) (any, error) {
		if task.ID == "running" {
			<-block
		}

		return nil, nil
	}, 0, 0, nil)

	p.Submit(Task{ID: "running"})
	p.Submit(Task{ID: "queued"})

	time.Sleep(20 * time.Millisecond) // let "running" start and "queued" land in the queue

	disposeDone := make(chan struct{})

	go func() {
		p.Dispose()
		close(disposeDone)
	}()

	time.Sleep(20 * time.Millisecond) // Dispose should be blocked in wg.Wait()
	close(block)                      // let "running" finish so the worker loop can exit

	select {
	case <-disposeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose did not return")
	}

	var got []Result
	for r := range p.Results() {
		got = append(got, r)
	}

	var sawRejected bool

	for _, r := range got {
		if r.Task.ID == "queued" && errors.Is(r.Err, ErrDisposed) {
			sawRejected = true
		}
	}

	assert.True(t, sawRejected)
}

func TestDefaultWorkerCount_ClampsToCores(t *testing.T) {
	n := DefaultWorkerCount(1_000_000)
	assert.LessOrEqual(t, n, 1_000_000)
	assert.Greater(t, n, 0)
}

func TestPool_DoReturnsMatchingResult(t *testing.T) {
	p := New(2, func(ctx context.Context, task Task) (any, error) {
		return task.Payload.(int) * 2, nil
	}, time.Second, 0, nil)
	defer p.Dispose()

	v, err := p.Do(context.Background(), Task{ID: "double-1", Kind: KindHash, Payload: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPool_DoPropagatesHandlerError(t *testing.T) {
	wantErr := errors.New("boom")

	p := New(1, func(ctx context.Context, task Task) (any, error) {
		return nil, wantErr
	}, time.Second, 0, nil)
	defer p.Dispose()

	_, err := p.Do(context.Background(), Task{ID: "fail-1", Kind: KindHash})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestPool_DoCanceledContextReturnsCtxErr(t *testing.T) {
	block := make(chan struct{})

	p := New(1, func(ctx context.Context, task Task) (any, error) {
		<-block
		return nil, nil
	}, 0, 0, nil)
	defer func() {
		close(block)
		p.Dispose()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Do(ctx, Task{ID: "slow-1", Kind: KindHash})
	assert.ErrorIs(t, err, context.Canceled)
}
