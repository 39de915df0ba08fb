// Package resultrouter de-muxes the shared result queue: many HTTP
// dispatchers wait concurrently on the same queue.Queue[*compress.Result],
// but a worker may finish job 7 before job 3, so whoever is waiting on
// 3 must not steal 7's result.
//
// A fixed side-cache that evicts the oldest unclaimed entry on
// overflow would leave that entry's waiter blocked forever. This
// package instead holds every unclaimed result in a map keyed by job
// id until its waiter arrives, or until the result goes stale from
// sitting unclaimed past staleAfter (a disconnected client's job).
package resultrouter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
)

// ErrTimeout is returned by WaitFor when no result for the requested
// job id arrives before the deadline.
var ErrTimeout = errors.New("resultrouter: wait timed out")

type pendingResult struct {
	result   *compress.Result
	storedAt time.Time
}

// Router matches worker results to waiting HTTP dispatchers by job id.
type Router struct {
	mu      sync.Mutex
	pending map[uint64]pendingResult
	waiters map[uint64]chan *compress.Result

	staleAfter time.Duration
	stop       chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Router. staleAfter bounds how long an unclaimed
// result (no waiter ever shows up, e.g. the client disconnected) is
// kept before the reaper frees it.
func New(staleAfter time.Duration) *Router {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Router{
		pending:    make(map[uint64]pendingResult),
		waiters:    make(map[uint64]chan *compress.Result),
		staleAfter: staleAfter,
		stop:       make(chan struct{}),
	}
}

// Pump continuously drains results from the worker pool's result
// queue and routes each to its waiter (or the pending table).
// Intended to run as its own goroutine for the process lifetime.
func (r *Router) Pump(results *queue.Queue[*compress.Result]) {
	r.wg.Add(1)
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		res, err := results.Pop()
		if err != nil {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		r.Dispatch(res)
	}
}

// Reap periodically evicts pending results that have sat unclaimed
// past staleAfter. Intended to run as its own goroutine.
func (r *Router) Reap(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.wg.Add(1)
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictStale()
		}
	}
}

// Stop halts Pump and Reap and waits for them to exit.
func (r *Router) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Dispatch routes a worker result to its waiter if one is registered,
// or stores it in the pending table until WaitFor claims it.
func (r *Router) Dispatch(res *compress.Result) {
	r.mu.Lock()
	if ch, ok := r.waiters[res.ID]; ok {
		delete(r.waiters, res.ID)
		r.mu.Unlock()
		ch <- res
		return
	}
	r.pending[res.ID] = pendingResult{result: res, storedAt: time.Now()}
	r.mu.Unlock()
}

// WaitFor blocks until the result for jobID is available, the
// timeout elapses, or ctx is cancelled.
func (r *Router) WaitFor(ctx context.Context, jobID uint64, timeout time.Duration) (*compress.Result, error) {
	r.mu.Lock()
	if p, ok := r.pending[jobID]; ok {
		delete(r.pending, jobID)
		r.mu.Unlock()
		return p.result, nil
	}
	ch := make(chan *compress.Result, 1)
	r.waiters[jobID] = ch
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		r.mu.Lock()
		delete(r.waiters, jobID)
		r.mu.Unlock()
		return nil, ErrTimeout
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, jobID)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (r *Router) evictStale() {
	cutoff := time.Now().Add(-r.staleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		if p.storedAt.Before(cutoff) {
			delete(r.pending, id)
		}
	}
}

// PendingCount reports how many results are currently held awaiting a
// waiter; exported for tests and diagnostics.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
