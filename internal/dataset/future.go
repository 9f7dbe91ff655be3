// Package dataset provides the backing-array side of the navigation pipeline:
// signals (lazy or materialized chunked arrays), the future/executor machinery
// used for non-blocking chunk fetches, and the signal tree of derived data.
package dataset

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ErrCancelled marks a fetch that was abandoned before completion. Callers
// treat it as a silent no-op, never a hard failure.
var ErrCancelled = errors.New("dataset: fetch cancelled")

// ErrExecutorClosed is returned for work submitted after Close.
var ErrExecutorClosed = errors.New("dataset: executor closed")

var futureSeq atomic.Int64

// Future is a handle to an asynchronous chunk computation. Only its identity
// token is ever compared by the pipeline; two futures never share an ID within
// a process.
type Future struct {
	id   int64
	done chan struct{}
	once sync.Once

	val *ndarray.Array
	err error
}

// NewFuture returns an unresolved future. Complete must be called exactly once.
func NewFuture() *Future {
	return &Future{id: futureSeq.Add(1), done: make(chan struct{})}
}

// NewResolvedFuture returns a future that is already done.
func NewResolvedFuture(val *ndarray.Array, err error) *Future {
	f := NewFuture()
	f.Complete(val, err)
	return f
}

// ID returns the future's identity token.
func (f *Future) ID() int64 { return f.id }

// IsDone reports whether the result is available.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves, then returns its value or error.
func (f *Future) Result() (*ndarray.Array, error) {
	<-f.done
	return f.val, f.err
}

// Complete resolves the future. Later calls are ignored.
func (f *Future) Complete(val *ndarray.Array, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Cancel resolves the future with ErrCancelled if it has not completed.
func (f *Future) Cancel() {
	f.Complete(nil, ErrCancelled)
}

type execTask struct {
	fn  func() (*ndarray.Array, error)
	fut *Future
}

// Executor runs chunk computations on a fixed pool of workers. It stands in
// for the distributed scheduler the display layer talks to: Submit never
// blocks the caller beyond a channel send to an idle pool.
type Executor struct {
	tasks  chan execTask
	wg     sync.WaitGroup
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewExecutor starts workers goroutines servicing submitted computations.
// If workers < 1 a single worker is used. Logger may be nil.
func NewExecutor(workers int, logger *log.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Executor{
		tasks:  make(chan execTask, workers*4),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for t := range e.tasks {
		val, err := t.fn()
		t.fut.Complete(val, err)
	}
}

// Submit schedules fn and returns a future for its result. Work submitted
// after Close resolves immediately with ErrExecutorClosed.
func (e *Executor) Submit(fn func() (*ndarray.Array, error)) *Future {
	fut := NewFuture()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		fut.Complete(nil, ErrExecutorClosed)
		return fut
	}
	e.tasks <- execTask{fn: fn, fut: fut}
	e.mu.Unlock()
	return fut
}

// Close stops accepting work and waits for in-flight computations to finish.
// Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()
	e.wg.Wait()
}
