package compressor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ozontech/rrelay/relay/framepool"
)

// WorkerError carries a failure of one compression rank to the barrier.
type WorkerError struct {
	Rank int
	Err  error
}

func (e WorkerError) Error() string {
	return fmt.Sprintf("compression worker %d: %s", e.Rank, e.Err)
}

func (e WorkerError) Unwrap() error { return e.Err }

type job struct {
	ctx       context.Context
	cur, prev *framepool.FrameBuffer
}

type result struct {
	Result
	err error
}

// Worker runs a non-aggregating StripCompressor on its own goroutine.
// Go starts a pass, Wait is the barrier that returns its outcome.
type Worker struct {
	c       *StripCompressor
	jobs    chan job
	results chan result
	done    chan struct{}
	log     *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
}

func NewWorker(c *StripCompressor) *Worker {
	return &Worker{
		c:       c,
		jobs:    make(chan job, 1),
		results: make(chan result, 1),
		done:    make(chan struct{}),
		log:     c.log,
	}
}

func (w *Worker) Compressor() *StripCompressor { return w.c }

// Run processes jobs until Stop. It returns at once when called a second time
// or after Stop.
func (w *Worker) Run() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)
	defer w.log.Debug("worker stopped")

	for j := range w.jobs {
		w.results <- w.compress(j)
	}
}

func (w *Worker) compress(j job) (r result) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		w.log.Error("compression panicked", zap.Any("panic", p))
		r.err = fmt.Errorf("panic: %v", p)
	}()

	r.Result, r.err = w.c.Compress(j.ctx, j.cur, j.prev)
	return r
}

// Go starts a compression pass of cur against prev. Every Go must be paired
// with a Wait before the next Go.
func (w *Worker) Go(ctx context.Context, cur, prev *framepool.FrameBuffer) {
	w.jobs <- job{ctx, cur, prev}
}

// Wait blocks until the pass started by Go has finished. Once it returns the
// worker no longer reads either frame.
func (w *Worker) Wait() (Result, error) {
	r := <-w.results
	if r.err != nil {
		return r.Result, WorkerError{Rank: w.c.Rank(), Err: r.err}
	}
	return r.Result, nil
}

// Stop ends Run once the current pass, if any, has been waited for. A worker
// that was never run is marked done right away. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.jobs)
		if w.started.CompareAndSwap(false, true) {
			close(w.done)
		}
	})
	<-w.done
}
