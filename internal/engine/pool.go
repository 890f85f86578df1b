package engine

import (
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("engine: pool closed")

// DefaultWorkers returns the default pool size, 2*NumCPU+1.
func DefaultWorkers() int {
	return runtime.NumCPU()*2 + 1
}

// Pool runs tasks on a fixed number of goroutines fed by an unbounded FIFO
// queue. Submit never blocks.
type Pool struct {
	queue   *taskQueue
	workers int
	wg      sync.WaitGroup
	once    sync.Once
	active  atomic.Int64
	done    atomic.Int64
	logger  *slog.Logger
}

// NewPool starts a pool with n workers (DefaultWorkers if n <= 0).
func NewPool(n int, logger *slog.Logger) *Pool {
	if n <= 0 {
		n = DefaultWorkers()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pool{
		queue:   newTaskQueue(),
		workers: n,
		logger:  logger,
	}
	p.wg.Add(n)
	for range n {
		go p.worker()
	}
	return p
}

// Submit enqueues fn. It returns ErrPoolClosed after Close.
func (p *Pool) Submit(fn func()) error {
	if !p.queue.push(fn) {
		return ErrPoolClosed
	}
	return nil
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(p.queue.close)
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Pending returns the number of queued tasks not yet started.
func (p *Pool) Pending() int { return p.queue.len() }

// Active returns the number of tasks currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Completed returns the number of tasks that have finished.
func (p *Pool) Completed() int64 { return p.done.Load() }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		fn, ok := p.queue.pop()
		if !ok {
			return
		}
		p.run(fn)
	}
}

func (p *Pool) run(fn func()) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.done.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("panic recovered in pool task", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
