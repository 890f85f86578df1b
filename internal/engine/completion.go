package engine

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Completion delivers callbacks on a single goroutine, one at a time, in the
// order they were posted.
type Completion struct {
	queue     *taskQueue
	done      chan struct{}
	once      sync.Once
	delivered atomic.Int64
	logger    *slog.Logger
}

// NewCompletion starts the delivery goroutine.
func NewCompletion(logger *slog.Logger) *Completion {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Completion{
		queue:  newTaskQueue(),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.loop()
	return c
}

// Post schedules fn. It reports false once Close has been called.
func (c *Completion) Post(fn func()) bool {
	return c.queue.push(fn)
}

// Close delivers everything already posted, then stops the goroutine.
func (c *Completion) Close() {
	c.once.Do(c.queue.close)
	<-c.done
}

// Delivered returns the number of callbacks run so far.
func (c *Completion) Delivered() int64 { return c.delivered.Load() }

// Pending returns the number of callbacks waiting for delivery.
func (c *Completion) Pending() int { return c.queue.len() }

func (c *Completion) loop() {
	defer close(c.done)
	for {
		fn, ok := c.queue.pop()
		if !ok {
			return
		}
		c.run(fn)
	}
}

func (c *Completion) run(fn func()) {
	defer func() {
		c.delivered.Add(1)
		if r := recover(); r != nil {
			// A misbehaving consumer must not stop delivery to the others.
			c.logger.Error("panic recovered in completion callback", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
