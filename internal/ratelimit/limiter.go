package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"NewsPipeline/internal/ports"
)

// Limiter dispatches queued calls one at a time, each starting at least the
// configured interval after the previous dispatch. Multiple producers may
// enqueue concurrently; calls run strictly in arrival order. The drain
// goroutine exists only while the queue is non-empty.
type Limiter struct {
	interval time.Duration

	mu       sync.Mutex
	queue    *list.List
	draining bool
	last     time.Time

	now func() time.Time
}

var _ ports.Limiter = (*Limiter)(nil)

type call struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// New builds a limiter enforcing the given minimum interval between the start
// times of consecutive calls.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		queue:    list.New(),
		now:      time.Now,
	}
}

// Do enqueues fn and blocks until it has run or its context is done. A call
// whose context expires before dispatch is skipped without consuming the
// interval, and the context error is returned.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	c := &call{ctx: ctx, fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	l.queue.PushBack(c)
	if !l.draining {
		l.draining = true
		go l.drain()
	}
	l.mu.Unlock()

	return <-c.done
}

func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		front := l.queue.Front()
		if front == nil {
			l.draining = false
			l.mu.Unlock()
			return
		}
		l.queue.Remove(front)
		l.mu.Unlock()

		c := front.Value.(*call)
		if err := c.ctx.Err(); err != nil {
			c.done <- err
			continue
		}

		if wait := l.interval - l.now().Sub(l.last); wait > 0 {
			l.sleep(c.ctx, wait)
			if err := c.ctx.Err(); err != nil {
				c.done <- err
				continue
			}
		}

		l.last = l.now()
		c.done <- c.fn(c.ctx)
	}
}

// sleep waits for d but wakes early if the pending call's context ends; the
// call itself then fails fast inside fn via its context.
func (l *Limiter) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
