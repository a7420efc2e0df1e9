package connector

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Call is the future returned by Request. It settles exactly once: by a
// correlated reply, by its timeout, or never. A second settlement attempt
// is a no-op.
type Call struct {
	id   int64
	done chan struct{}

	mu      sync.Mutex
	settled bool
	result  json.RawMessage
	err     error
	timer   *time.Timer

	onSettle func(*Call)
}

func newCall(id int64, onSettle func(*Call)) *Call {
	return &Call{id: id, done: make(chan struct{}), onSettle: onSettle}
}

// ID returns the correlation id assigned to this request.
func (c *Call) ID() int64 { return c.id }

// Done is closed once the call settles.
func (c *Call) Done() <-chan struct{} { return c.done }

// settle records the first outcome and reports whether it won.
func (c *Call) settle(result json.RawMessage, err error) bool {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return false
	}
	c.settled = true
	c.result = result
	c.err = err
	t := c.timer
	c.timer = nil
	close(c.done)
	c.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if c.onSettle != nil {
		c.onSettle(c)
	}
	return true
}

// setTimeout arms rejection after d. It does not cancel in-flight delivery,
// only the caller-visible outcome.
func (c *Call) setTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return
	}
	c.timer = time.AfterFunc(d, func() {
		c.settle(nil, ErrTimeout)
	})
}

// Result returns the outcome once Done is closed; before settlement it
// returns ErrPending.
func (c *Call) Result() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.settled {
		return nil, ErrPending
	}
	return c.result, c.err
}

// Await blocks until the call settles or ctx is done.
func (c *Call) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
