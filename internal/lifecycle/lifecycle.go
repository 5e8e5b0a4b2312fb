// Package lifecycle implements the uniform Runnable contract every
// long-lived component in the fabric follows: Created -> Starting ->
// Running -> Stopping -> Stopped.
//
// Grounded on internal/session/session.go (a Done channel closed exactly
// once via sync.Once) generalized from a per-connection session to a
// component lifecycle, plus api/control.go's Control interface for the
// Stats()-style introspection every Runnable exposes.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// State is one stage of a Runnable's life.
type State int

const (
	Created State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runnable is implemented by every switch sub-component (routers, FMLD,
// IRQ manager, packet processors, the switch itself).
type Runnable interface {
	// Start transitions Created -> Starting -> Running, launching any
	// background goroutines. Start is not safe to call twice.
	Start(ctx context.Context) error
	// WaitReady blocks until Running or ctx is done.
	WaitReady(ctx context.Context) error
	// Stop transitions -> Stopping -> Stopped, cancelling children and
	// awaiting their completion. Idempotent.
	Stop() error
	// State reports the current lifecycle stage.
	State() State
}

// Base is embedded by concrete Runnables to get the state machine,
// ready-signalling and idempotent-stop bookkeeping for free; the embedder
// supplies its own goroutines and calls MarkRunning/MarkStopped at the
// right points.
type Base struct {
	mu       sync.Mutex
	state    State
	ready    chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewBase constructs a Base in the Created state.
func NewBase() *Base {
	return &Base{
		state:   Created,
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// State reports the current lifecycle stage.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MarkStarting transitions Created -> Starting.
func (b *Base) MarkStarting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Starting
}

// MarkRunning transitions Starting -> Running and unblocks WaitReady.
func (b *Base) MarkRunning() {
	b.mu.Lock()
	b.state = Running
	b.mu.Unlock()
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

// WaitReady blocks until MarkRunning has been called or ctx is done.
func (b *Base) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginStop transitions -> Stopping exactly once; returns false if a stop
// was already in progress or complete, so callers can make Stop idempotent.
func (b *Base) BeginStop() bool {
	started := false
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.state = Stopping
		b.mu.Unlock()
		started = true
	})
	return started
}

// MarkStopped transitions -> Stopped and unblocks Stopped().
func (b *Base) MarkStopped() {
	b.mu.Lock()
	b.state = Stopped
	b.mu.Unlock()
	select {
	case <-b.stopped:
	default:
		close(b.stopped)
	}
}

// Stopped returns a channel closed once MarkStopped has run.
func (b *Base) Stopped() <-chan struct{} {
	return b.stopped
}

// StopAll stops every Runnable in order, collecting the first error but
// still attempting to stop the rest: one child failing to stop cleanly
// still propagates cancellation to its siblings.
func StopAll(runnables ...Runnable) error {
	var first error
	for _, r := range runnables {
		if err := r.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
