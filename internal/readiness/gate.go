// Package readiness defers provider operations until a backend finishes
// its asynchronous setup.
package readiness

import (
	"errors"
	"sync"
)

// ErrClosed is returned by WhenReady after the gate has been closed.
var ErrClosed = errors.New("readiness gate closed")

// Gate buffers actions until Fire is called and then runs them, in the
// order they were registered, on a single executor goroutine. Actions
// registered after Fire run on the same executor, after everything that
// was buffered. Actions never run on the caller's goroutine.
type Gate struct {
	mu      sync.Mutex
	ready   bool
	closed  bool
	pending []func()
	queue   []func()

	readyCh chan struct{}
	wake    chan struct{}
	done    chan struct{}
}

// New creates a Gate and starts its executor.
func New() *Gate {
	g := &Gate{
		readyCh: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go g.run()
	return g
}

// WhenReady schedules action to run once the gate is ready.
func (g *Gate) WhenReady(action func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.ready {
		g.pending = append(g.pending, action)
		return nil
	}
	g.enqueueLocked(action)
	return nil
}

// Fire marks the gate ready and hands every buffered action to the
// executor. Only the first call has any effect.
func (g *Gate) Fire() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready || g.closed {
		return
	}
	g.ready = true
	close(g.readyCh)
	g.enqueueLocked(g.pending...)
	g.pending = nil
}

// Ready returns a channel closed when the gate fires.
func (g *Gate) Ready() <-chan struct{} {
	return g.readyCh
}

// IsReady reports whether Fire has been called.
func (g *Gate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Close stops the executor. Buffered and queued actions are dropped; an
// action already running finishes. Close is safe to call more than once
// and from within an action.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	g.pending = nil
	g.queue = nil
	close(g.done)
}

func (g *Gate) enqueueLocked(actions ...func()) {
	if len(actions) == 0 {
		return
	}
	g.queue = append(g.queue, actions...)
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gate) next() (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || len(g.queue) == 0 {
		return nil, false
	}
	action := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	return action, true
}

func (g *Gate) run() {
	for {
		select {
		case <-g.done:
			return
		case <-g.wake:
		}
		for {
			action, ok := g.next()
			if !ok {
				break
			}
			action()
		}
	}
}
