// Package providertest holds helpers shared by provider tests.
package providertest

import (
	"sync"

	"github.com/lloydcotten/common-mq/internal/provider"
)

// Emitter records every event it receives.
type Emitter struct {
	mu       sync.Mutex
	ready    int
	readyCh  chan struct{}
	messages []provider.Message
	errs     []error
}

// NewEmitter returns an empty recording Emitter.
func NewEmitter() *Emitter {
	return &Emitter{readyCh: make(chan struct{})}
}

func (e *Emitter) Ready() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready++
	if e.ready == 1 {
		close(e.readyCh)
	}
}

func (e *Emitter) Message(m provider.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, m)
}

func (e *Emitter) Error(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// ReadyCh is closed on the first Ready event.
func (e *Emitter) ReadyCh() <-chan struct{} {
	return e.readyCh
}

// ReadyCount returns how many times Ready was called.
func (e *Emitter) ReadyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Messages returns a copy of the recorded messages.
func (e *Emitter) Messages() []provider.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]provider.Message(nil), e.messages...)
}

// Errors returns a copy of the recorded errors.
func (e *Emitter) Errors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}
