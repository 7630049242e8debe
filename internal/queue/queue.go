package queue

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/config"
	"github.com/lloydcotten/common-mq/internal/metrics"
	"github.com/lloydcotten/common-mq/internal/provider"
)

const defaultBufferSize = 64

var ErrClosed = errors.New("queue closed")

type HealthStatus struct {
	OK      bool
	Details string
}

// Option configures a Queue.
type Option func(*Queue)

// WithFactory registers the constructor used for kind.
func WithFactory(kind provider.Kind, f Factory) Option {
	return func(q *Queue) {
		q.factories[kind] = f
	}
}

// WithBufferSize sets the capacity of the message and error channels.
func WithBufferSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.bufferSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

// Queue is a backend independent handle over one provider. Messages are
// delivered on a single channel shared by all consumers; the provider is
// subscribed while at least one consumer is attached.
type Queue struct {
	opts       provider.Options
	factories  map[provider.Kind]Factory
	bufferSize int
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	provider provider.Provider
	messages chan provider.Message
	errors   chan error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	consumers int
	// active is closed when the last consumer is removed.
	active  chan struct{}
	closed  bool
	lastErr error

	// sendMu guards sends on messages and errors against their close.
	sendMu sync.RWMutex
}

// New constructs the provider selected by opts.Provider.
func New(opts provider.Options, options ...Option) (*Queue, error) {
	q := &Queue{
		opts:       opts,
		factories:  defaultFactories(),
		bufferSize: defaultBufferSize,
		log:        zap.NewNop().Sugar(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range options {
		o(q)
	}
	q.log = q.log.With("provider", opts.Provider, "queue", opts.QueueName)
	q.messages = make(chan provider.Message, q.bufferSize)
	q.errors = make(chan error, q.bufferSize)
	q.setReadyMetric(false)

	p, err := newProvider(q.factories, opts, &emitter{q: q}, q.log)
	if err != nil {
		return nil, err
	}
	q.provider = p
	return q, nil
}

// Connect parses rawURL with config.ParseURL and constructs a queue from
// base with the provider, host, port and queue name taken from the URL.
func Connect(rawURL string, base provider.Options, options ...Option) (*Queue, error) {
	parsed, err := config.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts := base
	opts.Provider = parsed.Provider
	opts.Hostname = parsed.Hostname
	opts.Port = parsed.Port
	opts.QueueName = parsed.QueueName
	return New(opts, options...)
}

func (q *Queue) Options() provider.Options {
	return q.opts
}

// Ready is closed once the provider finished initializing.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) IsReady() bool {
	select {
	case <-q.ready:
		return true
	default:
		return false
	}
}

// Errors returns provider errors. Errors are dropped, after logging, when
// the channel is full.
func (q *Queue) Errors() <-chan error {
	return q.errors
}

// AddConsumer attaches a consumer and returns the message channel. The
// first consumer subscribes the provider.
func (q *Queue) AddConsumer() <-chan provider.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.messages
	}
	q.consumers++
	if q.consumers == 1 {
		q.active = make(chan struct{})
		q.provider.Subscribe()
		q.log.Debugw("subscribed")
	}
	q.setConsumersMetric()
	return q.messages
}

// RemoveConsumer detaches a consumer. Removing the last one unsubscribes
// the provider and discards buffered messages.
func (q *Queue) RemoveConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.consumers == 0 {
		return
	}
	q.consumers--
	if q.consumers == 0 {
		q.stopDelivery()
	}
	q.setConsumersMetric()
}

// stopDelivery must be called with mu held.
func (q *Queue) stopDelivery() {
	close(q.active)
	q.active = nil
	q.provider.Unsubscribe()
	q.log.Debugw("unsubscribed")

	for {
		select {
		case <-q.messages:
			q.incDropped()
		default:
			return
		}
	}
}

func (q *Queue) Consumers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumers
}

// Publish forwards payload to the provider, which buffers it until ready.
func (q *Queue) Publish(payload any, extra provider.Extra) error {
	if q.isClosed() {
		return ErrClosed
	}
	if err := q.provider.Publish(payload, extra); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.IncPublished(string(q.opts.Provider))
	}
	return nil
}

// Ack acknowledges the message identified by handle.
func (q *Queue) Ack(handle string) error {
	if q.isClosed() {
		return ErrClosed
	}
	q.provider.Ack(handle)
	if q.metrics != nil {
		q.metrics.IncAcked(string(q.opts.Provider))
	}
	return nil
}

// Close closes the provider and the message and error channels. Attached
// consumers are released first so no subscription outlives the queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.consumers > 0 {
		q.consumers = 0
		q.stopDelivery()
		q.setConsumersMetric()
	}
	q.closed = true
	q.mu.Unlock()

	q.provider.Close()
	close(q.done)

	q.sendMu.Lock()
	close(q.messages)
	close(q.errors)
	q.sendMu.Unlock()

	q.log.Infow("queue closed")
	return nil
}

func (q *Queue) Health() HealthStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.closed:
		return HealthStatus{OK: false, Details: "closed"}
	case q.IsReady():
		return HealthStatus{OK: true, Details: "ready"}
	case q.lastErr != nil:
		return HealthStatus{OK: false, Details: "initialization failed: " + q.lastErr.Error()}
	default:
		return HealthStatus{OK: false, Details: "initializing"}
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) deliver(msg provider.Message) {
	q.mu.Lock()
	active := q.active
	q.mu.Unlock()
	if active == nil {
		q.incDropped()
		return
	}

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	select {
	case <-q.done:
		q.incDropped()
		return
	case <-active:
		q.incDropped()
		return
	default:
	}

	select {
	case q.messages <- msg:
		if q.metrics != nil {
			q.metrics.IncReceived(string(q.opts.Provider))
		}
	case <-active:
		q.incDropped()
	case <-q.done:
		q.incDropped()
	}
}

func (q *Queue) report(err error) {
	q.log.Errorw("provider error", "error", err)

	q.mu.Lock()
	if !q.IsReady() {
		q.lastErr = err
	}
	q.mu.Unlock()

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	delivered := false
	select {
	case <-q.done:
	default:
		select {
		case q.errors <- err:
			delivered = true
		default:
		}
	}
	if q.metrics != nil {
		q.metrics.IncError(string(q.opts.Provider), delivered)
	}
}

func (q *Queue) markReady() {
	q.readyOnce.Do(func() {
		close(q.ready)
		q.setReadyMetric(true)
		q.log.Infow("queue ready")
	})
}

func (q *Queue) incDropped() {
	if q.metrics != nil {
		q.metrics.IncDropped(string(q.opts.Provider))
	}
}

func (q *Queue) setConsumersMetric() {
	if q.metrics != nil {
		q.metrics.SetConsumers(string(q.opts.Provider), q.opts.QueueName, q.consumers)
	}
}

func (q *Queue) setReadyMetric(ready bool) {
	if q.metrics != nil {
		q.metrics.SetReady(string(q.opts.Provider), q.opts.QueueName, ready)
	}
}

// emitter adapts provider events to the queue's channels.
type emitter struct {
	q *Queue
}

func (e *emitter) Ready() { e.q.markReady() }

func (e *emitter) Message(msg provider.Message) { e.q.deliver(msg) }

func (e *emitter) Error(err error) { e.q.report(err) }
