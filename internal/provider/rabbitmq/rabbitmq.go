package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/codec"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/readiness"
)

const (
	defaultPort = 5672
	// bindingKey routes every message published to the exchange into the queue.
	bindingKey = "#"
	tagPrefix  = "common-mq-"
)

// Connection is the part of *amqp.Connection the provider uses.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel is the part of *amqp.Channel the provider uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDelete(name string, ifUnused, noWait bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// DialFunc opens a broker connection.
type DialFunc func(url string) (Connection, error)

// Dial connects to a broker with amqp091-go.
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &connection{conn: conn}, nil
}

type connection struct {
	conn *amqp.Connection
}

func (c *connection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *connection) Close() error {
	return c.conn.Close()
}

// Option configures a Provider.
type Option func(*Provider)

// WithDialer replaces the function used to open the broker connection.
func WithDialer(d DialFunc) Option {
	return func(p *Provider) {
		p.dial = d
	}
}

// Provider publishes to a topic exchange and consumes from a queue bound
// to it. Messages are published with the queue name as routing key.
type Provider struct {
	opts    provider.Options
	emitter provider.Emitter
	log     *zap.SugaredLogger
	gate    *readiness.Gate
	dial    DialFunc
	url     string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     Connection
	ch       Channel
	consumer *consumer
	// wanted is the subscription state last requested by the caller.
	wanted bool
	closed bool
}

// consumer is one Consume call. Deliveries that arrive after it is closed
// are drained without being emitted.
type consumer struct {
	tag    string
	closed atomic.Bool
}

// New validates opts and starts connecting in the background. Readiness
// is reported to emitter once the exchange, queue and binding exist.
func New(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger, options ...Option) (*Provider, error) {
	if emitter == nil {
		return nil, errors.New("emitter is not set")
	}
	if err := provider.Require(
		provider.StringField("queueName", opts.QueueName),
		provider.StringField("exchangeName", opts.ExchangeName),
	); err != nil {
		return nil, err
	}
	url, err := connectionURL(opts)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		opts:    opts,
		emitter: emitter,
		log:     log.With("provider", provider.KindAMQP, "queue", opts.QueueName),
		gate:    readiness.New(),
		dial:    Dial,
		url:     url,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range options {
		o(p)
	}

	go p.init()
	return p, nil
}

// connectionURL prefers a URL passed as backend config and otherwise
// builds one from the hostname and port.
func connectionURL(opts provider.Options) (string, error) {
	switch cfg := opts.BackendConfig.(type) {
	case string:
		if cfg != "" {
			if _, err := amqp.ParseURI(cfg); err != nil {
				return "", fmt.Errorf("invalid AMQP URL: %w", err)
			}
			return cfg, nil
		}
	case amqp.URI:
		return cfg.String(), nil
	case nil:
	default:
		return "", fmt.Errorf("unsupported AMQP backend config %T", cfg)
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     opts.Hostname,
		Port:     opts.Port,
		Username: "guest",
		Password: "guest",
		Vhost:    "/",
	}
	if uri.Host == "" {
		uri.Host = "localhost"
	}
	if uri.Port == 0 {
		uri.Port = defaultPort
	}
	return uri.String(), nil
}

func (p *Provider) init() {
	conn, err := p.dial(p.url)
	if err != nil {
		p.fail(fmt.Errorf("failed to connect to broker: %w", err), nil)
		return
	}
	ch, err := conn.Channel()
	if err != nil {
		p.fail(fmt.Errorf("failed to open channel: %w", err), conn)
		return
	}
	if err := ch.ExchangeDeclare(p.opts.ExchangeName, amqp.ExchangeTopic, false, false, false, false, nil); err != nil {
		p.fail(fmt.Errorf("failed to declare exchange %s: %w", p.opts.ExchangeName, err), conn)
		return
	}
	if _, err := ch.QueueDeclare(p.opts.QueueName, false, false, false, false, nil); err != nil {
		p.fail(fmt.Errorf("failed to declare queue %s: %w", p.opts.QueueName, err), conn)
		return
	}
	if err := ch.QueueBind(p.opts.QueueName, bindingKey, p.opts.ExchangeName, false, nil); err != nil {
		p.fail(fmt.Errorf("failed to bind queue %s to %s: %w", p.opts.QueueName, p.opts.ExchangeName, err), conn)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()

	p.log.Debugw("broker ready", "exchange", p.opts.ExchangeName)
	p.emitter.Ready()
	p.gate.Fire()
}

func (p *Provider) fail(err error, conn Connection) {
	if conn != nil {
		_ = conn.Close()
	}
	p.log.Errorw("broker setup failed", "error", err)
	p.emitter.Error(err)
}

func (p *Provider) channel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil, fmt.Errorf("not connected")
	}
	return p.ch, nil
}

// Publish sends payload to the exchange once the broker is ready. Extra
// parameters are not used by this backend.
func (p *Provider) Publish(payload any, _ provider.Extra) error {
	body, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	return p.gate.WhenReady(func() { p.publish(body) })
}

func (p *Provider) publish(body string) {
	ch, err := p.channel()
	if err == nil {
		err = ch.PublishWithContext(p.ctx, p.opts.ExchangeName, p.opts.QueueName, false, false, amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(body),
		})
	}
	if err != nil {
		p.emitter.Error(fmt.Errorf("failed to publish to exchange %s: %w", p.opts.ExchangeName, err))
	}
}

// Subscribe starts consuming the queue once the broker is ready.
func (p *Provider) Subscribe() {
	p.setWanted(true)
	if err := p.gate.WhenReady(p.subscribe); err != nil {
		p.setWanted(false)
		p.log.Debugw("subscribe ignored", "error", err)
	}
}

func (p *Provider) setWanted(wanted bool) {
	p.mu.Lock()
	p.wanted = wanted
	p.mu.Unlock()
}

func (p *Provider) subscribe() {
	p.mu.Lock()
	skip := !p.wanted || p.consumer != nil
	p.mu.Unlock()
	if skip {
		return
	}

	ch, err := p.channel()
	if err != nil {
		p.emitter.Error(err)
		return
	}
	c := &consumer{tag: tagPrefix + uuid.NewString()}
	deliveries, err := ch.Consume(p.opts.QueueName, c.tag, true, false, false, false, nil)
	if err != nil {
		p.emitter.Error(fmt.Errorf("failed to consume queue %s: %w", p.opts.QueueName, err))
		return
	}
	go p.consume(c, deliveries)

	p.mu.Lock()
	if !p.wanted {
		p.mu.Unlock()
		c.closed.Store(true)
		p.cancelConsumer(ch, c.tag)
		return
	}
	p.consumer = c
	p.mu.Unlock()
	p.log.Debugw("subscribed", "consumerTag", c.tag)
}

func (p *Provider) consume(c *consumer, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if c.closed.Load() {
			continue
		}
		p.emitter.Message(provider.Message{Payload: codec.Decode(string(d.Body))})
	}
}

// Unsubscribe stops delivery at once and cancels the consumer on the
// broker. Deliveries still in flight are discarded.
func (p *Provider) Unsubscribe() {
	p.mu.Lock()
	p.wanted = false
	c := p.consumer
	p.consumer = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	c.closed.Store(true)
	err := p.gate.WhenReady(func() {
		if ch, err := p.channel(); err == nil {
			p.cancelConsumer(ch, c.tag)
		}
	})
	if err != nil {
		// Close tears the channel down, which ends the consumer.
		p.log.Debugw("consumer cancel skipped", "consumerTag", c.tag, "error", err)
	}
}

func (p *Provider) cancelConsumer(ch Channel, tag string) {
	if err := ch.Cancel(tag, false); err != nil {
		p.emitter.Error(fmt.Errorf("failed to cancel consumer %s: %w", tag, err))
		return
	}
	p.log.Debugw("unsubscribed", "consumerTag", tag)
}

// Ack is a no-op: deliveries are acknowledged on receipt.
func (p *Provider) Ack(string) {}

// ConsumerTag returns the tag of the active consumer, if any.
func (p *Provider) ConsumerTag() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer == nil {
		return ""
	}
	return p.consumer.tag
}

// Close unbinds and deletes the queue and exchange, then disconnects.
// Teardown is best effort.
func (p *Provider) Close() {
	p.gate.Close()
	p.cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conn, ch := p.conn, p.ch
	p.conn, p.ch = nil, nil
	p.mu.Unlock()

	if ch != nil {
		if err := ch.QueueUnbind(p.opts.QueueName, bindingKey, p.opts.ExchangeName, nil); err != nil {
			p.log.Warnw("failed to unbind queue", "error", err)
		}
		if _, err := ch.QueueDelete(p.opts.QueueName, false, false, false); err != nil {
			p.log.Warnw("failed to delete queue", "error", err)
		}
		if !isSystemExchange(p.opts.ExchangeName) {
			if err := ch.ExchangeDelete(p.opts.ExchangeName, false, false); err != nil {
				p.log.Warnw("failed to delete exchange", "error", err)
			}
		}
		if err := ch.Close(); err != nil {
			p.log.Warnw("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			p.log.Warnw("failed to close connection", "error", err)
		}
	}
	p.log.Debugw("broker closed")
}

// isSystemExchange checks if an exchange is a RabbitMQ system exchange
func isSystemExchange(name string) bool {
	if name == "" {
		return true // default exchange
	}
	return strings.HasPrefix(name, "amq.")
}
