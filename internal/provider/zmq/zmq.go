package zmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/codec"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/readiness"
)

// Socket is the part of zmq4.Socket the provider uses.
type Socket interface {
	Listen(endpoint string) error
	Dial(endpoint string) error
	SendMulti(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	SetOption(name string, value interface{}) error
	Close() error
}

// SocketFactory creates a socket bound to ctx.
type SocketFactory func(ctx context.Context) Socket

// NewPubSocket creates a zmq4 PUB socket.
func NewPubSocket(ctx context.Context) Socket {
	return zmq4.NewPub(ctx)
}

// NewSubSocket creates a zmq4 SUB socket.
func NewSubSocket(ctx context.Context) Socket {
	return zmq4.NewSub(ctx)
}

// Option configures a Provider.
type Option func(*Provider)

// WithSockets replaces the publish and subscribe socket factories.
func WithSockets(pub, sub SocketFactory) Option {
	return func(p *Provider) {
		p.newPub = pub
		p.newSub = sub
	}
}

// Provider publishes on a PUB socket bound to hostname:port and reads from
// a SUB socket connected to the same endpoint, filtered on the queue name.
type Provider struct {
	opts     provider.Options
	emitter  provider.Emitter
	log      *zap.SugaredLogger
	gate     *readiness.Gate
	endpoint string
	newPub   SocketFactory
	newSub   SocketFactory

	mu  sync.Mutex
	pub Socket
	sub *subscription
	// wanted is the subscription state last requested by the caller.
	wanted bool
}

type subscription struct {
	sock   Socket
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	closed atomic.Bool
}

// New validates opts and binds the publish socket in the background.
func New(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger, options ...Option) (*Provider, error) {
	if emitter == nil {
		return nil, errors.New("emitter is not set")
	}
	if err := provider.Require(
		provider.StringField("queueName", opts.QueueName),
		provider.StringField("hostname", opts.Hostname),
		provider.IntField("port", opts.Port),
	); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	p := &Provider{
		opts:     opts,
		emitter:  emitter,
		log:      log.With("provider", provider.KindZMQ, "queue", opts.QueueName),
		gate:     readiness.New(),
		endpoint: Endpoint(opts.Hostname, opts.Port),
		newPub:   NewPubSocket,
		newSub:   NewSubSocket,
	}
	for _, o := range options {
		o(p)
	}

	go p.init()
	return p, nil
}

// Endpoint returns the TCP endpoint for host and port.
func Endpoint(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func (p *Provider) init() {
	pub := p.newPub(context.Background())
	if err := pub.Listen(p.endpoint); err != nil {
		_ = pub.Close()
		err = fmt.Errorf("failed to bind %s: %w", p.endpoint, err)
		p.log.Errorw("socket setup failed", "error", err)
		p.emitter.Error(err)
		return
	}

	p.mu.Lock()
	p.pub = pub
	p.mu.Unlock()

	p.log.Debugw("socket bound", "endpoint", p.endpoint)
	p.emitter.Ready()
	p.gate.Fire()
}

// Publish sends payload as a two frame message, topic then body.
func (p *Provider) Publish(payload any, _ provider.Extra) error {
	body, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	return p.gate.WhenReady(func() { p.send(body) })
}

func (p *Provider) send(body string) {
	p.mu.Lock()
	pub := p.pub
	p.mu.Unlock()
	if pub == nil {
		return
	}
	msg := zmq4.NewMsgFrom([]byte(p.opts.QueueName), []byte(body))
	if err := pub.SendMulti(msg); err != nil {
		p.emitter.Error(fmt.Errorf("failed to send message: %w", err))
	}
}

// Subscribe connects a subscribe socket once the publish side is bound.
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
	skip := !p.wanted || p.sub != nil
	p.mu.Unlock()
	if skip {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock := p.newSub(ctx)
	if err := sock.Dial(p.endpoint); err != nil {
		cancel()
		_ = sock.Close()
		p.emitter.Error(fmt.Errorf("failed to connect to %s: %w", p.endpoint, err))
		return
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, p.opts.QueueName); err != nil {
		cancel()
		_ = sock.Close()
		p.emitter.Error(fmt.Errorf("failed to subscribe to %s: %w", p.opts.QueueName, err))
		return
	}

	sub := &subscription{sock: sock, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	if !p.wanted {
		// unsubscribed while connecting
		p.mu.Unlock()
		sub.stop()
		close(sub.done)
		return
	}
	p.sub = sub
	p.mu.Unlock()

	p.log.Debugw("subscribed", "endpoint", p.endpoint)
	go p.receive(sub)
}

func (p *Provider) receive(sub *subscription) {
	defer close(sub.done)

	for {
		msg, err := sub.sock.Recv()
		if err != nil {
			if !sub.isClosed() {
				p.emitter.Error(fmt.Errorf("failed to receive message: %w", err))
			}
			return
		}
		if len(msg.Frames) < 2 {
			p.log.Debugw("dropping malformed message", "frames", len(msg.Frames))
			continue
		}
		if sub.isClosed() {
			return
		}
		p.emitter.Message(provider.Message{Payload: codec.Decode(string(msg.Frames[1]))})
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.sock.Close()
	})
}

func (s *subscription) isClosed() bool {
	return s.closed.Load()
}

// Unsubscribe disconnects the subscribe socket. It takes effect at once,
// also cancelling a Subscribe still waiting for readiness, and works after
// Close. Calling it without an active subscription does nothing.
func (p *Provider) Unsubscribe() {
	p.mu.Lock()
	p.wanted = false
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		sub.stop()
		p.log.Debugw("unsubscribed", "endpoint", p.endpoint)
	}
}

// Ack is a no-op: the transport has no acknowledgements.
func (p *Provider) Ack(string) {}

// Close unbinds the publish socket. An active subscription is left
// running until Unsubscribe.
func (p *Provider) Close() {
	p.gate.Close()

	p.mu.Lock()
	pub := p.pub
	p.pub = nil
	p.mu.Unlock()

	if pub != nil {
		if err := pub.Close(); err != nil {
			p.log.Warnw("failed to close socket", "error", err)
		}
	}
}
