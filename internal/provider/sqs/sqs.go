package sqs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/codec"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/readiness"
)

const defaultMaxReceiveCount = 1

// API is the part of the SQS client the provider uses.
type API interface {
	GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *awssqs.CreateQueueInput, optFns ...func(*awssqs.Options)) (*awssqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient replaces the SQS client built from the backend config.
func WithClient(api API) Option {
	return func(p *Provider) {
		p.client = api
	}
}

// Provider polls an SQS queue. SQS has no push delivery, so a subscription
// is a loop of receive calls.
type Provider struct {
	opts    provider.Options
	emitter provider.Emitter
	log     *zap.SugaredLogger
	gate    *readiness.Gate
	client  API
	ctx     context.Context

	mu       sync.Mutex
	queueURL string
	loop     *pollLoop
	// polling is the state last requested by Subscribe or Unsubscribe.
	polling bool

	// pollMu keeps receive calls of successive loops from overlapping.
	pollMu sync.Mutex
}

// pollLoop is one subscription's polling goroutine.
type pollLoop struct {
	closed atomic.Bool
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
}

func newPollLoop() *pollLoop {
	return &pollLoop{stopCh: make(chan struct{}), done: make(chan struct{})}
}

func (l *pollLoop) stop() {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
}

// New validates opts, applies the backend config and starts resolving the
// queue URL in the background.
func New(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger, options ...Option) (*Provider, error) {
	if emitter == nil {
		return nil, errors.New("emitter is not set")
	}
	if err := provider.Require(provider.StringField("queueName", opts.QueueName)); err != nil {
		return nil, err
	}
	awsCfg, err := resolveAWSConfig(opts.BackendConfig)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	p := &Provider{
		opts:    opts,
		emitter: emitter,
		log:     log.With("provider", provider.KindSQS, "queue", opts.QueueName),
		gate:    readiness.New(),
		ctx:     context.Background(),
	}
	for _, o := range options {
		o(p)
	}
	if p.client == nil {
		client, err := NewClient(p.ctx, awsCfg)
		if err != nil {
			p.gate.Close()
			return nil, err
		}
		p.client = client
	}

	go p.init()
	return p, nil
}

func (p *Provider) init() {
	out, err := p.client.GetQueueUrl(p.ctx, &awssqs.GetQueueUrlInput{QueueName: aws.String(p.opts.QueueName)})
	if err == nil {
		p.setQueueReady(aws.ToString(out.QueueUrl))
		return
	}
	p.createQueue(fmt.Errorf("failed to get url of queue %s: %w", p.opts.QueueName, err))
}

func (p *Provider) createQueue(resolveErr error) {
	out, err := p.client.CreateQueue(p.ctx, &awssqs.CreateQueueInput{
		QueueName:  aws.String(p.opts.QueueName),
		Attributes: p.opts.Attributes,
	})
	if err != nil {
		createErr := fmt.Errorf("failed to create queue %s: %w", p.opts.QueueName, err)
		p.log.Errorw("queue setup failed", "resolveError", resolveErr, "createError", createErr)
		p.emitter.Error(resolveErr)
		p.emitter.Error(createErr)
		return
	}
	p.log.Infow("created queue", "url", aws.ToString(out.QueueUrl))
	p.setQueueReady(aws.ToString(out.QueueUrl))
}

func (p *Provider) setQueueReady(url string) {
	p.mu.Lock()
	p.queueURL = url
	p.mu.Unlock()

	p.log.Debugw("queue ready", "url", url)
	p.emitter.Ready()
	p.gate.Fire()
}

// QueueURL returns the resolved queue URL, empty until ready.
func (p *Provider) QueueURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueURL
}

// Publish sends payload once the queue URL is known. Recognized extra keys
// are DelaySeconds, MessageGroupId, MessageDeduplicationId and
// MessageAttributes; they never replace the queue URL or the body.
func (p *Provider) Publish(payload any, extra provider.Extra) error {
	body, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	return p.gate.WhenReady(func() { p.sendMessage(body, extra) })
}

func (p *Provider) sendMessage(body string, extra provider.Extra) {
	input := &awssqs.SendMessageInput{}
	zeros := p.applyExtra(input, extra)
	input.QueueUrl = aws.String(p.QueueURL())
	input.MessageBody = aws.String(body)

	if _, err := p.client.SendMessage(p.ctx, input, explicitZero(zeros...)...); err != nil {
		p.emitter.Error(fmt.Errorf("failed to send message: %w", err))
	}
}

// applyExtra copies recognized extra keys onto input. It returns the
// integer members that were set to zero explicitly.
func (p *Provider) applyExtra(input *awssqs.SendMessageInput, extra provider.Extra) []string {
	var zeros []string
	for key, value := range extra {
		switch key {
		case "DelaySeconds":
			if n, ok := toInt32(value); ok {
				input.DelaySeconds = n
				if n == 0 {
					zeros = append(zeros, key)
				}
				continue
			}
		case "MessageGroupId":
			if s, ok := value.(string); ok {
				input.MessageGroupId = aws.String(s)
				continue
			}
		case "MessageDeduplicationId":
			if s, ok := value.(string); ok {
				input.MessageDeduplicationId = aws.String(s)
				continue
			}
		case "MessageAttributes":
			if attrs, ok := toStringMap(value); ok {
				input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
				for name, v := range attrs {
					input.MessageAttributes[name] = types.MessageAttributeValue{
						DataType:    aws.String("String"),
						StringValue: aws.String(v),
					}
				}
				continue
			}
		}
		p.log.Debugw("ignoring publish parameter", "key", key, "value", value)
	}
	return zeros
}

// toInt32 accepts whole numbers that fit in an int32.
func toInt32(v any) (int32, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		return x, true
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int32(x), true
	default:
		return 0, false
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return int32(n), true
}

func toStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// Subscribe starts the polling loop once the queue URL is known.
func (p *Provider) Subscribe() {
	p.setPolling(true)
	if err := p.gate.WhenReady(p.startPolling); err != nil {
		p.setPolling(false)
		p.log.Debugw("subscribe ignored", "error", err)
	}
}

func (p *Provider) setPolling(polling bool) {
	p.mu.Lock()
	p.polling = polling
	p.mu.Unlock()
}

// Unsubscribe stops the polling loop before its next iteration. It takes
// effect at once, also cancelling a Subscribe still waiting for readiness,
// and works after Close. A receive call already in flight completes and its
// messages are still delivered.
func (p *Provider) Unsubscribe() {
	p.stopPolling()
}

func (p *Provider) startPolling() {
	loop := newPollLoop()

	p.mu.Lock()
	if !p.polling {
		p.mu.Unlock()
		return
	}
	if p.loop != nil {
		p.loop.stop()
	}
	p.loop = loop
	p.mu.Unlock()

	p.log.Debugw("polling started", "delay", p.opts.DelayBetweenPolls)
	go p.poll(loop)
}

func (p *Provider) stopPolling() {
	p.mu.Lock()
	p.polling = false
	loop := p.loop
	p.loop = nil
	p.mu.Unlock()

	if loop != nil {
		loop.stop()
		p.log.Debugw("polling stopped")
	}
}

func (p *Provider) currentLoop() *pollLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

func (p *Provider) poll(loop *pollLoop) {
	defer close(loop.done)

	for !loop.closed.Load() {
		p.pollOnce(loop)
		if !p.wait(loop) {
			return
		}
	}
}

// wait sleeps for the configured delay. It reports false when the loop was
// stopped while waiting.
func (p *Provider) wait(loop *pollLoop) bool {
	if p.opts.DelayBetweenPolls <= 0 {
		runtime.Gosched()
		return true
	}
	timer := time.NewTimer(p.opts.DelayBetweenPolls)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-loop.stopCh:
		return false
	}
}

// receiveInput builds one receive call. Optional members are only set when
// configured; the ones configured as zero are returned so they can be sent
// explicitly.
func (p *Provider) receiveInput() (*awssqs.ReceiveMessageInput, []string) {
	maxCount := p.opts.MaxReceiveCount
	if maxCount <= 0 {
		maxCount = defaultMaxReceiveCount
	}
	input := &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.QueueURL()),
		MaxNumberOfMessages: maxCount,
	}
	var zeros []string
	if v := p.opts.VisibilityTimeout; v != nil {
		input.VisibilityTimeout = *v
		if *v == 0 {
			zeros = append(zeros, "VisibilityTimeout")
		}
	}
	if v := p.opts.WaitTimeSeconds; v != nil {
		input.WaitTimeSeconds = *v
		if *v == 0 {
			zeros = append(zeros, "WaitTimeSeconds")
		}
	}
	return input, zeros
}

func (p *Provider) pollOnce(loop *pollLoop) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	if loop.closed.Load() {
		return
	}
	input, zeros := p.receiveInput()
	out, err := p.client.ReceiveMessage(p.ctx, input, explicitZero(zeros...)...)
	if err != nil {
		p.emitter.Error(fmt.Errorf("failed to receive messages: %w", err))
		return
	}
	for _, msg := range out.Messages {
		p.handleMessage(loop, msg)
	}
}

func (p *Provider) handleMessage(loop *pollLoop, msg types.Message) {
	handle := aws.ToString(msg.ReceiptHandle)
	p.emitter.Message(provider.Message{
		Payload: codec.Decode(aws.ToString(msg.Body)),
		Handle:  handle,
	})
	if p.opts.DeleteAfterReceive && !loop.closed.Load() {
		p.deleteMessage(handle)
	}
}

// Ack deletes the message identified by handle. It does nothing when
// messages are deleted on receipt.
func (p *Provider) Ack(handle string) {
	if p.opts.DeleteAfterReceive {
		return
	}
	if err := p.gate.WhenReady(func() { p.deleteMessage(handle) }); err != nil {
		p.log.Debugw("ack ignored", "error", err)
	}
}

func (p *Provider) deleteMessage(handle string) {
	_, err := p.client.DeleteMessage(p.ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.QueueURL()),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		p.emitter.Error(fmt.Errorf("failed to delete message: %w", err))
	}
}

// Close releases the provider. SQS needs no teardown and an active polling
// loop keeps running until Unsubscribe.
func (p *Provider) Close() {
	p.gate.Close()
}
