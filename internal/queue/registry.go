package queue

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/provider/rabbitmq"
	"github.com/lloydcotten/common-mq/internal/provider/sqs"
	"github.com/lloydcotten/common-mq/internal/provider/zmq"
)

var ErrUnknownProvider = errors.New("unknown provider")

// ProviderError is returned when a provider cannot be constructed. It
// unwraps to the construction error, or ErrUnknownProvider.
type ProviderError struct {
	Provider provider.Kind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("unable to instantiate provider %q: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Factory constructs a provider reporting to emitter.
type Factory func(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error)

func newRabbitMQ(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error) {
	p, err := rabbitmq.New(opts, emitter, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newSQS(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error) {
	p, err := sqs.New(opts, emitter, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newZMQ(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error) {
	p, err := zmq.New(opts, emitter, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func defaultFactories() map[provider.Kind]Factory {
	return map[provider.Kind]Factory{
		provider.KindAMQP: newRabbitMQ,
		provider.KindSQS:  newSQS,
		provider.KindZMQ:  newZMQ,
	}
}

func newProvider(factories map[provider.Kind]Factory, opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error) {
	factory, ok := factories[opts.Provider]
	if !ok {
		return nil, &ProviderError{Provider: opts.Provider, Err: ErrUnknownProvider}
	}
	p, err := factory(opts, emitter, log)
	if err != nil {
		return nil, &ProviderError{Provider: opts.Provider, Err: err}
	}
	return p, nil
}
