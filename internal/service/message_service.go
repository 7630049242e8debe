package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/models"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/queue"
)

var (
	ErrNoQueue   = errors.New("no queue configured")
	ErrNoJournal = errors.New("journal not configured")
)

// Queue is the part of *queue.Queue the service uses.
type Queue interface {
	Options() provider.Options
	Publish(payload any, extra provider.Extra) error
	Ack(handle string) error
	Health() queue.HealthStatus
	AddConsumer() <-chan provider.Message
	RemoveConsumer()
	Errors() <-chan error
}

// Journal records consumed messages.
type Journal interface {
	Record(ctx context.Context, entry models.JournalEntry) (models.JournalEntry, error)
	MarkAcked(ctx context.Context, handle string) error
	ListRecent(ctx context.Context, limit int) ([]models.JournalEntry, error)
}

type MessageService struct {
	queue   Queue
	journal Journal
	log     *zap.SugaredLogger
	autoAck bool
}

// NewMessageService wires a queue and an optional journal. When autoAck is
// set, consumed messages that carry a handle are acknowledged once recorded.
func NewMessageService(q Queue, journal Journal, log *zap.SugaredLogger, autoAck bool) *MessageService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MessageService{queue: q, journal: journal, log: log, autoAck: autoAck}
}

func (s *MessageService) Publish(payload any, extra provider.Extra) error {
	if s.queue == nil {
		return ErrNoQueue
	}
	return s.queue.Publish(payload, extra)
}

func (s *MessageService) Ack(ctx context.Context, handle string) error {
	if s.queue == nil {
		return ErrNoQueue
	}
	if err := s.queue.Ack(handle); err != nil {
		return err
	}
	s.markAcked(ctx, handle)
	return nil
}

func (s *MessageService) Health() queue.HealthStatus {
	if s.queue == nil {
		return queue.HealthStatus{OK: true, Details: "no queue configured"}
	}
	return s.queue.Health()
}

func (s *MessageService) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.ListRecent(ctx, limit)
}

// Consume attaches a consumer and handles messages until ctx is done or
// the queue closes.
func (s *MessageService) Consume(ctx context.Context) error {
	if s.queue == nil {
		return ErrNoQueue
	}
	messages := s.queue.AddConsumer()
	defer s.queue.RemoveConsumer()

	opts := s.queue.Options()
	s.log.Infow("consuming", "provider", opts.Provider, "queue", opts.QueueName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, opts, msg)
		}
	}
}

func (s *MessageService) handle(ctx context.Context, opts provider.Options, msg provider.Message) {
	s.log.Infow("message received", "queue", opts.QueueName, "handle", msg.Handle)

	if s.journal != nil {
		entry, err := s.journal.Record(ctx, models.JournalEntry{
			Provider:  string(opts.Provider),
			QueueName: opts.QueueName,
			Handle:    msg.Handle,
			Payload:   models.Payload{Value: msg.Payload},
		})
		if err != nil {
			s.log.Errorw("failed to record message", "error", err)
		} else {
			s.log.Debugw("message recorded", "id", entry.ID, "uuid", entry.UUID)
		}
	}

	if s.autoAck && msg.Handle != "" {
		if err := s.Ack(ctx, msg.Handle); err != nil {
			s.log.Errorw("failed to ack message", "handle", msg.Handle, "error", err)
		}
	}
}

func (s *MessageService) markAcked(ctx context.Context, handle string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.MarkAcked(ctx, handle); err != nil {
		s.log.Warnw("failed to mark message acked", "handle", handle, "error", err)
	}
}

// WatchErrors logs queue errors until ctx is done or the queue closes.
func (s *MessageService) WatchErrors(ctx context.Context) error {
	if s.queue == nil {
		return ErrNoQueue
	}
	errs := s.queue.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			s.log.Warnw("queue error", "error", err)
		}
	}
}
