package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lloydcotten/common-mq/internal/models"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/queue"
)

// MockQueue is a mock implementation of Queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Options() provider.Options {
	args := m.Called()
	return args.Get(0).(provider.Options)
}

func (m *MockQueue) Publish(payload any, extra provider.Extra) error {
	args := m.Called(payload, extra)
	return args.Error(0)
}

func (m *MockQueue) Ack(handle string) error {
	args := m.Called(handle)
	return args.Error(0)
}

func (m *MockQueue) Health() queue.HealthStatus {
	args := m.Called()
	return args.Get(0).(queue.HealthStatus)
}

func (m *MockQueue) AddConsumer() <-chan provider.Message {
	args := m.Called()
	return args.Get(0).(chan provider.Message)
}

func (m *MockQueue) RemoveConsumer() {
	m.Called()
}

func (m *MockQueue) Errors() <-chan error {
	args := m.Called()
	return args.Get(0).(chan error)
}

// MockJournal is a mock implementation of Journal
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, entry models.JournalEntry) (models.JournalEntry, error) {
	args := m.Called(entry)
	return args.Get(0).(models.JournalEntry), args.Error(1)
}

func (m *MockJournal) MarkAcked(ctx context.Context, handle string) error {
	args := m.Called(handle)
	return args.Error(0)
}

func (m *MockJournal) ListRecent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JournalEntry), args.Error(1)
}

var testOptions = provider.Options{Provider: provider.KindSQS, QueueName: "orders"}

func TestMessageService_NilQueue(t *testing.T) {
	s := NewMessageService(nil, nil, nil, false)
	ctx := context.Background()

	assert.ErrorIs(t, s.Publish("x", nil), ErrNoQueue)
	assert.ErrorIs(t, s.Ack(ctx, "h"), ErrNoQueue)
	assert.ErrorIs(t, s.Consume(ctx), ErrNoQueue)
	assert.ErrorIs(t, s.WatchErrors(ctx), ErrNoQueue)
	assert.Equal(t, queue.HealthStatus{OK: true, Details: "no queue configured"}, s.Health())

	_, err := s.Recent(ctx, 10)
	assert.ErrorIs(t, err, ErrNoJournal)
}

func TestMessageService_Publish(t *testing.T) {
	t.Run("forwards to queue", func(t *testing.T) {
		q := new(MockQueue)
		q.On("Publish", "hello", provider.Extra{"DelaySeconds": 2}).Return(nil)

		s := NewMessageService(q, nil, nil, false)
		assert.NoError(t, s.Publish("hello", provider.Extra{"DelaySeconds": 2}))
		q.AssertExpectations(t)
	})

	t.Run("queue error", func(t *testing.T) {
		q := new(MockQueue)
		expectedErr := errors.New("closed")
		q.On("Publish", "hello", provider.Extra(nil)).Return(expectedErr)

		s := NewMessageService(q, nil, nil, false)
		assert.Equal(t, expectedErr, s.Publish("hello", nil))
	})
}

func TestMessageService_Ack(t *testing.T) {
	t.Run("marks journal entry", func(t *testing.T) {
		q := new(MockQueue)
		j := new(MockJournal)
		q.On("Ack", "h1").Return(nil)
		j.On("MarkAcked", "h1").Return(nil)

		s := NewMessageService(q, j, nil, false)
		require.NoError(t, s.Ack(context.Background(), "h1"))
		q.AssertExpectations(t)
		j.AssertExpectations(t)
	})

	t.Run("journal error is not returned", func(t *testing.T) {
		q := new(MockQueue)
		j := new(MockJournal)
		q.On("Ack", "h1").Return(nil)
		j.On("MarkAcked", "h1").Return(errors.New("not found"))

		s := NewMessageService(q, j, nil, false)
		assert.NoError(t, s.Ack(context.Background(), "h1"))
	})

	t.Run("queue error skips journal", func(t *testing.T) {
		q := new(MockQueue)
		j := new(MockJournal)
		q.On("Ack", "h1").Return(queue.ErrClosed)

		s := NewMessageService(q, j, nil, false)
		assert.ErrorIs(t, s.Ack(context.Background(), "h1"), queue.ErrClosed)
		j.AssertNotCalled(t, "MarkAcked", mock.Anything)
	})
}

func TestMessageService_Health(t *testing.T) {
	q := new(MockQueue)
	expectedStatus := queue.HealthStatus{OK: false, Details: "initializing"}
	q.On("Health").Return(expectedStatus)

	s := NewMessageService(q, nil, nil, false)
	assert.Equal(t, expectedStatus, s.Health())
	q.AssertExpectations(t)
}

func TestMessageService_Recent(t *testing.T) {
	j := new(MockJournal)
	entries := []models.JournalEntry{{ID: 2}, {ID: 1}}
	j.On("ListRecent", 2).Return(entries, nil)

	s := NewMessageService(new(MockQueue), j, nil, false)
	got, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestMessageService_Consume(t *testing.T) {
	q := new(MockQueue)
	j := new(MockJournal)
	messages := make(chan provider.Message, 2)
	recorded := make(chan models.JournalEntry, 2)

	q.On("AddConsumer").Return(messages).Once()
	q.On("RemoveConsumer").Return().Once()
	q.On("Options").Return(testOptions)
	q.On("Ack", "h1").Return(nil).Once()
	j.On("Record", mock.Anything).Return(models.JournalEntry{ID: 1}, nil).Run(func(args mock.Arguments) {
		recorded <- args.Get(0).(models.JournalEntry)
	})
	j.On("MarkAcked", "h1").Return(nil).Once()

	s := NewMessageService(q, j, nil, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Consume(ctx) }()

	messages <- provider.Message{Payload: map[string]any{"id": 1.0}, Handle: "h1"}
	messages <- provider.Message{Payload: "no handle"}

	first := <-recorded
	assert.Equal(t, models.JournalEntry{
		Provider:  "sqs",
		QueueName: "orders",
		Handle:    "h1",
		Payload:   models.Payload{Value: map[string]any{"id": 1.0}},
	}, first)
	second := <-recorded
	assert.Equal(t, "no handle", second.Payload.Value)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not return")
	}

	q.AssertExpectations(t)
	j.AssertExpectations(t)
	q.AssertNumberOfCalls(t, "Ack", 1)
}

func TestMessageService_ConsumeStopsOnClosedQueue(t *testing.T) {
	q := new(MockQueue)
	messages := make(chan provider.Message)
	close(messages)
	q.On("AddConsumer").Return(messages)
	q.On("RemoveConsumer").Return()
	q.On("Options").Return(testOptions)

	s := NewMessageService(q, nil, nil, true)
	assert.NoError(t, s.Consume(context.Background()))
	q.AssertExpectations(t)
}

func TestMessageService_ConsumeRecordErrorStillAcks(t *testing.T) {
	q := new(MockQueue)
	j := new(MockJournal)
	messages := make(chan provider.Message, 1)
	acked := make(chan struct{})

	q.On("AddConsumer").Return(messages)
	q.On("RemoveConsumer").Return()
	q.On("Options").Return(testOptions)
	q.On("Ack", "h1").Return(nil).Run(func(mock.Arguments) { close(acked) })
	j.On("Record", mock.Anything).Return(models.JournalEntry{}, errors.New("db down"))
	j.On("MarkAcked", "h1").Return(nil)

	s := NewMessageService(q, j, nil, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Consume(ctx) }()

	messages <- provider.Message{Payload: "x", Handle: "h1"}
	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("message not acked")
	}
}

func TestMessageService_WatchErrors(t *testing.T) {
	q := new(MockQueue)
	errs := make(chan error, 1)
	q.On("Errors").Return(errs)

	s := NewMessageService(q, nil, nil, false)
	done := make(chan error, 1)
	go func() { done <- s.WatchErrors(context.Background()) }()

	errs <- errors.New("receive failed")
	close(errs)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
}
