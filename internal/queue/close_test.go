package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/provider/sqs"
)

// fakeSQS always has one message waiting.
type fakeSQS struct {
	receives atomic.Int32
	deletes  atomic.Int32
}

func (f *fakeSQS) GetQueueUrl(context.Context, *awssqs.GetQueueUrlInput, ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	return &awssqs.GetQueueUrlOutput{QueueUrl: aws.String("https://fake.sqs.url/orders")}, nil
}

func (f *fakeSQS) CreateQueue(context.Context, *awssqs.CreateQueueInput, ...func(*awssqs.Options)) (*awssqs.CreateQueueOutput, error) {
	return &awssqs.CreateQueueOutput{}, nil
}

func (f *fakeSQS) SendMessage(context.Context, *awssqs.SendMessageInput, ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	return &awssqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *awssqs.ReceiveMessageInput, ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	f.receives.Add(1)
	return &awssqs.ReceiveMessageOutput{
		Messages: []types.Message{{Body: aws.String("order placed"), ReceiptHandle: aws.String("h")}},
	}, nil
}

func (f *fakeSQS) DeleteMessage(context.Context, *awssqs.DeleteMessageInput, ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	f.deletes.Add(1)
	return &awssqs.DeleteMessageOutput{}, nil
}

func newSQSQueue(t *testing.T, api sqs.API) *Queue {
	t.Helper()
	factory := func(opts provider.Options, emitter provider.Emitter, log *zap.SugaredLogger) (provider.Provider, error) {
		p, err := sqs.New(opts, emitter, log, sqs.WithClient(api))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	q, err := New(provider.Options{
		Provider:           provider.KindSQS,
		QueueName:          "orders",
		DeleteAfterReceive: true,
		DelayBetweenPolls:  time.Millisecond,
	}, WithFactory(provider.KindSQS, factory))
	require.NoError(t, err)
	return q
}

// assertPollingStopped waits for an in-flight receive to settle, then checks
// that no further receive or delete happens.
func assertPollingStopped(t *testing.T, api *fakeSQS) {
	t.Helper()
	time.Sleep(10 * time.Millisecond)
	receives, deletes := api.receives.Load(), api.deletes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, receives, api.receives.Load(), "receive called after close")
	assert.Equal(t, deletes, api.deletes.Load(), "message deleted after close")
}

func TestClose_StopsPollingWithConsumers(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(t, api)

	msgs := q.AddConsumer()
	assert.Equal(t, "order placed", receive(t, msgs).Payload)

	require.NoError(t, q.Close())
	assertPollingStopped(t, api)
}

func TestClose_StopsPollingAfterRemoveConsumer(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(t, api)

	msgs := q.AddConsumer()
	receive(t, msgs)

	q.RemoveConsumer()
	require.NoError(t, q.Close())
	assertPollingStopped(t, api)
}

func TestClose_ManyQueuesLeaveNoPolling(t *testing.T) {
	api := &fakeSQS{}
	for i := 0; i < 20; i++ {
		q := newSQSQueue(t, api)
		receive(t, q.AddConsumer())
		require.NoError(t, q.Close())
	}
	assertPollingStopped(t, api)
}
