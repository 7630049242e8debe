package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydcotten/common-mq/internal/provider"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected provider.Options
	}{
		{
			name:     "host only",
			raw:      "test://queue",
			expected: provider.Options{Provider: "test", Hostname: "queue", QueueName: "queue"},
		},
		{
			name:     "host and path",
			raw:      "amqp://localhost/orders",
			expected: provider.Options{Provider: provider.KindAMQP, Hostname: "localhost", QueueName: "orders"},
		},
		{
			name:     "port",
			raw:      "zmq://127.0.0.1:5555/events",
			expected: provider.Options{Provider: provider.KindZMQ, Hostname: "127.0.0.1", Port: 5555, QueueName: "events"},
		},
		{
			name:     "trailing slash",
			raw:      "sqs://region/orders/",
			expected: provider.Options{Provider: provider.KindSQS, Hostname: "region", QueueName: "orders"},
		},
		{
			name:     "nested path",
			raw:      "sqs://region/team/orders",
			expected: provider.Options{Provider: provider.KindSQS, Hostname: "region", QueueName: "team/orders"},
		},
		{
			name:     "upper case scheme",
			raw:      "AMQP://localhost/orders",
			expected: provider.Options{Provider: provider.KindAMQP, Hostname: "localhost", QueueName: "orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseURL_Invalid(t *testing.T) {
	for _, raw := range []string{"", "invalid url string", "://queue", "amqp:/queue", "amqp://host:port/queue"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseURL(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}
