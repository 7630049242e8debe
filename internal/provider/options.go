package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingOption is returned when a required connection option is not set.
var ErrMissingOption = errors.New("required option is not set")

// Options describes how to reach a queue. Providers read only the fields
// relevant to them.
type Options struct {
	Provider  Kind
	QueueName string
	Hostname  string
	Port      int

	// ExchangeName is required by the AMQP provider.
	ExchangeName string

	// SQS settings.
	DeleteAfterReceive bool
	Attributes         map[string]string
	MaxReceiveCount    int32
	VisibilityTimeout  *int32
	WaitTimeSeconds    *int32
	DelayBetweenPolls  time.Duration

	// BackendConfig is handed to the backend untouched. The AMQP provider
	// accepts a URL string; the SQS provider a config file path or an
	// inline config.
	BackendConfig any
}

// Require returns an ErrMissingOption naming the first empty field.
func Require(fields ...Field) error {
	for _, f := range fields {
		if f.Empty {
			return fmt.Errorf("%w: %s", ErrMissingOption, f.Name)
		}
	}
	return nil
}

// Field is a named option checked by Require.
type Field struct {
	Name  string
	Empty bool
}

// StringField builds a Field for a string option.
func StringField(name, value string) Field {
	return Field{Name: name, Empty: value == ""}
}

// IntField builds a Field for a numeric option where zero means unset.
func IntField(name string, value int) Field {
	return Field{Name: name, Empty: value == 0}
}
