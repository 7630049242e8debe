package provider

// Kind selects a backend implementation.
type Kind string

const (
	KindAMQP Kind = "amqp"
	KindSQS  Kind = "sqs"
	KindZMQ  Kind = "zmq"
)

// Extra carries backend specific publish parameters. Providers ignore the
// keys they do not understand.
type Extra map[string]any

// Message is a decoded inbound message.
type Message struct {
	// Payload is a []byte, a string, or a JSON-decoded value.
	Payload any
	// Handle identifies the message for Ack. Empty unless the backend
	// supports explicit acknowledgement.
	Handle string
}

// Emitter receives the asynchronous events of a provider.
type Emitter interface {
	Ready()
	Message(Message)
	Error(error)
}

// Provider is the capability set every backend implements.
//
// Publish, Subscribe, Unsubscribe and Ack never block on backend I/O; their
// failures are reported to the Emitter. Publish only returns an error when
// the payload cannot be encoded or the provider is closed.
type Provider interface {
	Publish(payload any, extra Extra) error
	Subscribe()
	Unsubscribe()
	Ack(handle string)
	Close()
}
