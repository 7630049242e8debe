package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "commonmq"

type Metrics struct {
	// Message counters, labelled by provider
	published *prometheus.CounterVec
	received  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	acked     *prometheus.CounterVec
	errors    *prometheus.CounterVec

	// Queue state
	consumers *prometheus.GaugeVec
	ready     *prometheus.GaugeVec

	// Health checks run by the scheduler
	healthChecks *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_published_total",
			Help:      "Total messages handed to a provider for publishing",
		}, []string{"provider"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_received_total",
			Help:      "Total messages delivered to consumers",
		}, []string{"provider"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_dropped_total",
			Help:      "Total inbound messages dropped because no consumer was attached",
		}, []string{"provider"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_acked_total",
			Help:      "Total acknowledgements forwarded to a provider",
		}, []string{"provider"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total provider errors, by whether an error consumer received them",
		}, []string{"provider", "delivered"}),
		consumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "consumers",
			Help:      "Number of attached message consumers",
		}, []string{"provider", "queue"}),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ready",
			Help:      "1 once the provider finished initializing",
		}, []string{"provider", "queue"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total periodic health checks by status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.published),
		reg.Register(m.received),
		reg.Register(m.dropped),
		reg.Register(m.acked),
		reg.Register(m.errors),
		reg.Register(m.consumers),
		reg.Register(m.ready),
		reg.Register(m.healthChecks),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Health check status constants.
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
)

func (m *Metrics) IncPublished(provider string) {
	m.published.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncReceived(provider string) {
	m.received.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncDropped(provider string) {
	m.dropped.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncAcked(provider string) {
	m.acked.WithLabelValues(provider).Inc()
}

// IncError counts a provider error. delivered is false when the error
// channel was full and the error was only logged.
func (m *Metrics) IncError(provider string, delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	m.errors.WithLabelValues(provider, label).Inc()
}

// SetConsumers records the current consumer count of a queue.
func (m *Metrics) SetConsumers(provider, queue string, n int) {
	m.consumers.WithLabelValues(provider, queue).Set(float64(n))
}

// SetReady records whether a queue finished initializing.
func (m *Metrics) SetReady(provider, queue string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	m.ready.WithLabelValues(provider, queue).Set(v)
}

// ObserveHealth counts a periodic health check.
func (m *Metrics) ObserveHealth(ok bool) {
	status := StatusUnhealthy
	if ok {
		status = StatusOK
	}
	m.healthChecks.WithLabelValues(status).Inc()
}
