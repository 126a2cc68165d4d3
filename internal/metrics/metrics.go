// Package metrics exposes Prometheus collectors for embedsrv servers.
//
// A nil *Metrics is valid and records nothing, so servers created without
// metrics pay only a nil check per event.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "embedsrv").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for callback duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "embedsrv",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Outcomes recorded by RequestServed.
const (
	OutcomeCallback = "callback"
	OutcomeStatic   = "static"
	OutcomeUpgrade  = "upgrade"
	OutcomeFailed   = "failed"
)

// Callback kinds recorded by ObserveCallback.
const (
	KindHTTP      = "http"
	KindWebSocket = "websocket"
)

// Metrics holds the collectors for one server.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	activeWebSockets  prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	callbackDuration  *prometheus.HistogramVec
	wsMessages        *prometheus.CounterVec
	tlsFailures       prometheus.Counter
}

// New creates the collectors and registers them. Collectors already present
// in the registry (for example from an earlier server in the same process)
// are reused.
func New(opts ...Option) (*Metrics, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Collectors are built unregistered and registered below so a second
	// server sharing a registry does not panic.
	factory := promauto.With(nil)

	m := &Metrics{
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted connections",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open accepted connections",
			ConstLabels: config.ConstLabels,
		}),

		activeWebSockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_websockets",
			Help:        "Number of open WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests by how they were answered",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		callbackDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callback_duration_seconds",
			Help:        "Time spent in host callbacks in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		wsMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_messages_total",
			Help:        "Total number of WebSocket messages by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),

		tlsFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tls_failures_total",
			Help:        "Total number of connections closed before or during the TLS handshake",
			ConstLabels: config.ConstLabels,
		}),
	}

	if config.Registry == nil {
		return m, nil
	}

	var err error
	m.connectionsTotal, err = register(config.Registry, m.connectionsTotal)
	if err != nil {
		return nil, err
	}
	m.activeConnections, err = register(config.Registry, m.activeConnections)
	if err != nil {
		return nil, err
	}
	m.activeWebSockets, err = register(config.Registry, m.activeWebSockets)
	if err != nil {
		return nil, err
	}
	m.requestsTotal, err = register(config.Registry, m.requestsTotal)
	if err != nil {
		return nil, err
	}
	m.callbackDuration, err = register(config.Registry, m.callbackDuration)
	if err != nil {
		return nil, err
	}
	m.wsMessages, err = register(config.Registry, m.wsMessages)
	if err != nil {
		return nil, err
	}
	m.tlsFailures, err = register(config.Registry, m.tlsFailures)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened(tls bool) {
	if m == nil {
		return
	}
	transport := "plain"
	if tls {
		transport = "tls"
	}
	m.connectionsTotal.WithLabelValues(transport).Inc()
	m.activeConnections.Inc()
}

// ConnectionClosed records the end of an accepted connection.
func (m *Metrics) ConnectionClosed(websocket bool) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	if websocket {
		m.activeWebSockets.Dec()
	}
}

// WebSocketOpened records a completed upgrade.
func (m *Metrics) WebSocketOpened() {
	if m == nil {
		return
	}
	m.activeWebSockets.Inc()
}

// RequestServed records how an HTTP request was answered.
func (m *Metrics) RequestServed(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCallback records the time spent in a host callback.
func (m *Metrics) ObserveCallback(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.callbackDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// MessageReceived records an inbound WebSocket message.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues("in").Inc()
}

// MessagesSent records n queued outbound WebSocket messages.
func (m *Metrics) MessagesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wsMessages.WithLabelValues("out").Add(float64(n))
}

// TLSFailure records a connection lost to missing credentials or a failed
// handshake.
func (m *Metrics) TLSFailure() {
	if m == nil {
		return
	}
	m.tlsFailures.Inc()
}
