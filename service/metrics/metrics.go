package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 中继的指标。nil *Metrics 上调用任何方法都是 no-op，单测可以直接传 nil。
type Metrics struct {
	reg *prometheus.Registry

	// Connections is the number of live websocket connections, joined or not.
	Connections prometheus.Gauge
	// OnlineUsers is the number of users with at least one joined connection.
	OnlineUsers prometheus.Gauge

	// EventsIn counts inbound frames by event type.
	EventsIn *prometheus.CounterVec
	// EventsOut counts frames enqueued to a connection by event type.
	EventsOut *prometheus.CounterVec
	// Dropped counts events that reached no connection.
	// Labels: reason (offline|slow_consumer|malformed|stale|not_joined|rate_limited|no_handler)
	Dropped *prometheus.CounterVec

	// CallTransitions counts call attempts entering a state.
	CallTransitions *prometheus.CounterVec

	// HTTPRequestDuration measures collaborator API latency.
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pprelay_connections",
			Help: "Live websocket connections.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "pprelay_online_users",
			Help: "Users with at least one live connection.",
		}),
		EventsIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_events_in_total",
			Help: "Inbound events by type.",
		}, []string{"type"}),
		EventsOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_events_out_total",
			Help: "Outbound events enqueued by type.",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_events_dropped_total",
			Help: "Events dropped by reason.",
		}, []string{"reason"}),
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_call_transitions_total",
			Help: "Call attempts entering a state.",
		}, []string{"state"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pprelay_http_request_duration_seconds",
			Help:    "Collaborator API latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) In(eventType string) {
	if m != nil {
		m.EventsIn.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Out(eventType string, n int) {
	if m != nil && n > 0 {
		m.EventsOut.WithLabelValues(eventType).Add(float64(n))
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Call(state string) {
	if m != nil {
		m.CallTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetOnline(n int) {
	if m != nil {
		m.OnlineUsers.Set(float64(n))
	}
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m != nil {
		m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
	}
}
