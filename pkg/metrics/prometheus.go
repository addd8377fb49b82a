package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver maps pipeline events onto Prometheus collectors.
//
// Metrics:
//   - receptionist_sessions_active (gauge)
//   - receptionist_sessions_total{reason} (counter, by end reason)
//   - receptionist_turns_total{outcome}
//   - receptionist_stage_duration_seconds{stage}
//   - receptionist_backend_events_total{component,provider,event} for retries,
//     rate limits and breaker transitions
type PrometheusObserver struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	turns          *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	backendEvents  *prometheus.CounterVec
}

// NewPrometheusObserver registers its collectors on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusObserver(reg *prometheus.Registry) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	o := &PrometheusObserver{
		registry: reg,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receptionist_sessions_active",
			Help: "Number of call sessions currently open.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receptionist_sessions_total",
			Help: "Call sessions ended, by reason.",
		}, []string{"reason"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receptionist_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "receptionist_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		backendEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receptionist_backend_events_total",
			Help: "Retries, rate limits and breaker transitions of external backends.",
		}, []string{"component", "provider", "event"}),
	}
	reg.MustRegister(o.activeSessions, o.sessionsTotal, o.turns, o.stageDuration, o.backendEvents)
	return o
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case EventSessionStart:
		o.activeSessions.Inc()
	case EventSessionEnd:
		o.activeSessions.Dec()
		o.sessionsTotal.WithLabelValues(tag(ev, "reason", "unknown")).Inc()
	case EventTurnOutcome:
		o.turns.WithLabelValues(tag(ev, "outcome", "unknown")).Inc()
	case EventStageLatency:
		o.stageDuration.WithLabelValues(tag(ev, "stage", "unknown")).Observe(ev.Value / 1000)
	case EventRetry, EventRateLimit, EventBreakerOpen, EventBreakerClose, EventBreakerDenied:
		o.backendEvents.WithLabelValues(tag(ev, "component", "unknown"), tag(ev, "provider", "unknown"), ev.Name).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

func (o *PrometheusObserver) Registry() *prometheus.Registry { return o.registry }

func tag(ev MetricsEvent, key, fallback string) string {
	if v := ev.Tags[key]; v != "" {
		return v
	}
	return fallback
}
