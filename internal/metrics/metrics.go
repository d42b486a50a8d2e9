// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/warren/internal/event"
)

const namespace = "warren"

// Metrics holds the collectors for one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	activeSessions   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	sessionsFailed   *prometheus.CounterVec
	turns            *prometheus.CounterVec
	turnDuration     prometheus.Histogram
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	fileOverlaps     prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions that are not closed",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that moved to failed",
		}, []string{"kind"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of agent turns by outcome",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Agent turn duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		}, []string{"tool", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of scheduled retries",
		}, []string{"operation", "error_kind"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Total number of rejected commands",
		}, []string{"command", "kind"}),
		fileOverlaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_overlaps_total",
			Help:      "Total number of files modified by more than one session",
		}),
	}
	reg.MustRegister(
		m.activeSessions,
		m.sessionsCreated,
		m.sessionsFailed,
		m.turns,
		m.turnDuration,
		m.toolCalls,
		m.toolCallDuration,
		m.retries,
		m.commandsRejected,
		m.fileOverlaps,
	)
	return m
}

// Handler returns an HTTP handler serving the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Attach subscribes m to every event on bus and returns the subscription id.
func (m *Metrics) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(m.Observe)
}

// Observe records one event.
func (m *Metrics) Observe(e event.Event) {
	switch ev := e.(type) {
	case event.SessionCreatedEvent:
		m.sessionsCreated.Inc()
		m.activeSessions.Inc()
	case event.SessionClosedEvent:
		m.activeSessions.Dec()
	case event.SessionFailedEvent:
		m.sessionsFailed.WithLabelValues(ev.Kind).Inc()
	case event.TurnFinishedEvent:
		m.turns.WithLabelValues(ev.Outcome).Inc()
		m.turnDuration.Observe(ev.Duration.Seconds())
	case event.ToolCallCompletedEvent:
		m.toolCalls.WithLabelValues(ev.Tool, toolStatus(ev)).Inc()
		m.toolCallDuration.WithLabelValues(ev.Tool).Observe(ev.Duration.Seconds())
	case event.RetryScheduledEvent:
		m.retries.WithLabelValues(ev.Operation, ev.ErrorKind).Inc()
	case event.CommandRejectedEvent:
		m.commandsRejected.WithLabelValues(ev.Command, ev.Kind).Inc()
	case event.FileOverlapEvent:
		m.fileOverlaps.Inc()
	}
}

func toolStatus(ev event.ToolCallCompletedEvent) string {
	switch {
	case ev.ErrorKind != "":
		return "error"
	case ev.Failed:
		return "failed"
	default:
		return "ok"
	}
}
