// ABOUTME: Prometheus instrumentation for collector calls, relayed events and registration
// ABOUTME: Uses a private registry exposed through WritePrometheus and Handler

package metrics

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry holds every agentlens collector.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RequestsTotal, RequestDuration,
		EventsTotal, EventsSuppressed,
		RegistrationAttempts, ToolFailures,
		OpenTraces, SyncsTotal,
	)
}

// RequestsTotal counts outbound collector requests by route and outcome.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentlens_collector_requests_total",
		Help: "Outbound collector requests",
	},
	[]string{"route", "outcome"}, // ok | http_error | network_error | decode_error
)

// RequestDuration observes collector request latency in seconds.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agentlens_collector_request_duration_seconds",
		Help:    "Collector request latency in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route"},
)

// EventsTotal counts events handed to the transport by type.
var EventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentlens_events_total",
		Help: "Telemetry events relayed to the collector",
	},
	[]string{"type"}, // message | tool_call | usage
)

// EventsSuppressed counts reconstructed events skipped because they were already relayed live.
var EventsSuppressed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentlens_events_suppressed_total",
		Help: "Reconstructed events dropped as duplicates of live events",
	},
	[]string{"type"},
)

// RegistrationAttempts counts registration attempts by outcome.
var RegistrationAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentlens_registration_attempts_total",
		Help: "Agent registration attempts",
	},
	[]string{"outcome"}, // registered | failed | exhausted
)

// ToolFailures counts tool call failures observed from the host.
var ToolFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agentlens_tool_failures_total",
		Help: "Tool call failures reported by the host",
	},
)

// OpenTraces is the number of conversation turns currently open.
var OpenTraces = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "agentlens_open_traces",
		Help: "Conversation turns currently open",
	},
)

// SyncsTotal counts config syncs by trigger.
var SyncsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentlens_config_syncs_total",
		Help: "Config syncs started",
	},
	[]string{"trigger"}, // start | heartbeat | timer
)

// WritePrometheus writes the registry in Prometheus text format to w.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry for scraping.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := WritePrometheus(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
