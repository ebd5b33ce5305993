package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ngpt"
	subsystem = "relay"
)

// Relay metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "model"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "endpoint", "status"},
	)

	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_requests_total",
			Help:      "Access gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_errors_total",
			Help:      "Total upstream completion failures",
		},
		[]string{"model", "phase"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of a relayed completion stream in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "outcome"},
	)

	FirstChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "first_chunk_seconds",
			Help:      "Time from upstream request to first streamed chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"model"},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_streams",
			Help:      "Currently active relayed streams",
		},
		[]string{"model"},
	)

	TrimmedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "trimmed_messages_total",
			Help:      "Messages dropped by server-side context trimming",
		},
		[]string{"model"},
	)

	PromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "prompt_tokens",
			Help:      "Estimated prompt tokens per relayed request",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 128000},
		},
		[]string{"model"},
	)

	UserAgentFamilyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "user_agent_family_total",
			Help:      "Requests by user agent family (browser/cli/sdk/unknown)",
		},
		[]string{"family"},
	)
)

// RecordRequest records an HTTP request with all relevant labels
func RecordRequest(method, endpoint string, status int, model string, durationSec float64) {
	if model == "" {
		model = "unknown"
	}
	statusStr := strconv.Itoa(status)
	RequestsTotal.WithLabelValues(method, endpoint, statusStr, model).Inc()
	RequestDuration.WithLabelValues(method, endpoint, statusStr).Observe(durationSec)
}

// RecordAuth records one access gate decision.
func RecordAuth(outcome string) {
	AuthRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordUpstreamError records an upstream failure; phase is "request" or "stream".
func RecordUpstreamError(model, phase string) {
	UpstreamErrorsTotal.WithLabelValues(model, phase).Inc()
}

// RecordUpstreamDuration records how long a relayed stream stayed open.
func RecordUpstreamDuration(model, outcome string, durationSec float64) {
	UpstreamDuration.WithLabelValues(model, outcome).Observe(durationSec)
}

// RecordFirstChunk records time to first streamed chunk.
func RecordFirstChunk(model string, durationSec float64) {
	FirstChunkDuration.WithLabelValues(model).Observe(durationSec)
}

// RecordTrim records the outcome of server-side trimming.
func RecordTrim(model string, trimmed, estimatedTokens int) {
	if trimmed > 0 {
		TrimmedMessagesTotal.WithLabelValues(model).Add(float64(trimmed))
	}
	PromptTokens.WithLabelValues(model).Observe(float64(estimatedTokens))
}

// IncrementActiveStreams increments the active streams gauge
func IncrementActiveStreams(model string) {
	ActiveStreams.WithLabelValues(model).Inc()
}

// DecrementActiveStreams decrements the active streams gauge
func DecrementActiveStreams(model string) {
	ActiveStreams.WithLabelValues(model).Dec()
}

// RecordUserAgent buckets the user agent into a low-cardinality family.
func RecordUserAgent(ua string) {
	UserAgentFamilyTotal.WithLabelValues(userAgentFamily(strings.ToLower(ua))).Inc()
}

func userAgentFamily(ua string) string {
	switch {
	case strings.Contains(ua, "ngpt-cli"):
		return "ngpt_cli"
	case strings.Contains(ua, "mozilla") || strings.Contains(ua, "chrome") || strings.Contains(ua, "safari") || strings.Contains(ua, "firefox"):
		return "browser"
	case strings.Contains(ua, "curl") || strings.Contains(ua, "wget") || strings.Contains(ua, "httpie"):
		return "cli"
	case strings.Contains(ua, "go-resty") || strings.Contains(ua, "go-http-client") || strings.Contains(ua, "python-requests") || strings.Contains(ua, "axios"):
		return "sdk"
	default:
		return "unknown"
	}
}
