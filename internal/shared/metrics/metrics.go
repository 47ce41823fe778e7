package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	PipelineOperationsTotal *prometheus.CounterVec
	PipelineOperationErrors *prometheus.CounterVec
	PipelineProcessingTime  *prometheus.HistogramVec
	PipelineQueueDepth      prometheus.Gauge
	EngineResetsTotal       *prometheus.CounterVec

	// Session metrics
	ActiveSessions     prometheus.Gauge
	SessionEditsTotal  *prometheus.CounterVec
	StaleResultsTotal  prometheus.Counter
	PreviewCacheHits   *prometheus.CounterVec
	PreviewCacheMisses *prometheus.CounterVec

	// Auto-save metrics
	AutoSavesTotal *prometheus.CounterVec

	// Export job metrics
	ExportsTotal   *prometheus.CounterVec
	ExportDuration *prometheus.HistogramVec

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Pipeline metrics
		PipelineOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_operations_total",
				Help: "Total number of media pipeline operations",
			},
			[]string{"operation", "status"},
		),
		PipelineOperationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_operation_errors_total",
				Help: "Total number of media pipeline errors",
			},
			[]string{"operation", "error_type"},
		),
		PipelineProcessingTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_processing_time_seconds",
				Help:    "Media pipeline operation time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		PipelineQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Operations waiting for the codec engine",
			},
		),
		EngineResetsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_resets_total",
				Help: "Codec engine resets",
			},
			[]string{"reason"},
		),

		// Session metrics
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions",
				Help: "Number of open edit sessions",
			},
		),
		SessionEditsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_edits_total",
				Help: "Parameter changes by family",
			},
			[]string{"family"},
		),
		StaleResultsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "session_stale_results_total",
				Help: "Completed operations discarded because parameters changed meanwhile",
			},
		),
		PreviewCacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_cache_hits_total",
				Help: "Edit applications served from the preview cache",
			},
			[]string{"family"},
		),
		PreviewCacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_cache_misses_total",
				Help: "Edit applications that ran the pipeline",
			},
			[]string{"family"},
		),

		// Auto-save metrics
		AutoSavesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosaves_total",
				Help: "Auto-save attempts",
			},
			[]string{"backend", "status"},
		),

		// Export metrics
		ExportsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_total",
				Help: "Export jobs by outcome",
			},
			[]string{"format", "status"},
		),
		ExportDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_duration_seconds",
				Help:    "Export job duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"format"},
		),

		// WebSocket metrics
		WebSocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordPipelineOperation records a finished pipeline operation
func (m *Metrics) RecordPipelineOperation(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}

	m.PipelineOperationsTotal.WithLabelValues(operation, status).Inc()
	m.PipelineProcessingTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPipelineError records a pipeline error by kind
func (m *Metrics) RecordPipelineError(operation string, errorType string) {
	if m == nil {
		return
	}
	m.PipelineOperationErrors.WithLabelValues(operation, errorType).Inc()
}

// SetQueueDepth publishes the number of waiting operations
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PipelineQueueDepth.Set(float64(n))
}

// RecordEngineReset counts an engine reset
func (m *Metrics) RecordEngineReset(reason string) {
	if m == nil {
		return
	}
	m.EngineResetsTotal.WithLabelValues(reason).Inc()
}

// RecordSessionOpened and RecordSessionClosed track open sessions
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordEdit counts a parameter change
func (m *Metrics) RecordEdit(family string) {
	if m == nil {
		return
	}
	m.SessionEditsTotal.WithLabelValues(family).Inc()
}

// RecordStaleResult counts a discarded completion
func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResultsTotal.Inc()
}

// RecordCacheLookup records a preview cache hit or miss
func (m *Metrics) RecordCacheLookup(family string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PreviewCacheHits.WithLabelValues(family).Inc()
		return
	}
	m.PreviewCacheMisses.WithLabelValues(family).Inc()
}

// RecordAutoSave records an auto-save attempt
func (m *Metrics) RecordAutoSave(backend string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.AutoSavesTotal.WithLabelValues(backend, status).Inc()
}

// RecordExport records a finished export job
func (m *Metrics) RecordExport(format, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(format, status).Inc()
	m.ExportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	if m == nil {
		return
	}
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
