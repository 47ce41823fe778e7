package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 10)
		m.RecordPipelineOperation("crop", true, time.Second)
		m.RecordEdit("crop")
		m.RecordAutoSave("redis", false)
		m.RecordExport("mp4", "completed", time.Second)
		m.RecordWebSocketConnection(true)
	})
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEdit("crop")
	m.RecordEdit("crop")
	m.RecordEdit("trim")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionEditsTotal.WithLabelValues("crop")))

	m.RecordCacheLookup("crop", true)
	m.RecordCacheLookup("crop", false)
	m.RecordCacheLookup("crop", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PreviewCacheHits.WithLabelValues("crop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PreviewCacheMisses.WithLabelValues("crop")))

	m.RecordSessionOpened()
	m.RecordSessionOpened()
	m.RecordSessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))

	m.RecordAutoSave("sqlite", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AutoSavesTotal.WithLabelValues("sqlite", "failure")))

	m.RecordHTTPRequest("POST", "/api/v1/sessions", 201, time.Millisecond, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "2xx")))

	m.SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PipelineQueueDepth))
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeToString(tt.code))
	}
}
