package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters exported at /metrics.
type Metrics struct {
	FramesCaptured    atomic.Uint64
	FramesProcessed   atomic.Uint64
	FramesRateLimited atomic.Uint64
	FramesDropped     atomic.Uint64 // source sends skipped while a frame was in flight
	FramesFailed      atomic.Uint64
	FramesRetained    atomic.Uint64
	RendersDropped    atomic.Uint64
	Detections        atomic.Uint64

	InferenceLatencyMs atomic.Uint64 // last round trip
	CaptureActive      atomic.Uint64 // 0 = stopped, 1 = running
	Viewers            atomic.Int64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	gauges := []struct {
		name  string
		help  string
		value func() float64
	}{
		{"pothole_frames_captured_total", "Frames delivered by the capture source", loadU(&m.FramesCaptured)},
		{"pothole_frames_processed_total", "Frames sent to the inference endpoint", loadU(&m.FramesProcessed)},
		{"pothole_frames_rate_limited_total", "Frames skipped by the send interval", loadU(&m.FramesRateLimited)},
		{"pothole_frames_dropped_total", "Frames dropped while a request was in flight", loadU(&m.FramesDropped)},
		{"pothole_frames_failed_total", "Frames whose inference request failed", loadU(&m.FramesFailed)},
		{"pothole_frames_retained_total", "Frames appended to the detection log", loadU(&m.FramesRetained)},
		{"pothole_renders_dropped_total", "Rendered frames replaced before broadcast", loadU(&m.RendersDropped)},
		{"pothole_detections_total", "Qualifying detections", loadU(&m.Detections)},
		{"pothole_inference_latency_ms", "Latency of the last inference round trip in milliseconds", loadU(&m.InferenceLatencyMs)},
		{"pothole_capture_active", "Capture running (0=stopped, 1=running)", loadU(&m.CaptureActive)},
		{"pothole_viewers", "Connected websocket viewers", func() float64 { return float64(m.Viewers.Load()) }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}

	return m
}

func loadU(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// ObserveLatency records the duration of the last inference round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetCaptureActive records whether capture is running.
func (m *Metrics) SetCaptureActive(active bool) {
	if active {
		m.CaptureActive.Store(1)
		return
	}
	m.CaptureActive.Store(0)
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
