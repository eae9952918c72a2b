// Package metrics exposes per-camera pipeline counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's Prometheus collectors on a private
// registry so the exporter only serves what the pipeline reports.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	EventsDetected  *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	PersistErrors   *prometheus.CounterVec
	InferenceErrors *prometheus.CounterVec
	WorkerUp        *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_frames_processed_total",
		Help: "Frames read and processed per camera",
	}, []string{"camera_id"})

	m.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_frames_dropped_total",
		Help: "Frames lost to read failures per camera",
	}, []string{"camera_id"})

	m.EventsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_events_detected_total",
		Help: "Detection events persisted per camera and type",
	}, []string{"camera_id", "event_type"})

	m.Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_stream_reconnects_total",
		Help: "RTSP reconnection attempts per camera",
	}, []string{"camera_id"})

	m.PersistErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_persist_errors_total",
		Help: "Failed clip/event persists per camera",
	}, []string{"camera_id"})

	m.InferenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_inference_errors_total",
		Help: "Skipped frames due to model call failures per camera",
	}, []string{"camera_id"})

	m.WorkerUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cctv_worker_up",
		Help: "1 while the camera worker's detection loop runs, including reconnects",
	}, []string{"camera_id"})

	m.registry.MustRegister(
		m.FramesProcessed, m.FramesDropped, m.EventsDetected,
		m.Reconnects, m.PersistErrors, m.InferenceErrors, m.WorkerUp,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
