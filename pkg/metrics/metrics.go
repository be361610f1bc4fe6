package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics tracks the conversion pipeline's throughput and health.
// Each pipeline instance carries its own registry so independent batches
// (and tests) never collide on metric registration.
type PipelineMetrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	lanesBusy     prometheus.Gauge
	queueDepth    prometheus.Gauge
	eventsDropped prometheus.Counter
	streamDrops   prometheus.Counter
}

// NewPipelineMetrics creates and registers the pipeline metric set
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photobooth_jobs_total",
				Help: "Conversion jobs finished, labeled by outcome",
			},
			[]string{"outcome"}, // "succeeded", "failed", "canceled"
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "photobooth_job_duration_seconds",
				Help:    "Wall time per conversion job from start request to terminal state",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		lanesBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "photobooth_lanes_busy",
				Help: "Scheduler lanes currently driving a job",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "photobooth_queue_depth",
				Help: "Images waiting for a free lane",
			},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "photobooth_events_dropped_total",
				Help: "Server-pushed events for unknown or already-terminal ids",
			},
		),
		streamDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "photobooth_stream_disconnects_total",
				Help: "Times the shared event stream dropped and reconnected",
			},
		),
	}

	m.registry.MustRegister(m.jobsTotal)
	m.registry.MustRegister(m.jobDuration)
	m.registry.MustRegister(m.lanesBusy)
	m.registry.MustRegister(m.queueDepth)
	m.registry.MustRegister(m.eventsDropped)
	m.registry.MustRegister(m.streamDrops)

	return m
}

// RecordOutcome counts a finished job and observes its duration
func (m *PipelineMetrics) RecordOutcome(outcome string, seconds float64) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.jobDuration.Observe(seconds)
	}
}

// LaneStarted marks a lane as busy
func (m *PipelineMetrics) LaneStarted() {
	m.lanesBusy.Inc()
}

// LaneFreed marks a lane as idle again
func (m *PipelineMetrics) LaneFreed() {
	m.lanesBusy.Dec()
}

// SetQueueDepth records the number of images still waiting
func (m *PipelineMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// EventDropped counts an unroutable server-pushed event
func (m *PipelineMetrics) EventDropped() {
	m.eventsDropped.Inc()
}

// StreamDropped counts a shared-stream disconnect
func (m *PipelineMetrics) StreamDropped() {
	m.streamDrops.Inc()
}

// Handler returns an HTTP handler serving this instance's metrics
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
