package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics counts document lifecycle outcomes.
type PipelineMetrics struct {
	registry *prometheus.Registry

	intakeTotal      *prometheus.CounterVec
	recognizeSeconds prometheus.Histogram
	stageFailures    *prometheus.CounterVec
	exportsTotal     *prometheus.CounterVec
	uploadsTotal     *prometheus.CounterVec
}

func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	intakeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r2x",
			Subsystem: "pipeline",
			Name:      "intake_total",
			Help:      "Uploads taken in, by outcome (recognized, duplicate, failed).",
		},
		[]string{"outcome"},
	)
	recognizeSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "r2x",
			Subsystem: "pipeline",
			Name:      "recognize_duration_seconds",
			Help:      "Recognition service call duration.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r2x",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stage failures by error kind.",
		},
		[]string{"kind"},
	)
	exportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r2x",
			Subsystem: "pipeline",
			Name:      "exports_total",
			Help:      "Export renders by result.",
		},
		[]string{"result"},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r2x",
			Subsystem: "pipeline",
			Name:      "uploads_total",
			Help:      "Artifact uploads by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(intakeTotal, recognizeSeconds, stageFailures, exportsTotal, uploadsTotal)

	return &PipelineMetrics{
		registry:         registry,
		intakeTotal:      intakeTotal,
		recognizeSeconds: recognizeSeconds,
		stageFailures:    stageFailures,
		exportsTotal:     exportsTotal,
		uploadsTotal:     uploadsTotal,
	}
}

func (m *PipelineMetrics) ObserveIntake(outcome string) {
	if m == nil {
		return
	}
	m.intakeTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveRecognizeSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.recognizeSeconds.Observe(seconds)
}

func (m *PipelineMetrics) ObserveStageFailure(kind string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) ObserveExport(result string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveUpload(result string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry for the /metrics endpoint.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
