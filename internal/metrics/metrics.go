// Package metrics exposes the pipeline's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotelpipe_rows_published_total",
			Help: "Rows sent to the telemetry ingestion service, by result",
		},
		[]string{"result"}, // "sent" | "failed"
	)

	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotelpipe_publish_request_seconds",
			Help:    "Duration of a single telemetry publish call",
			Buckets: prometheus.DefBuckets,
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotelpipe_stage_duration_seconds",
			Help:    "Duration of pipeline stage runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage", "status"},
	)

	StageRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotelpipe_stage_rows_total",
			Help: "Rows read and written by pipeline stages",
		},
		[]string{"stage", "direction"}, // direction: "read" | "written" | "failed"
	)

	DeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotelpipe_dead_letters",
			Help: "Failed publishes waiting for replay",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hotelpipe_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	UploadsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotelpipe_uploads_total",
			Help: "CSV files received by the upload endpoint",
		},
	)
)

// RecordPublish counts one publish call.
func RecordPublish(ok bool, d time.Duration) {
	PublishLatency.Observe(d.Seconds())
	if ok {
		RowsPublished.WithLabelValues("sent").Inc()
		return
	}
	RowsPublished.WithLabelValues("failed").Inc()
}

// RecordStage records one stage run.
func RecordStage(stage, status string, d time.Duration, read, written, failed int) {
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	StageRows.WithLabelValues(stage, "read").Add(float64(read))
	StageRows.WithLabelValues(stage, "written").Add(float64(written))
	StageRows.WithLabelValues(stage, "failed").Add(float64(failed))
}
