package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	UploadsTotal        metric.Int64Counter
	UploadsRejected     metric.Int64Counter
	JobsProcessed       metric.Int64Counter
	DuplicatesDetected  metric.Int64Counter
	StageDuration       metric.Float64Histogram
	BackupDuration      metric.Float64Histogram
	QueueDepth          metric.Int64UpDownCounter
	AnalyzerBreakerOpen metric.Int64Counter

	depthMu   sync.Mutex
	lastDepth int64
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("paper-ingest-platform")

	uploadsTotal, err := meter.Int64Counter(
		"uploads.total",
		metric.WithDescription("Total upload attempts"),
	)
	if err != nil {
		return nil, err
	}

	uploadsRejected, err := meter.Int64Counter(
		"uploads.rejected",
		metric.WithDescription("Uploads rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	jobsProcessed, err := meter.Int64Counter(
		"jobs.processed",
		metric.WithDescription("Pipeline jobs finished, by status"),
	)
	if err != nil {
		return nil, err
	}

	duplicatesDetected, err := meter.Int64Counter(
		"duplicates.detected",
		metric.WithDescription("Duplicate uploads short-circuited, by layer"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	backupDuration, err := meter.Float64Histogram(
		"backup.duration",
		metric.WithDescription("Backup operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64UpDownCounter(
		"queue.depth",
		metric.WithDescription("Jobs waiting in the ingest queue"),
	)
	if err != nil {
		return nil, err
	}

	analyzerBreakerOpen, err := meter.Int64Counter(
		"analyzer.breaker.state_changes",
		metric.WithDescription("Analyzer circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		UploadsTotal:        uploadsTotal,
		UploadsRejected:     uploadsRejected,
		JobsProcessed:       jobsProcessed,
		DuplicatesDetected:  duplicatesDetected,
		StageDuration:       stageDuration,
		BackupDuration:      backupDuration,
		QueueDepth:          queueDepth,
		AnalyzerBreakerOpen: analyzerBreakerOpen,
	}, nil
}

// RecordUpload records an upload attempt and its validation outcome
func (m *Metrics) RecordUpload(accepted bool, reason string) {
	m.UploadsTotal.Add(context.Background(), 1)
	if !accepted {
		m.UploadsRejected.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reject.reason", reason)))
	}
}

// RecordJob records a finished pipeline job
func (m *Metrics) RecordJob(status string) {
	m.JobsProcessed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("job.status", status)))
}

// RecordDuplicate records a duplicate hit at the given cascade layer
func (m *Metrics) RecordDuplicate(layer string) {
	m.DuplicatesDetected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("duplicate.layer", layer)))
}

// RecordStage records a pipeline stage duration
func (m *Metrics) RecordStage(stage string, seconds float64, failed bool) {
	m.StageDuration.Record(context.Background(), seconds,
		metric.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.Bool("pipeline.stage_failed", failed),
		))
}

// RecordBackup records a backup operation duration
func (m *Metrics) RecordBackup(scope string, seconds float64, success bool) {
	m.BackupDuration.Record(context.Background(), seconds,
		metric.WithAttributes(
			attribute.String("backup.scope", scope),
			attribute.Bool("backup.success", success),
		))
}

// RecordQueueDepth reconciles the up-down counter to the current depth.
func (m *Metrics) RecordQueueDepth(depth int64) {
	m.depthMu.Lock()
	delta := depth - m.lastDepth
	m.lastDepth = depth
	m.depthMu.Unlock()
	if delta != 0 {
		m.QueueDepth.Add(context.Background(), delta)
	}
}

// RecordBreakerChange records an analyzer circuit breaker transition
func (m *Metrics) RecordBreakerChange(name, from, to string) {
	m.AnalyzerBreakerOpen.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("breaker.name", name),
			attribute.String("breaker.from", from),
			attribute.String("breaker.to", to),
		))
}
