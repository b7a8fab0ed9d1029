// Package metrics instruments kernel operations with OpenTelemetry. All
// instruments degrade gracefully: a failed registration logs a warning and
// recording becomes a no-op, never an error for the caller.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/trustd/internal/metrics"

// KernelMetrics holds all kernel-level instruments.
type KernelMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	sanitizeTotal    metric.Int64Counter
	sanitizeRisk     metric.Float64Histogram
	memoryStores     metric.Int64Counter
	memoryRejections metric.Int64Counter
	memoryDenials    metric.Int64Counter
	auditVerifyFail  metric.Int64Counter
	planReviews      metric.Int64Counter
	heartbeatChanges metric.Int64Counter
}

// NewKernelMetrics creates a KernelMetrics instance on the global meter
// provider.
func NewKernelMetrics(logger *zap.Logger) *KernelMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &KernelMetrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *KernelMetrics) init() {
	var err error

	m.sanitizeTotal, err = m.meter.Int64Counter(
		"trustd.sanitize.assessments_total",
		metric.WithDescription("Content assessments labeled by trust level and safety verdict. Use rate() for assessment throughput."),
		metric.WithUnit("{assessment}"),
	)
	if err != nil {
		m.logger.Warn("failed to create sanitize counter", zap.Error(err))
	}

	m.sanitizeRisk, err = m.meter.Float64Histogram(
		"trustd.sanitize.risk_score",
		metric.WithDescription("Risk score distribution per assessment, 0 to 100, labeled by trust level."),
		metric.WithExplicitBucketBoundaries(0, 10, 25, 40, 55, 70, 85, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create risk score histogram", zap.Error(err))
	}

	m.memoryStores, err = m.meter.Int64Counter(
		"trustd.memory.stores_total",
		metric.WithDescription("Accepted memory stores labeled by partition and submitting agent."),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create memory stores counter", zap.Error(err))
	}

	m.memoryRejections, err = m.meter.Int64Counter(
		"trustd.memory.rejections_total",
		metric.WithDescription("Quarantined memory submissions labeled by rejection reason (content_poisoning, trust_violation)."),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create memory rejections counter", zap.Error(err))
	}

	m.memoryDenials, err = m.meter.Int64Counter(
		"trustd.memory.access_denials_total",
		metric.WithDescription("Partition access denials labeled by partition and requesting agent."),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		m.logger.Warn("failed to create memory denials counter", zap.Error(err))
	}

	m.auditVerifyFail, err = m.meter.Int64Counter(
		"trustd.audit.verify_failures_total",
		metric.WithDescription("Chain verifications that found a broken link. Any nonzero value needs investigation."),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create verify failures counter", zap.Error(err))
	}

	m.planReviews, err = m.meter.Int64Counter(
		"trustd.governance.reviews_total",
		metric.WithDescription("Completed review pipelines labeled by final status (approved, rejected, needs_revision)."),
		metric.WithUnit("{pipeline}"),
	)
	if err != nil {
		m.logger.Warn("failed to create plan reviews counter", zap.Error(err))
	}

	m.heartbeatChanges, err = m.meter.Int64Counter(
		"trustd.heartbeat.status_changes_total",
		metric.WithDescription("Component health transitions labeled by component and new status."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.logger.Warn("failed to create heartbeat changes counter", zap.Error(err))
	}
}

// RecordSanitize records one content assessment.
func (m *KernelMetrics) RecordSanitize(ctx context.Context, trustLevel string, safe bool, riskScore float64) {
	attrs := []attribute.KeyValue{
		attribute.String("trust_level", trustLevel),
		attribute.Bool("safe", safe),
	}
	if m.sanitizeTotal != nil {
		m.sanitizeTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.sanitizeRisk != nil {
		m.sanitizeRisk.Record(ctx, riskScore,
			metric.WithAttributes(attribute.String("trust_level", trustLevel)))
	}
}

// RecordMemoryStore records one accepted store.
func (m *KernelMetrics) RecordMemoryStore(ctx context.Context, partition, agent string) {
	if m.memoryStores != nil {
		m.memoryStores.Add(ctx, 1, metric.WithAttributes(
			attribute.String("partition", partition),
			attribute.String("agent", agent),
		))
	}
}

// RecordMemoryRejection records one quarantined submission.
func (m *KernelMetrics) RecordMemoryRejection(ctx context.Context, reason string) {
	if m.memoryRejections != nil {
		m.memoryRejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", reason),
		))
	}
}

// RecordMemoryDenial records one partition access denial.
func (m *KernelMetrics) RecordMemoryDenial(ctx context.Context, partition, agent string) {
	if m.memoryDenials != nil {
		m.memoryDenials.Add(ctx, 1, metric.WithAttributes(
			attribute.String("partition", partition),
			attribute.String("agent", agent),
		))
	}
}

// RecordAuditVerifyFailure records one failed chain verification.
func (m *KernelMetrics) RecordAuditVerifyFailure(ctx context.Context) {
	if m.auditVerifyFail != nil {
		m.auditVerifyFail.Add(ctx, 1)
	}
}

// RecordPlanReview records one completed pipeline.
func (m *KernelMetrics) RecordPlanReview(ctx context.Context, status string) {
	if m.planReviews != nil {
		m.planReviews.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordHeartbeatChange records one component health transition.
func (m *KernelMetrics) RecordHeartbeatChange(ctx context.Context, component, status string) {
	if m.heartbeatChanges != nil {
		m.heartbeatChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("status", status),
		))
	}
}
