package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/arbora/orders-api/internal/platform/observability")

// Metrics aggregates the failure counters the fulfillment core reports on.
// Counter registration errors degrade to no-op instruments.
type Metrics struct {
	auditAppendFailures  metric.Int64Counter
	stockReleaseFailures metric.Int64Counter
	enrichmentFailures   metric.Int64Counter
}

// NewMetrics registers the fulfillment counters on the global meter.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.auditAppendFailures, _ = meter.Int64Counter("orders.audit_append_failures",
		metric.WithDescription("Audit log append attempts that failed and were dropped"))
	m.stockReleaseFailures, _ = meter.Int64Counter("orders.stock_release_failures",
		metric.WithDescription("Stock release calls that failed and left reservations dangling"))
	m.enrichmentFailures, _ = meter.Int64Counter("orders.enrichment_failures",
		metric.WithDescription("Best-effort enrichment lookups that failed and were omitted"))
	return m
}

// AuditAppendFailure records one dropped audit entry.
func (m *Metrics) AuditAppendFailure(ctx context.Context, action string) {
	if m == nil || m.auditAppendFailures == nil {
		return
	}
	m.auditAppendFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// StockReleaseFailure records one failed release for the given branch.
func (m *Metrics) StockReleaseFailure(ctx context.Context, branchID string) {
	if m == nil || m.stockReleaseFailures == nil {
		return
	}
	m.stockReleaseFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("branch_id", branchID)))
}

// EnrichmentFailure records one omitted enrichment field.
func (m *Metrics) EnrichmentFailure(ctx context.Context, source string) {
	if m == nil || m.enrichmentFailures == nil {
		return
	}
	m.enrichmentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
