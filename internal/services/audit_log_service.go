package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/observability"
	"github.com/arbora/orders-api/internal/repositories"
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Metrics     *observability.Metrics
	Logger      AuditLogger
}

type auditLogService struct {
	repo    repositories.AuditLogRepository
	clock   func() time.Time
	newID   func() string
	metrics *observability.Metrics
	logger  AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = newAuditID
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:    deps.Repository,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// Record persists an audit entry. Repository failures are logged and counted
// but never bubble up, so a dropped entry cannot fail the mutation it trails.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if s.repo == nil {
		return
	}
	entry := s.buildEntry(record)
	if entry.OrderID == "" || entry.Action == "" {
		s.logger.Warnf("audit log entry dropped: missing order id or action")
		s.metrics.AuditAppendFailure(ctx, string(record.Action))
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed for order %s: %v", entry.OrderID, err)
		s.metrics.AuditAppendFailure(ctx, string(entry.Action))
	}
}

// ListByOrder returns one page of the order's audit trail, newest first.
func (s *auditLogService) ListByOrder(ctx context.Context, orderID string, query AuditLogListQuery) (domain.Page[domain.AuditLogEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Page[domain.AuditLogEntry]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return s.repo.ListByOrder(ctx, orderID, repositories.AuditLogQuery{
		Action:   query.Action,
		Since:    query.Since,
		Page:     query.Page,
		PageSize: pageSize,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	changes := make([]domain.AuditChange, 0, len(record.Changes))
	for _, change := range record.Changes {
		if strings.TrimSpace(change.Field) == "" {
			continue
		}
		changes = append(changes, change)
	}

	return domain.AuditLogEntry{
		ID:          s.newID(),
		OrderID:     strings.TrimSpace(record.OrderID),
		Action:      record.Action,
		Description: strings.TrimSpace(record.Description),
		PerformedBy: domain.AuditActor{
			ID:   strings.TrimSpace(record.PerformedBy.ID),
			Name: strings.TrimSpace(record.PerformedBy.Name),
			Role: record.PerformedBy.Role,
		},
		Changes:   changes,
		Metadata:  record.Metadata,
		CreatedAt: occurred,
	}
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
