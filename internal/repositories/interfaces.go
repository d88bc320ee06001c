package repositories

import (
	"context"
	"time"

	domain "github.com/arbora/orders-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates and provides role-scoped query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Mutate applies fn to the order inside a transaction. fn receives the
	// current persisted state and returns the updated aggregate; the write
	// fails with a conflict when the stored version no longer matches the
	// version fn read.
	Mutate(ctx context.Context, orderID string, fn func(order domain.Order) (domain.Order, error)) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, query OrderListQuery) (domain.Page[domain.Order], error)
}

// OrderListQuery controls filtering and offset pagination for order listings.
type OrderListQuery struct {
	Filter    domain.OrderFilter
	SortOrder domain.SortOrder
	Page      int
	PageSize  int
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByOrder(ctx context.Context, orderID string, query AuditLogQuery) (domain.Page[domain.AuditLogEntry], error)
}

// AuditLogQuery controls filtering and offset pagination for audit listings.
type AuditLogQuery struct {
	Action   *domain.AuditAction
	Since    *time.Time
	Page     int
	PageSize int
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
