package services

import (
	"context"
	"time"

	"github.com/arbora/orders-api/internal/clients"
	domain "github.com/arbora/orders-api/internal/domain"
)

// Aliases expose collaborator DTOs under the services namespace without
// reversing dependency direction.
type (
	UserSummary      = clients.UserSummary
	ProductSummary   = clients.ProductSummary
	ItemAvailability = clients.ItemAvailability
)

// BranchResolver picks the branch that will fulfil a cart.
type BranchResolver interface {
	// Resolve returns the first branch able to satisfy every item, preferring
	// branches close to the delivery coordinates when supplied.
	Resolve(ctx context.Context, cmd ResolveBranchCommand) (domain.Branch, error)
}

// StockReservationCoordinator reserves and releases warehouse stock for one
// order attempt, compensating partially reserved items on failure.
type StockReservationCoordinator interface {
	ReserveAll(ctx context.Context, cmd ReserveStockCommand) error
	// ReleaseAll releases every item best-effort and reports how many release
	// calls failed. Individual item failures never surface as an error.
	ReleaseAll(ctx context.Context, cmd ReleaseStockCommand) ReleaseOutcome
}

// OrderService orchestrates order creation, lifecycle transitions, assignment
// and role-scoped retrieval.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.Page[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	AssignShipper(ctx context.Context, cmd AssignShipperCommand) (Order, error)
	AssignEmployee(ctx context.Context, cmd AssignEmployeeCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error)
	CreateDeliveryProofUpload(ctx context.Context, cmd DeliveryProofUploadCommand) (DeliveryProofUpload, error)
	ListAuditLogs(ctx context.Context, cmd ListAuditLogsCommand) (domain.Page[domain.AuditLogEntry], error)
}

// AuditLogService centralises immutable audit trail writes and reads.
type AuditLogService interface {
	// Record persists an audit entry best-effort. Failures are logged and
	// counted, never propagated to the caller.
	Record(ctx context.Context, record AuditLogRecord)
	ListByOrder(ctx context.Context, orderID string, query AuditLogListQuery) (domain.Page[domain.AuditLogEntry], error)
}

// SystemService aggregates dependency health for readiness probes.
type SystemService interface {
	Readiness(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the payload emitted on the order events topic.
type OrderEventMessage struct {
	EventType      string    `json:"eventType"`
	OrderID        string    `json:"orderId"`
	CustomerID     string    `json:"customerId"`
	BranchID       string    `json:"branchId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ReservationKey string    `json:"reservationKey,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Collaborator gateways -------------------------------------------------------

// BranchDirectory is the branch directory collaborator contract.
type BranchDirectory interface {
	GetBranch(ctx context.Context, branchID string) (domain.Branch, error)
	ListActiveBranches(ctx context.Context) ([]domain.Branch, error)
	NearestBranches(ctx context.Context, coords domain.Coordinates, count int) ([]domain.Branch, error)
}

// WarehouseGateway is the warehouse stock collaborator contract.
type WarehouseGateway interface {
	CheckAvailability(ctx context.Context, branchID string, items []domain.OrderItem) ([]clients.ItemAvailability, error)
	ReserveStock(ctx context.Context, branchID, reservationKey string, item domain.OrderItem) error
	ReleaseStock(ctx context.Context, branchID, reservationKey string, item domain.OrderItem) error
}

// RoutingGateway resolves road distances, best-effort.
type RoutingGateway interface {
	RoadDistance(ctx context.Context, from, to domain.Coordinates) (float64, error)
}

// UserDirectory resolves user profiles for enrichment and assignment checks.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (clients.UserSummary, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]clients.UserSummary, error)
}

// ProductCatalog resolves product summaries for display enrichment.
type ProductCatalog interface {
	GetProducts(ctx context.Context, productIDs []string) (map[string]clients.ProductSummary, error)
}

// WalletGateway is the escrow wallet collaborator contract.
type WalletGateway interface {
	LockFunds(ctx context.Context, orderID, customerID string, amount int64) error
	ReleaseFunds(ctx context.Context, orderID, customerID string, amount int64) error
	RefundFunds(ctx context.Context, orderID, customerID string, amount int64) error
}

// RefundProvider settles external-gateway refunds on cancellation.
type RefundProvider interface {
	CreateRefund(ctx context.Context, cmd RefundCommand) (RefundResult, error)
}

// RefundCommand requests a refund against the external payment gateway.
type RefundCommand struct {
	OrderID       string
	PaymentRef    string
	Amount        int64
	Reason        string
	CorrelationID string
}

// RefundResult reports the gateway-side refund reference and state.
type RefundResult struct {
	RefundID string
	Status   string
}

// Commands and DTOs -----------------------------------------------------------

// Actor identifies the authenticated principal driving an operation.
type Actor struct {
	ID       string
	Name     string
	Role     domain.Role
	BranchID string
}

// ResolveBranchCommand carries the inputs for branch resolution.
type ResolveBranchCommand struct {
	Items               []domain.OrderItem
	DeliveryCoordinates *domain.Coordinates
}

// ReserveStockCommand reserves every item at the branch under one correlation key.
type ReserveStockCommand struct {
	BranchID       string
	ReservationKey string
	Items          []domain.OrderItem
}

// ReleaseStockCommand releases previously reserved items.
type ReleaseStockCommand struct {
	OrderID        string
	BranchID       string
	ReservationKey string
	Items          []domain.OrderItem
}

// ReleaseOutcome summarises a best-effort release pass.
type ReleaseOutcome struct {
	Released int
	Failed   int
}

// CreateOrderCommand creates an order from a validated cart payload.
type CreateOrderCommand struct {
	Actor               Actor
	Items               []domain.OrderItem
	PaymentMethod       domain.PaymentMethod
	TotalDiscount       int64
	DeliveryAddress     *domain.Address
	DeliveryCoordinates *domain.Coordinates
	DeliveryNotes       *string
	Metadata            map[string]string
}

// OrderListQuery narrows a role-scoped listing.
type OrderListQuery struct {
	Actor     Actor
	Status    *domain.OrderStatus
	Customer  string
	Branch    string
	Shipper   string
	SortOrder domain.SortOrder
	Page      int
	PageSize  int
	// DeliverableOnly restricts the listing to orders a shipper can act on.
	DeliverableOnly bool
}

// UpdateOrderStatusCommand drives a lifecycle transition for staff roles.
type UpdateOrderStatusCommand struct {
	OrderID              string
	Actor                Actor
	TargetStatus         domain.OrderStatus
	Justification        string
	DeliveryConfirmation *string
	DeliveryNotes        *string
}

// AssignShipperCommand sets the shipper responsible for delivery.
type AssignShipperCommand struct {
	OrderID   string
	Actor     Actor
	ShipperID string
}

// AssignEmployeeCommand sets the branch employee preparing the order.
type AssignEmployeeCommand struct {
	OrderID    string
	Actor      Actor
	EmployeeID string
}

// CancelOrderCommand is the customer-initiated cancellation path.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  *string
}

// UpdatePaymentStatusCommand is the internal payment collaborator callback.
type UpdatePaymentStatusCommand struct {
	OrderID       string
	PaymentStatus domain.PaymentStatus
	PaymentRef    string
}

// DeliveryProofUploadCommand requests a signed upload URL for a delivery proof.
type DeliveryProofUploadCommand struct {
	OrderID     string
	Actor       Actor
	FileName    string
	ContentType string
	ContentMD5  string
}

// DeliveryProofUpload is the signed upload grant returned to the shipper.
type DeliveryProofUpload struct {
	ProofID    string
	ObjectPath string
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// ListAuditLogsCommand retrieves the mutation history of an order the actor may read.
type ListAuditLogsCommand struct {
	OrderID  string
	Actor    Actor
	Page     int
	PageSize int
}

// AuditLogRecord is the payload accepted by the audit writer.
type AuditLogRecord struct {
	OrderID     string
	Action      domain.AuditAction
	Description string
	PerformedBy domain.AuditActor
	Changes     []domain.AuditChange
	Metadata    map[string]any
	OccurredAt  time.Time
}

// AuditLogListQuery controls audit trail pagination.
type AuditLogListQuery struct {
	Action   *domain.AuditAction
	Since    *time.Time
	Page     int
	PageSize int
}

// Order is the enriched aggregate returned by read operations. Enrichment
// fields stay nil when the corresponding collaborator lookup failed or is not
// applicable.
type Order struct {
	domain.Order

	Customer *clients.UserSummary
	Branch   *domain.Branch
	Shipper  *clients.UserSummary
	Employee *clients.UserSummary
	Products map[string]clients.ProductSummary
}
