package domain

import (
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// Page packages offset-paginated list results.
type Page[T any] struct {
	Items    []T
	Page     int
	PageSize int
	HasMore  bool
}

// Role enumerates the actor roles recognised by the fulfillment core.
type Role string

const (
	// RoleCustomer identifies the order owner.
	RoleCustomer Role = "customer"
	// RoleEmployee identifies branch staff preparing orders.
	RoleEmployee Role = "employee"
	// RoleShipper identifies delivery staff.
	RoleShipper Role = "shipper"
	// RoleBranchManager identifies staff managing a single branch.
	RoleBranchManager Role = "branch_manager"
	// RoleAdmin identifies platform operators.
	RoleAdmin Role = "admin"
)

// ParseRole converts a raw claim value into a Role, failing closed on unknown values.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleCustomer, RoleEmployee, RoleShipper, RoleBranchManager, RoleAdmin:
		return Role(raw), true
	default:
		return "", false
	}
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingConfirmation indicates the order awaits branch confirmation.
	OrderStatusPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	// OrderStatusConfirmed indicates the branch accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPacking indicates branch staff are preparing the items.
	OrderStatusPacking OrderStatus = "PACKING"
	// OrderStatusReadyToShip indicates packing is complete and the order awaits pickup.
	OrderStatusReadyToShip OrderStatus = "READY_TO_SHIP"
	// OrderStatusShipping indicates the order is out for delivery.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered indicates the shipper confirmed delivery.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCompleted indicates the order finished settlement.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was terminated before completion.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailedDelivery indicates a delivery attempt failed.
	OrderStatusFailedDelivery OrderStatus = "FAILED_DELIVERY"
	// OrderStatusReturning indicates the order is on its way back to the branch.
	OrderStatusReturning OrderStatus = "RETURNING"
	// OrderStatusReturned indicates the order arrived back at the branch.
	OrderStatusReturned OrderStatus = "RETURNED"
)

// ParseOrderStatus converts a raw value into an OrderStatus, failing closed on unknown values.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case OrderStatusPendingConfirmation, OrderStatusConfirmed, OrderStatusPacking,
		OrderStatusReadyToShip, OrderStatusShipping, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailedDelivery,
		OrderStatusReturning, OrderStatusReturned:
		return OrderStatus(raw), true
	default:
		return "", false
	}
}

// PaymentMethod enumerates supported settlement methods.
type PaymentMethod string

const (
	// PaymentMethodCOD settles in cash when the order is delivered.
	PaymentMethodCOD PaymentMethod = "cash_on_delivery"
	// PaymentMethodWallet settles through the escrow wallet collaborator.
	PaymentMethodWallet PaymentMethod = "escrow_wallet"
	// PaymentMethodGateway settles through the external card gateway.
	PaymentMethodGateway PaymentMethod = "external_gateway"
)

// ParsePaymentMethod converts a raw value into a PaymentMethod, failing closed on unknown values.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(raw) {
	case PaymentMethodCOD, PaymentMethodWallet, PaymentMethodGateway:
		return PaymentMethod(raw), true
	default:
		return "", false
	}
}

// PaymentStatus enumerates settlement states tracked on the order.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no funds have been captured.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid indicates funds were captured or locked.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefundPending indicates a refund was requested but not yet settled.
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	// PaymentStatusRefunded indicates funds were returned to the customer.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed indicates the payment collaborator reported a failure.
	PaymentStatusFailed PaymentStatus = "failed"
)

// ParsePaymentStatus converts a raw value into a PaymentStatus, failing closed on unknown values.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch PaymentStatus(raw) {
	case PaymentStatusUnpaid, PaymentStatusPaid, PaymentStatusRefundPending,
		PaymentStatusRefunded, PaymentStatusFailed:
		return PaymentStatus(raw), true
	default:
		return "", false
	}
}

// OrderItem mirrors one cart line at the time of order creation.
// Monetary fields are in the smallest currency unit.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Discount    int64
}

// Order is the fulfillment aggregate root. BranchID is immutable once set and
// every persisted order carries exactly one.
type Order struct {
	ID                   string
	CustomerID           string
	BranchID             string
	Items                []OrderItem
	TotalPrice           int64
	TotalDiscount        int64
	Status               OrderStatus
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	IsPaid               bool
	ShipperID            *string
	AssignedEmployeeID   *string
	DeliveryAddress      *Address
	DeliveryCoordinates  *Coordinates
	DeliveryConfirmation *string
	DeliveryProof        *string
	DeliveryNotes        *string
	CancelReason         *string
	ReservationKey       string
	Version              int64
	ConfirmedAt          *time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Metadata             map[string]any
}

// ItemsSubtotal returns the undiscounted sum of line totals.
func (o Order) ItemsSubtotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

// TotalsConsistent reports whether totalPrice matches the item subtotal minus
// the total discount.
func (o Order) TotalsConsistent() bool {
	return o.TotalPrice == o.ItemsSubtotal()-o.TotalDiscount
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderFilter narrows role-scoped order listings. Zero-valued fields are ignored.
type OrderFilter struct {
	Status     *OrderStatus
	CustomerID string
	BranchID   string
	ShipperID  string
	EmployeeID string
	// IncludeUnassigned widens an employee/shipper scope to orders at the
	// branch that have no assignee yet.
	IncludeUnassigned bool
}

// Address represents the delivery address snapshot stored on the order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	District   *string
	PostalCode string
	Phone      *string
}

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Branch describes a physical fulfillment location from the branch directory.
type Branch struct {
	ID          string
	Name        string
	IsActive    bool
	Coordinates *Coordinates
	AddressLine string
	Phone       string
}

// AuditAction enumerates the order mutations recorded in the audit trail.
type AuditAction string

const (
	// AuditActionOrderCreated records initial order persistence.
	AuditActionOrderCreated AuditAction = "order_created"
	// AuditActionStatusUpdate records a lifecycle transition.
	AuditActionStatusUpdate AuditAction = "status_update"
	// AuditActionDeliveryUpdate records changes to delivery details.
	AuditActionDeliveryUpdate AuditAction = "delivery_update"
	// AuditActionProofUpload records a delivery proof registration.
	AuditActionProofUpload AuditAction = "proof_upload"
	// AuditActionShipperAssigned records a shipper assignment.
	AuditActionShipperAssigned AuditAction = "shipper_assigned"
	// AuditActionEmployeeAssigned records an employee assignment.
	AuditActionEmployeeAssigned AuditAction = "employee_assigned"
	// AuditActionOrderCancelled records a cancellation.
	AuditActionOrderCancelled AuditAction = "order_cancelled"
	// AuditActionPaymentUpdate records a settlement state change.
	AuditActionPaymentUpdate AuditAction = "payment_update"
)

// ParseAuditAction converts a raw value into an AuditAction, failing closed on unknown values.
func ParseAuditAction(raw string) (AuditAction, bool) {
	switch AuditAction(raw) {
	case AuditActionOrderCreated, AuditActionStatusUpdate, AuditActionDeliveryUpdate,
		AuditActionProofUpload, AuditActionShipperAssigned, AuditActionEmployeeAssigned,
		AuditActionOrderCancelled, AuditActionPaymentUpdate:
		return AuditAction(raw), true
	default:
		return "", false
	}
}

// AuditActor identifies who performed a recorded mutation.
type AuditActor struct {
	ID   string
	Name string
	Role Role
}

// AuditChange captures a single field delta inside an audit entry.
type AuditChange struct {
	Field    string
	OldValue string
	NewValue string
}

// AuditLogEntry is an immutable record of one order mutation.
type AuditLogEntry struct {
	ID          string
	OrderID     string
	Action      AuditAction
	Description string
	PerformedBy AuditActor
	Changes     []AuditChange
	Metadata    map[string]any
	CreatedAt   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency failed without being unreachable.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck captures the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness reporting.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
