package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arbora/orders-api/internal/clients"
	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/observability"
	"github.com/arbora/orders-api/internal/platform/storage"
	"github.com/arbora/orders-api/internal/platform/textutil"
	"github.com/arbora/orders-api/internal/repositories"
)

// Sentinel errors returned by the order service. Handlers map these onto HTTP
// status codes; wrap them with fmt.Errorf("%w: ...") to add detail.
var (
	ErrOrderInvalidInput     = errors.New("orders: invalid input")
	ErrOrderNotFound         = errors.New("orders: order not found")
	ErrOrderForbidden        = errors.New("orders: forbidden")
	ErrInvalidTransition     = errors.New("orders: invalid status transition")
	ErrForbiddenTransition   = errors.New("orders: transition not allowed for this actor")
	ErrNoBranchAvailable     = errors.New("orders: no branch can fulfil the order")
	ErrInsufficientStock     = errors.New("orders: insufficient stock")
	ErrOrderConflict         = errors.New("orders: order was modified concurrently")
	ErrDependencyUnavailable = errors.New("orders: upstream dependency unavailable")
	ErrMissingBranchScope    = errors.New("orders: staff access requires a branch assignment")
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
)

// ProofURLSigner issues signed upload URLs for delivery proof objects.
type ProofURLSigner interface {
	SignedUploadURL(ctx context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURLResult, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Resolver     BranchResolver
	Reservations StockReservationCoordinator
	Audit        AuditLogService

	// Enrichment and assignment collaborators; lookups through them are
	// best-effort unless noted on the operation.
	Branches BranchDirectory
	Users    UserDirectory
	Products ProductCatalog

	// Settlement collaborators. Wallet is required to accept escrow orders,
	// Refunds to settle gateway refunds on cancellation.
	Wallet  WalletGateway
	Refunds RefundProvider

	Proofs      ProofURLSigner
	ProofBucket string

	Events  OrderEventPublisher
	Metrics *observability.Metrics

	Clock       func() time.Time
	IDGenerator func() string
	// KeyGenerator mints reservation correlation keys.
	KeyGenerator func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	resolver     BranchResolver
	reservations StockReservationCoordinator
	audit        AuditLogService
	branches     BranchDirectory
	users        UserDirectory
	products     ProductCatalog
	wallet       WalletGateway
	refunds      RefundProvider
	proofs       ProofURLSigner
	proofBucket  string
	events       OrderEventPublisher
	metrics      *observability.Metrics
	clock        func() time.Time
	newID        func() string
	newKey       func() string
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("order service: branch resolver is required")
	}
	if deps.Reservations == nil {
		return nil, errors.New("order service: reservation coordinator is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("order service: audit log service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = newOrderID
	}
	keyGen := deps.KeyGenerator
	if keyGen == nil {
		keyGen = newReservationKey
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:       deps.Orders,
		resolver:     deps.Resolver,
		reservations: deps.Reservations,
		audit:        deps.Audit,
		branches:     deps.Branches,
		users:        deps.Users,
		products:     deps.Products,
		wallet:       deps.Wallet,
		refunds:      deps.Refunds,
		proofs:       deps.Proofs,
		proofBucket:  strings.TrimSpace(deps.ProofBucket),
		events:       deps.Events,
		metrics:      deps.Metrics,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		newKey:       keyGen,
		logger:       logger,
	}, nil
}

// Create places a new order: it validates the cart, resolves the fulfilling
// branch, reserves stock under a fresh correlation key and persists the order
// in PENDING_CONFIRMATION. A reservation or settlement failure after partial
// progress compensates everything acquired so far.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateCommand(cmd); err != nil {
		return Order{}, err
	}

	subtotal := itemsSubtotal(cmd.Items)
	if cmd.TotalDiscount < 0 || cmd.TotalDiscount > subtotal {
		return Order{}, fmt.Errorf("%w: total discount must be between 0 and the item subtotal", ErrOrderInvalidInput)
	}
	totalPrice := subtotal - cmd.TotalDiscount

	branch, err := s.resolver.Resolve(ctx, ResolveBranchCommand{
		Items:               cmd.Items,
		DeliveryCoordinates: cmd.DeliveryCoordinates,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	orderID := s.newID()
	reservationKey := s.newKey()

	if err := s.reservations.ReserveAll(ctx, ReserveStockCommand{
		BranchID:       branch.ID,
		ReservationKey: reservationKey,
		Items:          cmd.Items,
	}); err != nil {
		return Order{}, err
	}

	releaseReservation := func() {
		s.reservations.ReleaseAll(ctx, ReleaseStockCommand{
			OrderID:        orderID,
			BranchID:       branch.ID,
			ReservationKey: reservationKey,
			Items:          cmd.Items,
		})
	}

	paymentStatus := domain.PaymentStatusUnpaid
	isPaid := false
	if cmd.PaymentMethod == domain.PaymentMethodWallet {
		if s.wallet == nil {
			releaseReservation()
			return Order{}, fmt.Errorf("%w: wallet settlement is not configured", ErrDependencyUnavailable)
		}
		if err := s.wallet.LockFunds(ctx, orderID, cmd.Actor.ID, totalPrice); err != nil {
			releaseReservation()
			return Order{}, fmt.Errorf("%w: locking wallet funds: %v", ErrDependencyUnavailable, err)
		}
		paymentStatus = domain.PaymentStatusPaid
		isPaid = true
	}

	order := domain.Order{
		ID:                  orderID,
		CustomerID:          cmd.Actor.ID,
		BranchID:            branch.ID,
		Items:               cloneItems(cmd.Items),
		TotalPrice:          totalPrice,
		TotalDiscount:       cmd.TotalDiscount,
		Status:              domain.OrderStatusPendingConfirmation,
		PaymentMethod:       cmd.PaymentMethod,
		PaymentStatus:       paymentStatus,
		IsPaid:              isPaid,
		DeliveryAddress:     cloneAddress(cmd.DeliveryAddress),
		DeliveryCoordinates: cloneCoordinates(cmd.DeliveryCoordinates),
		DeliveryNotes:       textutil.SanitizeFreeTextPtr(cmd.DeliveryNotes),
		ReservationKey:      reservationKey,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
		Metadata:            metadataFromStrings(cmd.Metadata),
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		releaseReservation()
		if isPaid && s.wallet != nil {
			if unlockErr := s.wallet.ReleaseFunds(ctx, orderID, cmd.Actor.ID, totalPrice); unlockErr != nil {
				s.logger(ctx, "orders.wallet_unlock_failed", map[string]any{
					"orderId": orderID,
					"error":   unlockErr.Error(),
				})
			}
		}
		return Order{}, s.mapRepoError(err)
	}

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     order.ID,
		Action:      domain.AuditActionOrderCreated,
		Description: fmt.Sprintf("order created at branch %s", branch.ID),
		PerformedBy: actorToAudit(cmd.Actor),
		OccurredAt:  now,
	})
	s.publishEvent(ctx, "order.created", order, "")

	return s.enrichOne(ctx, order), nil
}

// GetOrder fetches one order the actor is allowed to read.
func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}
	if err := canReadOrder(actor, order); err != nil {
		return Order{}, err
	}
	return s.enrichOne(ctx, order), nil
}

// ListOrders returns one page of orders visible to the actor. Staff roles
// below admin are always confined to their branch.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.Page[Order], error) {
	filter, err := buildListFilter(query)
	if err != nil {
		return domain.Page[Order]{}, err
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	if pageSize > maxListPageSize {
		pageSize = maxListPageSize
	}

	result, err := s.orders.List(ctx, repositories.OrderListQuery{
		Filter:    filter,
		SortOrder: query.SortOrder,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.Page[Order]{}, s.mapRepoError(err)
	}

	return domain.Page[Order]{
		Items:    s.enrich(ctx, result.Items),
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	}, nil
}

// UpdateStatus drives one lifecycle transition. The edge is validated against
// the transition graph first, then against the actor's role policy; lifecycle
// side effects land in the same transactional write as the status itself.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, ok := domain.ParseOrderStatus(string(cmd.TargetStatus)); !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	now := s.clock()
	var previous domain.OrderStatus

	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if !transitionAllowed(current.Status, cmd.TargetStatus) {
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, cmd.TargetStatus)
		}
		if err := authorizeTransition(cmd.Actor, current, cmd); err != nil {
			return domain.Order{}, err
		}
		previous = current.Status
		return s.applyTransition(current, cmd, now), nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	s.runTransitionEffects(ctx, updated)

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     updated.ID,
		Action:      domain.AuditActionStatusUpdate,
		Description: transitionDescription(previous, updated.Status, cmd.Justification),
		PerformedBy: actorToAudit(cmd.Actor),
		Changes: []domain.AuditChange{{
			Field:    "status",
			OldValue: string(previous),
			NewValue: string(updated.Status),
		}},
		OccurredAt: now,
	})
	s.publishEvent(ctx, "order.status_changed", updated, previous)

	return s.enrichOne(ctx, updated), nil
}

// Cancel is the customer-owned cancellation path. It is only open while the
// order has not started preparation and always releases the reservation.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	var previous domain.OrderStatus

	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if current.CustomerID != cmd.Actor.ID {
			return domain.Order{}, fmt.Errorf("%w: only the order owner may cancel", ErrOrderForbidden)
		}
		if current.Status != domain.OrderStatusPendingConfirmation && current.Status != domain.OrderStatusConfirmed {
			return domain.Order{}, fmt.Errorf("%w: order can no longer be cancelled by the customer", ErrInvalidTransition)
		}
		previous = current.Status

		current.Status = domain.OrderStatusCancelled
		if current.CancelledAt == nil {
			cancelled := now
			current.CancelledAt = &cancelled
		}
		if reason := textutil.SanitizeFreeTextPtr(cmd.Reason); reason != nil {
			current.CancelReason = reason
		}
		markRefundPending(&current)
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	s.runTransitionEffects(ctx, updated)

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     updated.ID,
		Action:      domain.AuditActionOrderCancelled,
		Description: "order cancelled by customer",
		PerformedBy: actorToAudit(cmd.Actor),
		Changes: []domain.AuditChange{{
			Field:    "status",
			OldValue: string(previous),
			NewValue: string(updated.Status),
		}},
		OccurredAt: now,
	})
	s.publishEvent(ctx, "order.cancelled", updated, previous)

	return s.enrichOne(ctx, updated), nil
}

// AssignShipper sets or replaces the shipper responsible for delivery.
func (s *orderService) AssignShipper(ctx context.Context, cmd AssignShipperCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	shipperID := strings.TrimSpace(cmd.ShipperID)
	if orderID == "" || shipperID == "" {
		return Order{}, fmt.Errorf("%w: order id and shipper id are required", ErrOrderInvalidInput)
	}
	if err := requireManagerOrAdmin(cmd.Actor); err != nil {
		return Order{}, err
	}
	if err := s.verifyStaffRole(ctx, shipperID, string(domain.RoleShipper)); err != nil {
		return Order{}, err
	}

	now := s.clock()
	var previousShipper string

	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if err := managerBranchScope(cmd.Actor, current); err != nil {
			return domain.Order{}, err
		}
		if !shipperAssignableStatuses[current.Status] {
			return domain.Order{}, fmt.Errorf("%w: shipper cannot be assigned while order is %s", ErrInvalidTransition, current.Status)
		}
		previousShipper = stringOrEmpty(current.ShipperID)
		current.ShipperID = &shipperID
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     updated.ID,
		Action:      domain.AuditActionShipperAssigned,
		Description: fmt.Sprintf("shipper %s assigned", shipperID),
		PerformedBy: actorToAudit(cmd.Actor),
		Changes: []domain.AuditChange{{
			Field:    "shipperId",
			OldValue: previousShipper,
			NewValue: shipperID,
		}},
		OccurredAt: now,
	})
	s.publishEvent(ctx, "order.shipper_assigned", updated, "")

	return s.enrichOne(ctx, updated), nil
}

// AssignEmployee sets or replaces the branch employee preparing the order.
// The employee must belong to the order's branch.
func (s *orderService) AssignEmployee(ctx context.Context, cmd AssignEmployeeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	employeeID := strings.TrimSpace(cmd.EmployeeID)
	if orderID == "" || employeeID == "" {
		return Order{}, fmt.Errorf("%w: order id and employee id are required", ErrOrderInvalidInput)
	}
	if err := requireManagerOrAdmin(cmd.Actor); err != nil {
		return Order{}, err
	}

	employee, err := s.lookupStaff(ctx, employeeID, string(domain.RoleEmployee))
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var previousEmployee string

	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if err := managerBranchScope(cmd.Actor, current); err != nil {
			return domain.Order{}, err
		}
		if !employeeAssignableStatuses[current.Status] {
			return domain.Order{}, fmt.Errorf("%w: employee cannot be assigned while order is %s", ErrInvalidTransition, current.Status)
		}
		if employee.BranchID != "" && employee.BranchID != current.BranchID {
			return domain.Order{}, fmt.Errorf("%w: employee %s does not belong to branch %s", ErrOrderInvalidInput, employeeID, current.BranchID)
		}
		previousEmployee = stringOrEmpty(current.AssignedEmployeeID)
		current.AssignedEmployeeID = &employeeID
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     updated.ID,
		Action:      domain.AuditActionEmployeeAssigned,
		Description: fmt.Sprintf("employee %s assigned", employeeID),
		PerformedBy: actorToAudit(cmd.Actor),
		Changes: []domain.AuditChange{{
			Field:    "assignedEmployeeId",
			OldValue: previousEmployee,
			NewValue: employeeID,
		}},
		OccurredAt: now,
	})

	return s.enrichOne(ctx, updated), nil
}

// UpdatePaymentStatus applies a settlement callback from the payment
// collaborator. The caller is authenticated at the transport layer.
func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, ok := domain.ParsePaymentStatus(string(cmd.PaymentStatus)); !ok {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}

	now := s.clock()
	var previousStatus domain.PaymentStatus

	updated, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		previousStatus = current.PaymentStatus
		current.PaymentStatus = cmd.PaymentStatus
		current.IsPaid = cmd.PaymentStatus == domain.PaymentStatusPaid
		if ref := strings.TrimSpace(cmd.PaymentRef); ref != "" {
			if current.Metadata == nil {
				current.Metadata = map[string]any{}
			}
			current.Metadata["paymentRef"] = ref
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     updated.ID,
		Action:      domain.AuditActionPaymentUpdate,
		Description: "payment status updated by payment collaborator",
		PerformedBy: domain.AuditActor{ID: "payments", Name: "payment collaborator", Role: domain.RoleAdmin},
		Changes: []domain.AuditChange{{
			Field:    "paymentStatus",
			OldValue: string(previousStatus),
			NewValue: string(updated.PaymentStatus),
		}},
		OccurredAt: now,
	})
	s.publishEvent(ctx, "order.payment_updated", updated, "")

	return s.enrichOne(ctx, updated), nil
}

// CreateDeliveryProofUpload issues a short-lived signed URL the assigned
// shipper uses to upload a delivery proof photo, and records the expected
// object path on the order.
func (s *orderService) CreateDeliveryProofUpload(ctx context.Context, cmd DeliveryProofUploadCommand) (DeliveryProofUpload, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || strings.TrimSpace(cmd.FileName) == "" {
		return DeliveryProofUpload{}, fmt.Errorf("%w: order id and file name are required", ErrOrderInvalidInput)
	}
	if s.proofs == nil || s.proofBucket == "" {
		return DeliveryProofUpload{}, fmt.Errorf("%w: proof storage is not configured", ErrDependencyUnavailable)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return DeliveryProofUpload{}, s.mapRepoError(err)
	}
	if err := storage.AuthorizeProofUpload(string(cmd.Actor.Role), cmd.Actor.ID, stringOrEmpty(order.ShipperID)); err != nil {
		return DeliveryProofUpload{}, fmt.Errorf("%w: %s %s may not upload delivery proofs for this order", ErrOrderForbidden, cmd.Actor.Role, cmd.Actor.ID)
	}
	if order.Status != domain.OrderStatusShipping && order.Status != domain.OrderStatusDelivered {
		return DeliveryProofUpload{}, fmt.Errorf("%w: delivery proofs are only accepted while shipping or delivered", ErrInvalidTransition)
	}

	proofID := newProofID()
	objectPath, err := storage.BuildProofObjectPath(order.ID, proofID, cmd.FileName)
	if err != nil {
		return DeliveryProofUpload{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	signed, err := s.proofs.SignedUploadURL(ctx, s.proofBucket, objectPath, storage.UploadOptions{
		ContentType:         cmd.ContentType,
		ContentMD5:          cmd.ContentMD5,
		AllowedContentTypes: storage.ProofContentTypes,
		MaxSize:             storage.MaxProofSizeBytes,
	})
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeNotAllowed) || errors.Is(err, storage.ErrInvalidContentMD5) {
			return DeliveryProofUpload{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return DeliveryProofUpload{}, fmt.Errorf("%w: signing proof upload: %v", ErrDependencyUnavailable, err)
	}

	now := s.clock()
	if _, err := s.orders.Mutate(ctx, order.ID, func(current domain.Order) (domain.Order, error) {
		current.DeliveryProof = &objectPath
		current.UpdatedAt = now
		return current, nil
	}); err != nil {
		return DeliveryProofUpload{}, s.mapRepoError(err)
	}

	s.audit.Record(ctx, AuditLogRecord{
		OrderID:     order.ID,
		Action:      domain.AuditActionProofUpload,
		Description: "delivery proof upload granted",
		PerformedBy: actorToAudit(cmd.Actor),
		Metadata:    map[string]any{"objectPath": objectPath},
		OccurredAt:  now,
	})

	return DeliveryProofUpload{
		ProofID:    proofID,
		ObjectPath: objectPath,
		URL:        signed.URL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

// ListAuditLogs returns the audit trail for an order the actor may read.
func (s *orderService) ListAuditLogs(ctx context.Context, cmd ListAuditLogsCommand) (domain.Page[domain.AuditLogEntry], error) {
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(cmd.OrderID))
	if err != nil {
		return domain.Page[domain.AuditLogEntry]{}, s.mapRepoError(err)
	}
	if err := canReadOrder(cmd.Actor, order); err != nil {
		return domain.Page[domain.AuditLogEntry]{}, err
	}
	return s.audit.ListByOrder(ctx, order.ID, AuditLogListQuery{
		Page:     cmd.Page,
		PageSize: cmd.PageSize,
	})
}

// Transition mechanics --------------------------------------------------------

// applyTransition writes the target status and every side effect that must
// land atomically with it: first-entry lifecycle timestamps, delivery details,
// cash settlement on completion and refund marking on cancellation.
func (s *orderService) applyTransition(order domain.Order, cmd UpdateOrderStatusCommand, now time.Time) domain.Order {
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now

	switch cmd.TargetStatus {
	case domain.OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			at := now
			order.ConfirmedAt = &at
		}
	case domain.OrderStatusShipping:
		if order.ShippedAt == nil {
			at := now
			order.ShippedAt = &at
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			at := now
			order.DeliveredAt = &at
		}
		if confirmation := strings.TrimSpace(stringOrEmpty(cmd.DeliveryConfirmation)); confirmation != "" {
			order.DeliveryConfirmation = &confirmation
		}
	case domain.OrderStatusCompleted:
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusUnpaid {
			order.PaymentStatus = domain.PaymentStatusPaid
			order.IsPaid = true
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			at := now
			order.CancelledAt = &at
		}
		if order.CancelReason == nil {
			if reason := textutil.SanitizeFreeText(cmd.Justification); reason != "" {
				order.CancelReason = &reason
			}
		}
		markRefundPending(&order)
	}

	if notes := textutil.SanitizeFreeTextPtr(cmd.DeliveryNotes); notes != nil {
		order.DeliveryNotes = notes
	}
	return order
}

// markRefundPending flags captured funds for refund when the order enters
// CANCELLED. COD orders have nothing captured, so they stay untouched.
func markRefundPending(order *domain.Order) {
	if order.IsPaid && order.PaymentMethod != domain.PaymentMethodCOD {
		order.PaymentStatus = domain.PaymentStatusRefundPending
	}
}

// runTransitionEffects performs the external side effects of entering the new
// status. These run after the transactional write; each is best-effort and a
// failure is logged rather than rolled into the transition result.
func (s *orderService) runTransitionEffects(ctx context.Context, order domain.Order) {
	switch order.Status {
	case domain.OrderStatusCancelled:
		s.reservations.ReleaseAll(ctx, ReleaseStockCommand{
			OrderID:        order.ID,
			BranchID:       order.BranchID,
			ReservationKey: order.ReservationKey,
			Items:          order.Items,
		})
		s.settleRefund(ctx, order)
	case domain.OrderStatusCompleted:
		if order.PaymentMethod == domain.PaymentMethodWallet && s.wallet != nil {
			if err := s.wallet.ReleaseFunds(ctx, order.ID, order.CustomerID, order.TotalPrice); err != nil {
				s.logger(ctx, "orders.wallet_release_failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}

// settleRefund kicks off the refund matching the order's settlement method.
// Completion is reported back through UpdatePaymentStatus.
func (s *orderService) settleRefund(ctx context.Context, order domain.Order) {
	if order.PaymentStatus != domain.PaymentStatusRefundPending {
		return
	}
	switch order.PaymentMethod {
	case domain.PaymentMethodWallet:
		if s.wallet == nil {
			s.logger(ctx, "orders.refund_skipped", map[string]any{"orderId": order.ID, "reason": "wallet gateway not configured"})
			return
		}
		if err := s.wallet.RefundFunds(ctx, order.ID, order.CustomerID, order.TotalPrice); err != nil {
			s.logger(ctx, "orders.wallet_refund_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	case domain.PaymentMethodGateway:
		if s.refunds == nil {
			s.logger(ctx, "orders.refund_skipped", map[string]any{"orderId": order.ID, "reason": "refund provider not configured"})
			return
		}
		paymentRef, _ := order.Metadata["paymentRef"].(string)
		if _, err := s.refunds.CreateRefund(ctx, RefundCommand{
			OrderID:       order.ID,
			PaymentRef:    paymentRef,
			Amount:        order.TotalPrice,
			Reason:        stringOrEmpty(order.CancelReason),
			CorrelationID: order.ID + ":refund",
		}); err != nil {
			s.logger(ctx, "orders.gateway_refund_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
}

// Authorisation helpers -------------------------------------------------------

var shipperAssignableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusConfirmed:      true,
	domain.OrderStatusPacking:        true,
	domain.OrderStatusReadyToShip:    true,
	domain.OrderStatusFailedDelivery: true,
}

var employeeAssignableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPendingConfirmation: true,
	domain.OrderStatusConfirmed:           true,
	domain.OrderStatusPacking:             true,
}

func requireManagerOrAdmin(actor Actor) error {
	if actor.Role == domain.RoleAdmin || actor.Role == domain.RoleBranchManager {
		return nil
	}
	return fmt.Errorf("%w: role %s may not manage assignments", ErrOrderForbidden, actor.Role)
}

// managerBranchScope confines branch managers to orders at their own branch.
func managerBranchScope(actor Actor, order domain.Order) error {
	if actor.Role != domain.RoleBranchManager {
		return nil
	}
	if strings.TrimSpace(actor.BranchID) == "" {
		return ErrMissingBranchScope
	}
	if order.BranchID != actor.BranchID {
		return fmt.Errorf("%w: order belongs to another branch", ErrOrderForbidden)
	}
	return nil
}

// canReadOrder answers whether the actor may see this order at all.
func canReadOrder(actor Actor, order domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleBranchManager, domain.RoleEmployee:
		if strings.TrimSpace(actor.BranchID) == "" {
			return ErrMissingBranchScope
		}
		if order.BranchID != actor.BranchID {
			return fmt.Errorf("%w: order belongs to another branch", ErrOrderForbidden)
		}
		return nil
	case domain.RoleShipper:
		if stringOrEmpty(order.ShipperID) == actor.ID {
			return nil
		}
		if strings.TrimSpace(actor.BranchID) != "" && order.BranchID == actor.BranchID && stringOrEmpty(order.ShipperID) == "" {
			return nil
		}
		return fmt.Errorf("%w: order is not visible to this shipper", ErrOrderForbidden)
	case domain.RoleCustomer:
		if order.CustomerID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
	default:
		return fmt.Errorf("%w: unknown role %s", ErrOrderForbidden, actor.Role)
	}
}

// buildListFilter translates the actor's role into the mandatory listing scope.
func buildListFilter(query OrderListQuery) (domain.OrderFilter, error) {
	filter := domain.OrderFilter{Status: query.Status}
	actor := query.Actor

	switch actor.Role {
	case domain.RoleAdmin:
		filter.CustomerID = strings.TrimSpace(query.Customer)
		filter.BranchID = strings.TrimSpace(query.Branch)
		filter.ShipperID = strings.TrimSpace(query.Shipper)

	case domain.RoleBranchManager:
		if strings.TrimSpace(actor.BranchID) == "" {
			return domain.OrderFilter{}, ErrMissingBranchScope
		}
		filter.BranchID = actor.BranchID
		filter.CustomerID = strings.TrimSpace(query.Customer)
		filter.ShipperID = strings.TrimSpace(query.Shipper)

	case domain.RoleEmployee:
		if strings.TrimSpace(actor.BranchID) == "" {
			return domain.OrderFilter{}, ErrMissingBranchScope
		}
		filter.BranchID = actor.BranchID
		filter.EmployeeID = actor.ID
		filter.IncludeUnassigned = true

	case domain.RoleShipper:
		if strings.TrimSpace(actor.BranchID) == "" {
			return domain.OrderFilter{}, ErrMissingBranchScope
		}
		filter.BranchID = actor.BranchID
		filter.ShipperID = actor.ID
		// Deliverable listings only show orders already assigned to the
		// shipper; the default view includes unassigned work at the branch.
		filter.IncludeUnassigned = !query.DeliverableOnly

	case domain.RoleCustomer:
		filter.CustomerID = actor.ID

	default:
		return domain.OrderFilter{}, fmt.Errorf("%w: unknown role %s", ErrOrderForbidden, actor.Role)
	}
	return filter, nil
}

// verifyStaffRole confirms the target user exists and carries the wanted role.
// Without a user directory the check degrades to accepting the id.
func (s *orderService) verifyStaffRole(ctx context.Context, userID, role string) error {
	_, err := s.lookupStaff(ctx, userID, role)
	return err
}

func (s *orderService) lookupStaff(ctx context.Context, userID, role string) (UserSummary, error) {
	if s.users == nil {
		return UserSummary{ID: userID}, nil
	}
	summary, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if clients.IsNotFound(err) {
			return UserSummary{}, fmt.Errorf("%w: user %s", ErrOrderNotFound, userID)
		}
		return UserSummary{}, fmt.Errorf("%w: resolving user %s: %v", ErrDependencyUnavailable, userID, err)
	}
	if len(summary.Roles) > 0 && !summary.HasRole(role) {
		return UserSummary{}, fmt.Errorf("%w: user %s is not a %s", ErrOrderInvalidInput, userID, role)
	}
	return summary, nil
}

// Enrichment ------------------------------------------------------------------

// enrich decorates orders with customer, staff, branch and product summaries.
// Every lookup is best-effort: a failed source is logged, counted and omitted.
func (s *orderService) enrich(ctx context.Context, orders []domain.Order) []Order {
	enriched := make([]Order, len(orders))
	for i, order := range orders {
		enriched[i] = Order{Order: order}
	}
	if len(orders) == 0 {
		return enriched
	}

	userIDs := make([]string, 0, len(orders)*3)
	productIDs := make([]string, 0, len(orders)*2)
	branchIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		userIDs = append(userIDs, order.CustomerID, stringOrEmpty(order.ShipperID), stringOrEmpty(order.AssignedEmployeeID))
		branchIDs = append(branchIDs, order.BranchID)
		for _, item := range order.Items {
			productIDs = append(productIDs, item.ProductID)
		}
	}

	users := s.fetchUsers(ctx, userIDs)
	products := s.fetchProducts(ctx, productIDs)
	branches := s.fetchBranches(ctx, branchIDs)

	for i := range enriched {
		order := &enriched[i]
		if summary, ok := users[order.CustomerID]; ok {
			customer := summary
			order.Customer = &customer
		}
		if summary, ok := users[stringOrEmpty(order.ShipperID)]; ok {
			shipper := summary
			order.Shipper = &shipper
		}
		if summary, ok := users[stringOrEmpty(order.AssignedEmployeeID)]; ok {
			employee := summary
			order.Employee = &employee
		}
		if branch, ok := branches[order.BranchID]; ok {
			b := branch
			order.Branch = &b
		}
		if len(products) > 0 {
			order.Products = make(map[string]ProductSummary, len(order.Items))
			for _, item := range order.Items {
				if product, ok := products[item.ProductID]; ok {
					order.Products[item.ProductID] = product
				}
			}
		}
	}
	return enriched
}

func (s *orderService) enrichOne(ctx context.Context, order domain.Order) Order {
	return s.enrich(ctx, []domain.Order{order})[0]
}

func (s *orderService) fetchUsers(ctx context.Context, ids []string) map[string]UserSummary {
	if s.users == nil {
		return nil
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		s.metrics.EnrichmentFailure(ctx, "users")
		s.logger(ctx, "orders.enrich_users_failed", map[string]any{"error": err.Error()})
		return nil
	}
	return users
}

func (s *orderService) fetchProducts(ctx context.Context, ids []string) map[string]ProductSummary {
	if s.products == nil {
		return nil
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		s.metrics.EnrichmentFailure(ctx, "products")
		s.logger(ctx, "orders.enrich_products_failed", map[string]any{"error": err.Error()})
		return nil
	}
	return products
}

func (s *orderService) fetchBranches(ctx context.Context, ids []string) map[string]domain.Branch {
	if s.branches == nil {
		return nil
	}
	result := make(map[string]domain.Branch)
	for _, id := range dedupe(ids) {
		branch, err := s.branches.GetBranch(ctx, id)
		if err != nil {
			s.metrics.EnrichmentFailure(ctx, "branches")
			s.logger(ctx, "orders.enrich_branch_failed", map[string]any{"branchId": id, "error": err.Error()})
			continue
		}
		result[id] = branch
	}
	return result
}

// Events ----------------------------------------------------------------------

func (s *orderService) publishEvent(ctx context.Context, eventType string, order domain.Order, previous domain.OrderStatus) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventType:      eventType,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		BranchID:       order.BranchID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		ReservationKey: order.ReservationKey,
		OccurredAt:     s.clock(),
	}); err != nil {
		s.logger(ctx, "orders.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

// Small helpers ---------------------------------------------------------------

func validateCreateCommand(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d is missing a product id", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has a non-positive quantity", ErrOrderInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 || item.Discount < 0 {
			return fmt.Errorf("%w: item %s has negative pricing", ErrOrderInvalidInput, item.ProductID)
		}
	}
	if _, ok := domain.ParsePaymentMethod(string(cmd.PaymentMethod)); !ok {
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if cmd.DeliveryAddress == nil {
		return fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.DeliveryAddress.Line1) == "" || strings.TrimSpace(cmd.DeliveryAddress.Recipient) == "" {
		return fmt.Errorf("%w: delivery address requires a recipient and first line", ErrOrderInvalidInput)
	}
	return nil
}

func itemsSubtotal(items []domain.OrderItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	cloned := make([]domain.OrderItem, len(items))
	copy(cloned, items)
	return cloned
}

func cloneAddress(address *domain.Address) *domain.Address {
	if address == nil {
		return nil
	}
	cloned := *address
	return &cloned
}

func cloneCoordinates(coords *domain.Coordinates) *domain.Coordinates {
	if coords == nil {
		return nil
	}
	cloned := *coords
	return &cloned
}

func metadataFromStrings(values map[string]string) map[string]any {
	normalized := textutil.NormalizeStringMap(values)
	if len(normalized) == 0 {
		return nil
	}
	metadata := make(map[string]any, len(normalized))
	for key, value := range normalized {
		metadata[key] = value
	}
	return metadata
}

func actorToAudit(actor Actor) domain.AuditActor {
	return domain.AuditActor{ID: actor.ID, Name: actor.Name, Role: actor.Role}
}

func transitionDescription(from, to domain.OrderStatus, justification string) string {
	description := fmt.Sprintf("status changed from %s to %s", from, to)
	if justification = textutil.SanitizeFreeText(justification); justification != "" {
		description += ": " + justification
	}
	return description
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *orderService) mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderForbidden) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrForbiddenTransition) ||
		errors.Is(err, ErrMissingBranchScope) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
	}
	return err
}
