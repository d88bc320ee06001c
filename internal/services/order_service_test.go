package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/arbora/orders-api/internal/clients"
	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/storage"
	"github.com/arbora/orders-api/internal/repositories"
)

type testRepoErr struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoErr) Error() string       { return e.msg }
func (e *testRepoErr) IsNotFound() bool    { return e.notFound }
func (e *testRepoErr) IsConflict() bool    { return e.conflict }
func (e *testRepoErr) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	orders    map[string]domain.Order
	insertFn  func(context.Context, domain.Order) error
	mutateErr error
	listFn    func(context.Context, repositories.OrderListQuery) (domain.Page[domain.Order], error)
}

func newStubOrderRepo(orders ...domain.Order) *stubOrderRepo {
	repo := &stubOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, order); err != nil {
			return err
		}
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepo) Mutate(ctx context.Context, orderID string, fn func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if s.mutateErr != nil {
		return domain.Order{}, s.mutateErr
	}
	current, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, &testRepoErr{msg: "order not found", notFound: true}
	}
	updated, err := fn(current)
	if err != nil {
		return domain.Order{}, err
	}
	updated.Version = current.Version + 1
	s.orders[orderID] = updated
	return updated, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, &testRepoErr{msg: "order not found", notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepo) List(ctx context.Context, query repositories.OrderListQuery) (domain.Page[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.Page[domain.Order]{Page: query.Page, PageSize: query.PageSize}, nil
}

type stubBranchResolver struct {
	branch domain.Branch
	err    error
}

func (s *stubBranchResolver) Resolve(context.Context, ResolveBranchCommand) (domain.Branch, error) {
	return s.branch, s.err
}

type recordingReservations struct {
	reserveErr   error
	reserveCalls []ReserveStockCommand
	releaseCalls []ReleaseStockCommand
}

func (s *recordingReservations) ReserveAll(_ context.Context, cmd ReserveStockCommand) error {
	s.reserveCalls = append(s.reserveCalls, cmd)
	return s.reserveErr
}

func (s *recordingReservations) ReleaseAll(_ context.Context, cmd ReleaseStockCommand) ReleaseOutcome {
	s.releaseCalls = append(s.releaseCalls, cmd)
	return ReleaseOutcome{Released: len(cmd.Items)}
}

type recordingAudit struct {
	records []AuditLogRecord
}

func (s *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *recordingAudit) ListByOrder(context.Context, string, AuditLogListQuery) (domain.Page[domain.AuditLogEntry], error) {
	return domain.Page[domain.AuditLogEntry]{}, nil
}

type recordingWallet struct {
	lockErr  error
	locks    []string
	releases []string
	refunds  []string
}

func (s *recordingWallet) LockFunds(_ context.Context, orderID, _ string, _ int64) error {
	s.locks = append(s.locks, orderID)
	return s.lockErr
}

func (s *recordingWallet) ReleaseFunds(_ context.Context, orderID, _ string, _ int64) error {
	s.releases = append(s.releases, orderID)
	return nil
}

func (s *recordingWallet) RefundFunds(_ context.Context, orderID, _ string, _ int64) error {
	s.refunds = append(s.refunds, orderID)
	return nil
}

type captureEvents struct {
	messages []OrderEventMessage
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	c.messages = append(c.messages, message)
	return fmt.Sprintf("msg-%d", len(c.messages)), nil
}

type stubUserDirectory struct {
	users map[string]UserSummary
}

func (s *stubUserDirectory) GetUser(_ context.Context, userID string) (UserSummary, error) {
	if user, ok := s.users[userID]; ok {
		return user, nil
	}
	return UserSummary{}, &clients.Error{Service: "users", Status: http.StatusNotFound}
}

func (s *stubUserDirectory) GetUsers(_ context.Context, userIDs []string) (map[string]UserSummary, error) {
	result := make(map[string]UserSummary)
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			result[id] = user
		}
	}
	return result, nil
}

var testClock = func() time.Time {
	return time.Date(2026, time.April, 5, 14, 0, 0, 0, time.UTC)
}

type orderServiceFixture struct {
	repo         *stubOrderRepo
	reservations *recordingReservations
	audit        *recordingAudit
	wallet       *recordingWallet
	events       *captureEvents
	service      OrderService
}

func newOrderServiceFixture(t *testing.T, repo *stubOrderRepo, mutate func(*OrderServiceDeps)) *orderServiceFixture {
	t.Helper()
	fixture := &orderServiceFixture{
		repo:         repo,
		reservations: &recordingReservations{},
		audit:        &recordingAudit{},
		wallet:       &recordingWallet{},
		events:       &captureEvents{},
	}
	deps := OrderServiceDeps{
		Orders:       repo,
		Resolver:     &stubBranchResolver{branch: activeBranch("branch-1", 10.78, 106.70)},
		Reservations: fixture.reservations,
		Audit:        fixture.audit,
		Wallet:       fixture.wallet,
		Events:       fixture.events,
		Clock:        testClock,
		IDGenerator:  func() string { return "ord_test" },
		KeyGenerator: func() string { return "rsv_test" },
	}
	if mutate != nil {
		mutate(&deps)
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fixture.service = service
	return fixture
}

func testAddress() *domain.Address {
	return &domain.Address{Recipient: "Linh Tran", Line1: "12 Le Loi", City: "Da Nang", PostalCode: "550000"}
}

func baseOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:             "ord_1",
		CustomerID:     "cust-1",
		BranchID:       "branch-1",
		Items:          testItems(),
		TotalPrice:     87000,
		TotalDiscount:  0,
		Status:         status,
		PaymentMethod:  domain.PaymentMethodCOD,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		ReservationKey: "rsv_1",
		Version:        1,
		CreatedAt:      testClock().Add(-time.Hour),
		UpdatedAt:      testClock().Add(-time.Hour),
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	fixture := newOrderServiceFixture(t, newStubOrderRepo(), nil)

	order, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		Actor:           Actor{ID: "cust-1", Role: domain.RoleCustomer},
		Items:           testItems(),
		PaymentMethod:   domain.PaymentMethodCOD,
		TotalDiscount:   5000,
		DeliveryAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if order.ID != "ord_test" {
		t.Fatalf("expected generated id, got %s", order.ID)
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		t.Fatalf("expected PENDING_CONFIRMATION, got %s", order.Status)
	}
	if order.BranchID != "branch-1" {
		t.Fatalf("expected resolved branch, got %q", order.BranchID)
	}
	if !order.TotalsConsistent() {
		t.Fatalf("totals inconsistent: price=%d discount=%d subtotal=%d", order.TotalPrice, order.TotalDiscount, order.ItemsSubtotal())
	}
	if order.ReservationKey != "rsv_test" {
		t.Fatalf("expected reservation key propagated, got %q", order.ReservationKey)
	}
	if len(fixture.reservations.reserveCalls) != 1 {
		t.Fatalf("expected one reservation pass, got %d", len(fixture.reservations.reserveCalls))
	}
	if len(fixture.reservations.releaseCalls) != 0 {
		t.Fatalf("expected no releases on success, got %d", len(fixture.reservations.releaseCalls))
	}
	if len(fixture.audit.records) != 1 || fixture.audit.records[0].Action != domain.AuditActionOrderCreated {
		t.Fatalf("expected one order_created audit record, got %+v", fixture.audit.records)
	}
	if len(fixture.events.messages) != 1 || fixture.events.messages[0].EventType != "order.created" {
		t.Fatalf("expected order.created event, got %+v", fixture.events.messages)
	}
}

func TestCreateOrderReservationFailurePropagates(t *testing.T) {
	repo := newStubOrderRepo()
	fixture := newOrderServiceFixture(t, repo, nil)
	fixture.reservations.reserveErr = fmt.Errorf("%w: product prod-2", ErrInsufficientStock)

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		Actor:           Actor{ID: "cust-1", Role: domain.RoleCustomer},
		Items:           testItems(),
		PaymentMethod:   domain.PaymentMethodCOD,
		DeliveryAddress: testAddress(),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if len(repo.orders) != 0 {
		t.Fatal("expected no order persisted after failed reservation")
	}
}

func TestCreateOrderWalletLockFailureReleasesStock(t *testing.T) {
	repo := newStubOrderRepo()
	fixture := newOrderServiceFixture(t, repo, nil)
	fixture.wallet.lockErr = errors.New("wallet down")

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		Actor:           Actor{ID: "cust-1", Role: domain.RoleCustomer},
		Items:           testItems(),
		PaymentMethod:   domain.PaymentMethodWallet,
		DeliveryAddress: testAddress(),
	})
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
	if len(fixture.reservations.releaseCalls) != 1 {
		t.Fatalf("expected reservation compensated, got %d release passes", len(fixture.reservations.releaseCalls))
	}
	if len(repo.orders) != 0 {
		t.Fatal("expected no order persisted after failed wallet lock")
	}
}

func TestCreateOrderRejectsExcessiveDiscount(t *testing.T) {
	fixture := newOrderServiceFixture(t, newStubOrderRepo(), nil)

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		Actor:           Actor{ID: "cust-1", Role: domain.RoleCustomer},
		Items:           testItems(),
		PaymentMethod:   domain.PaymentMethodCOD,
		TotalDiscount:   1 << 40,
		DeliveryAddress: testAddress(),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestUpdateStatusEmployeePacksOrder(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	fixture := newOrderServiceFixture(t, repo, nil)

	order, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		Actor:        Actor{ID: "emp-1", Role: domain.RoleEmployee, BranchID: "branch-1"},
		TargetStatus: domain.OrderStatusPacking,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if order.Status != domain.OrderStatusPacking {
		t.Fatalf("expected PACKING, got %s", order.Status)
	}
	if order.Version != 2 {
		t.Fatalf("expected version bump, got %d", order.Version)
	}
	if len(fixture.audit.records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(fixture.audit.records))
	}
	change := fixture.audit.records[0].Changes[0]
	if change.OldValue != "CONFIRMED" || change.NewValue != "PACKING" {
		t.Fatalf("unexpected audit change %+v", change)
	}
	if len(fixture.events.messages) != 1 || fixture.events.messages[0].PreviousStatus != "CONFIRMED" {
		t.Fatalf("expected status_changed event with previous status, got %+v", fixture.events.messages)
	}
}

func TestUpdateStatusRejectsIllegalEdgeBeforeRoleCheck(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusDelivered))
	fixture := newOrderServiceFixture(t, repo, nil)

	_, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:       "ord_1",
		Actor:         Actor{ID: "adm-1", Role: domain.RoleAdmin},
		TargetStatus:  domain.OrderStatusCancelled,
		Justification: "customer claims the item never arrived",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition even for admin, got %v", err)
	}
	if len(fixture.audit.records) != 0 {
		t.Fatal("expected no audit record for failed transition")
	}
}

func TestUpdateStatusCancelReleasesStockAndRefunds(t *testing.T) {
	order := baseOrder(domain.OrderStatusConfirmed)
	order.PaymentMethod = domain.PaymentMethodWallet
	order.PaymentStatus = domain.PaymentStatusPaid
	order.IsPaid = true
	repo := newStubOrderRepo(order)
	fixture := newOrderServiceFixture(t, repo, nil)

	updated, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:       "ord_1",
		Actor:         Actor{ID: "adm-1", Role: domain.RoleAdmin},
		TargetStatus:  domain.OrderStatusCancelled,
		Justification: "duplicate order placed by mistake",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.CancelledAt == nil || !updated.CancelledAt.Equal(testClock()) {
		t.Fatalf("expected cancelledAt set, got %v", updated.CancelledAt)
	}
	if updated.PaymentStatus != domain.PaymentStatusRefundPending {
		t.Fatalf("expected refund_pending, got %s", updated.PaymentStatus)
	}
	if len(fixture.reservations.releaseCalls) != 1 {
		t.Fatalf("expected exactly one release pass, got %d", len(fixture.reservations.releaseCalls))
	}
	if fixture.reservations.releaseCalls[0].ReservationKey != "rsv_1" {
		t.Fatalf("expected original reservation key, got %s", fixture.reservations.releaseCalls[0].ReservationKey)
	}
	if len(fixture.wallet.refunds) != 1 {
		t.Fatalf("expected wallet refund, got %v", fixture.wallet.refunds)
	}
}

func TestUpdateStatusCompletedSettlesCashOnDelivery(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusDelivered))
	fixture := newOrderServiceFixture(t, repo, nil)

	updated, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		Actor:        Actor{ID: "mgr-1", Role: domain.RoleBranchManager, BranchID: "branch-1"},
		TargetStatus: domain.OrderStatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.PaymentStatus != domain.PaymentStatusPaid || !updated.IsPaid {
		t.Fatalf("expected COD order marked paid on completion, got %s", updated.PaymentStatus)
	}
	if len(fixture.wallet.releases) != 0 {
		t.Fatal("expected no wallet release for COD order")
	}
}

func TestUpdateStatusShipperDeliveryConfirmation(t *testing.T) {
	shippedAt := testClock().Add(-30 * time.Minute)
	order := baseOrder(domain.OrderStatusShipping)
	order.ShipperID = strPtr("ship-1")
	order.ShippedAt = &shippedAt
	repo := newStubOrderRepo(order)
	fixture := newOrderServiceFixture(t, repo, nil)

	_, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		Actor:        Actor{ID: "ship-1", Role: domain.RoleShipper, BranchID: "branch-1"},
		TargetStatus: domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected confirmation requirement, got %v", err)
	}

	updated, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:              "ord_1",
		Actor:                Actor{ID: "ship-1", Role: domain.RoleShipper, BranchID: "branch-1"},
		TargetStatus:         domain.OrderStatusDelivered,
		DeliveryConfirmation: strPtr("OTP-9942"),
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.DeliveredAt == nil {
		t.Fatal("expected deliveredAt set on first entry")
	}
	if stringOrEmpty(updated.DeliveryConfirmation) != "OTP-9942" {
		t.Fatalf("expected confirmation stored, got %v", updated.DeliveryConfirmation)
	}
	// A prior shipping timestamp survives later transitions.
	if updated.ShippedAt == nil || !updated.ShippedAt.Equal(shippedAt) {
		t.Fatalf("expected shippedAt untouched, got %v", updated.ShippedAt)
	}
}

func TestCancelOwnerOnlyAndEarlyStatuses(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusPendingConfirmation))
	fixture := newOrderServiceFixture(t, repo, nil)

	if _, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "cust-2", Role: domain.RoleCustomer},
	}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for non-owner, got %v", err)
	}

	updated, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "cust-1", Role: domain.RoleCustomer},
		Reason:  strPtr("<b>changed</b> my mind"),
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled || updated.CancelledAt == nil {
		t.Fatalf("expected cancelled order with timestamp, got %+v", updated.Order)
	}
	if stringOrEmpty(updated.CancelReason) != "changed my mind" {
		t.Fatalf("expected sanitised reason, got %q", stringOrEmpty(updated.CancelReason))
	}
	if len(fixture.reservations.releaseCalls) != 1 {
		t.Fatalf("expected stock released once, got %d", len(fixture.reservations.releaseCalls))
	}
}

func TestCancelRejectedOncePacking(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusPacking))
	fixture := newOrderServiceFixture(t, repo, nil)

	_, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition once packing, got %v", err)
	}
}

func TestAssignShipperBranchManagerScope(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	fixture := newOrderServiceFixture(t, repo, nil)

	if _, err := fixture.service.AssignShipper(context.Background(), AssignShipperCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "mgr-2", Role: domain.RoleBranchManager, BranchID: "branch-2"},
		ShipperID: "ship-1",
	}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for other-branch manager, got %v", err)
	}

	updated, err := fixture.service.AssignShipper(context.Background(), AssignShipperCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "mgr-1", Role: domain.RoleBranchManager, BranchID: "branch-1"},
		ShipperID: "ship-1",
	})
	if err != nil {
		t.Fatalf("AssignShipper: %v", err)
	}
	if stringOrEmpty(updated.ShipperID) != "ship-1" {
		t.Fatalf("expected shipper assigned, got %v", updated.ShipperID)
	}
	if len(fixture.audit.records) != 1 || fixture.audit.records[0].Action != domain.AuditActionShipperAssigned {
		t.Fatalf("expected shipper_assigned audit record, got %+v", fixture.audit.records)
	}
}

func TestAssignShipperRejectedWhileShipping(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusShipping))
	fixture := newOrderServiceFixture(t, repo, nil)

	_, err := fixture.service.AssignShipper(context.Background(), AssignShipperCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "adm-1", Role: domain.RoleAdmin},
		ShipperID: "ship-1",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while shipping, got %v", err)
	}
}

func TestAssignEmployeeValidatesBranchMembership(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	users := &stubUserDirectory{
		users: map[string]UserSummary{
			"emp-other": {ID: "emp-other", Roles: []string{"employee"}, BranchID: "branch-2"},
			"emp-1":     {ID: "emp-1", Roles: []string{"employee"}, BranchID: "branch-1"},
		},
	}
	fixture := newOrderServiceFixture(t, repo, func(deps *OrderServiceDeps) {
		deps.Users = users
	})

	if _, err := fixture.service.AssignEmployee(context.Background(), AssignEmployeeCommand{
		OrderID:    "ord_1",
		Actor:      Actor{ID: "adm-1", Role: domain.RoleAdmin},
		EmployeeID: "emp-other",
	}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected branch membership rejection, got %v", err)
	}

	updated, err := fixture.service.AssignEmployee(context.Background(), AssignEmployeeCommand{
		OrderID:    "ord_1",
		Actor:      Actor{ID: "adm-1", Role: domain.RoleAdmin},
		EmployeeID: "emp-1",
	})
	if err != nil {
		t.Fatalf("AssignEmployee: %v", err)
	}
	if stringOrEmpty(updated.AssignedEmployeeID) != "emp-1" {
		t.Fatalf("expected employee assigned, got %v", updated.AssignedEmployeeID)
	}
}

func TestListOrdersRoleScoping(t *testing.T) {
	var captured repositories.OrderListQuery
	repo := newStubOrderRepo()
	repo.listFn = func(_ context.Context, query repositories.OrderListQuery) (domain.Page[domain.Order], error) {
		captured = query
		return domain.Page[domain.Order]{Page: query.Page, PageSize: query.PageSize}, nil
	}
	fixture := newOrderServiceFixture(t, repo, nil)

	if _, err := fixture.service.ListOrders(context.Background(), OrderListQuery{
		Actor: Actor{ID: "cust-1", Role: domain.RoleCustomer},
	}); err != nil {
		t.Fatalf("ListOrders customer: %v", err)
	}
	if captured.Filter.CustomerID != "cust-1" || captured.Filter.BranchID != "" {
		t.Fatalf("expected customer scope, got %+v", captured.Filter)
	}

	if _, err := fixture.service.ListOrders(context.Background(), OrderListQuery{
		Actor: Actor{ID: "emp-1", Role: domain.RoleEmployee},
	}); !errors.Is(err, ErrMissingBranchScope) {
		t.Fatalf("expected ErrMissingBranchScope for branchless employee, got %v", err)
	}

	if _, err := fixture.service.ListOrders(context.Background(), OrderListQuery{
		Actor: Actor{ID: "ship-1", Role: domain.RoleShipper, BranchID: "branch-1"},
	}); err != nil {
		t.Fatalf("ListOrders shipper: %v", err)
	}
	if captured.Filter.ShipperID != "ship-1" || !captured.Filter.IncludeUnassigned {
		t.Fatalf("expected shipper scope with unassigned, got %+v", captured.Filter)
	}

	if _, err := fixture.service.ListOrders(context.Background(), OrderListQuery{
		Actor:           Actor{ID: "ship-1", Role: domain.RoleShipper, BranchID: "branch-1"},
		DeliverableOnly: true,
	}); err != nil {
		t.Fatalf("ListOrders deliverable: %v", err)
	}
	if captured.Filter.IncludeUnassigned {
		t.Fatalf("expected deliverable listing without unassigned, got %+v", captured.Filter)
	}

	if _, err := fixture.service.ListOrders(context.Background(), OrderListQuery{
		Actor:    Actor{ID: "adm-1", Role: domain.RoleAdmin},
		Branch:   "branch-9",
		PageSize: 500,
	}); err != nil {
		t.Fatalf("ListOrders admin: %v", err)
	}
	if captured.Filter.BranchID != "branch-9" {
		t.Fatalf("expected admin branch filter, got %+v", captured.Filter)
	}
	if captured.PageSize != maxListPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxListPageSize, captured.PageSize)
	}
}

func TestUpdatePaymentStatusStoresReference(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	fixture := newOrderServiceFixture(t, repo, nil)

	updated, err := fixture.service.UpdatePaymentStatus(context.Background(), UpdatePaymentStatusCommand{
		OrderID:       "ord_1",
		PaymentStatus: domain.PaymentStatusPaid,
		PaymentRef:    "pi_abc123",
	})
	if err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}
	if !updated.IsPaid || updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid order, got %+v", updated.Order)
	}
	if ref, _ := updated.Metadata["paymentRef"].(string); ref != "pi_abc123" {
		t.Fatalf("expected payment ref recorded, got %v", updated.Metadata)
	}
	if len(fixture.audit.records) != 1 || fixture.audit.records[0].Action != domain.AuditActionPaymentUpdate {
		t.Fatalf("expected payment_update audit record, got %+v", fixture.audit.records)
	}
}

func TestVersionConflictSurfacesAsOrderConflict(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	repo.mutateErr = &testRepoErr{msg: "version conflict", conflict: true}
	fixture := newOrderServiceFixture(t, repo, nil)

	_, err := fixture.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		Actor:        Actor{ID: "emp-1", Role: domain.RoleEmployee, BranchID: "branch-1"},
		TargetStatus: domain.OrderStatusPacking,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestGetOrderReadScope(t *testing.T) {
	repo := newStubOrderRepo(baseOrder(domain.OrderStatusConfirmed))
	fixture := newOrderServiceFixture(t, repo, nil)

	if _, err := fixture.service.GetOrder(context.Background(), "ord_1", Actor{ID: "cust-1", Role: domain.RoleCustomer}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := fixture.service.GetOrder(context.Background(), "ord_1", Actor{ID: "cust-2", Role: domain.RoleCustomer}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for stranger, got %v", err)
	}
	if _, err := fixture.service.GetOrder(context.Background(), "ord_missing", Actor{ID: "adm-1", Role: domain.RoleAdmin}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

type stubProofSigner struct {
	signed storage.SignedURLResult
	calls  int
}

func (s *stubProofSigner) SignedUploadURL(_ context.Context, _, object string, _ storage.UploadOptions) (storage.SignedURLResult, error) {
	s.calls++
	if s.signed.URL == "" {
		s.signed.URL = "https://storage.example/" + object
	}
	if s.signed.Method == "" {
		s.signed.Method = "PUT"
	}
	return s.signed, nil
}

func TestCreateDeliveryProofUploadAssignedShipperOnly(t *testing.T) {
	shipperID := "shp_1"
	order := baseOrder(domain.OrderStatusShipping)
	order.ShipperID = &shipperID

	signer := &stubProofSigner{}
	fixture := newOrderServiceFixture(t, newStubOrderRepo(order), func(deps *OrderServiceDeps) {
		deps.Proofs = signer
		deps.ProofBucket = "proof-bucket"
	})

	_, err := fixture.service.CreateDeliveryProofUpload(context.Background(), DeliveryProofUploadCommand{
		OrderID:  "ord_1",
		Actor:    Actor{ID: "shp_2", Role: domain.RoleShipper},
		FileName: "photo.jpg",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for unassigned shipper, got %v", err)
	}
	if signer.calls != 0 {
		t.Fatalf("expected no signing for rejected actor, got %d calls", signer.calls)
	}

	_, err = fixture.service.CreateDeliveryProofUpload(context.Background(), DeliveryProofUploadCommand{
		OrderID:  "ord_1",
		Actor:    Actor{ID: "cust-1", Role: domain.RoleCustomer},
		FileName: "photo.jpg",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for customer, got %v", err)
	}

	grant, err := fixture.service.CreateDeliveryProofUpload(context.Background(), DeliveryProofUploadCommand{
		OrderID:  "ord_1",
		Actor:    Actor{ID: "shp_1", Role: domain.RoleShipper},
		FileName: "photo.jpg",
	})
	if err != nil {
		t.Fatalf("CreateDeliveryProofUpload: %v", err)
	}
	if !strings.HasPrefix(grant.ObjectPath, "orders/ord_1/proofs/") {
		t.Fatalf("unexpected object path %q", grant.ObjectPath)
	}
	if grant.Method != "PUT" || grant.URL == "" {
		t.Fatalf("unexpected grant %+v", grant)
	}

	stored := fixture.repo.orders["ord_1"]
	if stored.DeliveryProof == nil || *stored.DeliveryProof != grant.ObjectPath {
		t.Fatalf("expected proof path recorded on order, got %v", stored.DeliveryProof)
	}
	if len(fixture.audit.records) != 1 || fixture.audit.records[0].Action != domain.AuditActionProofUpload {
		t.Fatalf("expected one proof_upload audit record, got %+v", fixture.audit.records)
	}
}
