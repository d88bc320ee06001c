package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/auth"
	"github.com/arbora/orders-api/internal/services"
)

type stubOrderService struct {
	createFn        func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn           func(context.Context, string, services.Actor) (services.Order, error)
	listFn          func(context.Context, services.OrderListQuery) (domain.Page[services.Order], error)
	updateStatusFn  func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	assignShipperFn func(context.Context, services.AssignShipperCommand) (services.Order, error)
	assignEmpFn     func(context.Context, services.AssignEmployeeCommand) (services.Order, error)
	cancelFn        func(context.Context, services.CancelOrderCommand) (services.Order, error)
	paymentFn       func(context.Context, services.UpdatePaymentStatusCommand) (services.Order, error)
	proofFn         func(context.Context, services.DeliveryProofUploadCommand) (services.DeliveryProofUpload, error)
	auditFn         func(context.Context, services.ListAuditLogsCommand) (domain.Page[domain.AuditLogEntry], error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.OrderListQuery) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.Page[services.Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AssignShipper(ctx context.Context, cmd services.AssignShipperCommand) (services.Order, error) {
	if s.assignShipperFn != nil {
		return s.assignShipperFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AssignEmployee(ctx context.Context, cmd services.AssignEmployeeCommand) (services.Order, error) {
	if s.assignEmpFn != nil {
		return s.assignEmpFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, cmd services.UpdatePaymentStatusCommand) (services.Order, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CreateDeliveryProofUpload(ctx context.Context, cmd services.DeliveryProofUploadCommand) (services.DeliveryProofUpload, error) {
	if s.proofFn != nil {
		return s.proofFn(ctx, cmd)
	}
	return services.DeliveryProofUpload{}, errors.New("not implemented")
}

func (s *stubOrderService) ListAuditLogs(ctx context.Context, cmd services.ListAuditLogsCommand) (domain.Page[domain.AuditLogEntry], error) {
	if s.auditFn != nil {
		return s.auditFn(ctx, cmd)
	}
	return domain.Page[domain.AuditLogEntry]{}, errors.New("not implemented")
}

func identityMiddleware(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Name: "Test Customer", Roles: []string{auth.RoleCustomer}}
}

func staffIdentity(uid, role, branchID string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{role}, BranchID: branchID}
}

func newOrderRouter(orders services.OrderService, identity *auth.Identity) chi.Router {
	staff := NewStaffOrderHandlers(orders)
	handlers := NewOrderHandlers(nil, orders, staff)
	return NewRouter(
		WithMiddlewares(identityMiddleware(identity)),
		WithOrderRoutes(handlers.Routes),
	)
}

func sampleServiceOrder(status domain.OrderStatus) services.Order {
	now := time.Date(2026, time.April, 5, 14, 0, 0, 0, time.UTC)
	return services.Order{
		Order: domain.Order{
			ID:            "ord_1",
			CustomerID:    "cust-1",
			BranchID:      "branch-1",
			Items:         []domain.OrderItem{{ProductID: "prod-1", ProductName: "Oak table", Quantity: 1, UnitPrice: 45000}},
			TotalPrice:    45000,
			Status:        status,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusUnpaid,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleServiceOrder(domain.OrderStatusPendingConfirmation), nil
		},
	}
	router := newOrderRouter(orders, customerIdentity("cust-1"))

	body := `{
		"items": [{"productId": "prod-1", "productName": "Oak table", "quantity": 1, "unitPrice": 45000}],
		"paymentMethod": "cash_on_delivery",
		"deliveryAddress": {"recipient": "Linh Tran", "line1": "12 Le Loi", "city": "Da Nang", "postalCode": "550000"},
		"deliveryCoordinates": {"latitude": 16.06, "longitude": 108.22}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Actor.ID != "cust-1" || captured.Actor.Role != domain.RoleCustomer {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("unexpected payment method %s", captured.PaymentMethod)
	}
	if captured.DeliveryAddress == nil || captured.DeliveryAddress.Recipient != "Linh Tran" {
		t.Fatalf("expected delivery address forwarded, got %+v", captured.DeliveryAddress)
	}
	if captured.DeliveryCoordinates == nil || captured.DeliveryCoordinates.Latitude != 16.06 {
		t.Fatalf("expected coordinates forwarded, got %+v", captured.DeliveryCoordinates)
	}
	if !strings.Contains(rec.Body.String(), `"id":"ord_1"`) {
		t.Fatalf("expected order payload, got %s", rec.Body.String())
	}
}

func TestCreateOrderRejectsStaff(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, staffIdentity("emp-1", auth.RoleEmployee, "branch-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateOrderRejectsUnknownPaymentMethod(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, customerIdentity("cust-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(`{"paymentMethod": "iou"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateOrderRateLimited(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return sampleServiceOrder(domain.OrderStatusPendingConfirmation), nil
		},
	}
	staff := NewStaffOrderHandlers(orders)
	handlers := NewOrderHandlers(nil, orders, staff)
	handlers.creates = newCreationRateLimiter(1, time.Minute, nil)
	router := NewRouter(
		WithMiddlewares(identityMiddleware(customerIdentity("cust-1"))),
		WithOrderRoutes(handlers.Routes),
	)

	body := `{"items": [{"productId": "prod-1", "quantity": 1, "unitPrice": 100}], "paymentMethod": "cash_on_delivery", "deliveryAddress": {"recipient": "A", "line1": "B", "city": "C", "postalCode": "D"}}`
	for attempt, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d", attempt, want, rec.Code)
		}
	}
}

func TestGetOrderRequiresAuthentication(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: ord_missing", services.ErrOrderNotFound)
		},
	}
	router := newOrderRouter(orders, customerIdentity("cust-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListMyOrdersForcesCustomerScope(t *testing.T) {
	var captured services.OrderListQuery
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.Page[services.Order], error) {
			captured = query
			return domain.Page[services.Order]{Page: query.Page, PageSize: query.PageSize}, nil
		},
	}
	// Manager token calling my-orders still lists own purchases only.
	router := newOrderRouter(orders, staffIdentity("mgr-1", auth.RoleBranchManager, "branch-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/my-orders?page=2&pageSize=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Actor.Role != domain.RoleCustomer || captured.Actor.ID != "mgr-1" {
		t.Fatalf("expected customer scope, got %+v", captured.Actor)
	}
	if captured.Page != 2 || captured.PageSize != 10 {
		t.Fatalf("expected pagination forwarded, got page=%d size=%d", captured.Page, captured.PageSize)
	}
}

func TestCancelOrderMapsInvalidTransition(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: from PACKING", services.ErrInvalidTransition)
		},
	}
	router := newOrderRouter(orders, customerIdentity("cust-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/cancel", strings.NewReader(`{"reason": "changed my mind"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_transition") {
		t.Fatalf("expected invalid_transition code, got %s", rec.Body.String())
	}
}

func TestListAuditLogsForwardsPagination(t *testing.T) {
	var captured services.ListAuditLogsCommand
	orders := &stubOrderService{
		auditFn: func(_ context.Context, cmd services.ListAuditLogsCommand) (domain.Page[domain.AuditLogEntry], error) {
			captured = cmd
			return domain.Page[domain.AuditLogEntry]{
				Items: []domain.AuditLogEntry{{
					ID:      "aud_1",
					OrderID: cmd.OrderID,
					Action:  domain.AuditActionOrderCreated,
				}},
				Page:     cmd.Page,
				PageSize: cmd.PageSize,
			}, nil
		},
	}
	router := newOrderRouter(orders, customerIdentity("cust-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1/audit-logs?pageSize=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.PageSize != 5 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !strings.Contains(rec.Body.String(), `"action":"order_created"`) {
		t.Fatalf("expected audit payload, got %s", rec.Body.String())
	}
}
