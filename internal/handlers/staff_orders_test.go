package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/auth"
	"github.com/arbora/orders-api/internal/services"
)

func TestStaffListRejectsCustomers(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, customerIdentity("cust-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStaffListForwardsFilters(t *testing.T) {
	var captured services.OrderListQuery
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.Page[services.Order], error) {
			captured = query
			return domain.Page[services.Order]{Page: query.Page, PageSize: query.PageSize}, nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("adm-1", auth.RoleAdmin, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?status=CONFIRMED&branchId=branch-3&customerId=cust-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Actor.Role != domain.RoleAdmin {
		t.Fatalf("expected admin actor, got %+v", captured.Actor)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status filter, got %v", captured.Status)
	}
	if captured.Branch != "branch-3" || captured.Customer != "cust-9" {
		t.Fatalf("expected filters forwarded, got %+v", captured)
	}
}

func TestStaffListRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, staffIdentity("adm-1", auth.RoleAdmin, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?status=SHIPPED", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestForShipperSetsDeliverableScope(t *testing.T) {
	var captured services.OrderListQuery
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.Page[services.Order], error) {
			captured = query
			return domain.Page[services.Order]{}, nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("ship-1", auth.RoleShipper, "branch-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/for-shipper", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !captured.DeliverableOnly {
		t.Fatal("expected DeliverableOnly set")
	}
	if captured.Actor.BranchID != "branch-1" {
		t.Fatalf("expected branch claim forwarded, got %+v", captured.Actor)
	}
}

func TestForShipperRejectsOtherRoles(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, staffIdentity("emp-1", auth.RoleEmployee, "branch-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/for-shipper", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			return sampleServiceOrder(cmd.TargetStatus), nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("emp-1", auth.RoleEmployee, "branch-1"))

	body := `{"status": "PACKING", "deliveryNotes": "fragile glass top"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusPacking {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.DeliveryNotes == nil || *captured.DeliveryNotes != "fragile glass top" {
		t.Fatalf("expected delivery notes forwarded, got %v", captured.DeliveryNotes)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, staffIdentity("emp-1", auth.RoleEmployee, "branch-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/status", strings.NewReader(`{"status": "LOST"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateStatusMapsForbiddenTransition(t *testing.T) {
	orders := &stubOrderService{
		updateStatusFn: func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: employee cannot cancel", services.ErrForbiddenTransition)
		},
	}
	router := newOrderRouter(orders, staffIdentity("emp-1", auth.RoleEmployee, "branch-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/status", strings.NewReader(`{"status": "CANCELLED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAssignShipperRequiresBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, staffIdentity("mgr-1", auth.RoleBranchManager, "branch-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/assign-shipper", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAssignShipperEndpoint(t *testing.T) {
	var captured services.AssignShipperCommand
	orders := &stubOrderService{
		assignShipperFn: func(_ context.Context, cmd services.AssignShipperCommand) (services.Order, error) {
			captured = cmd
			return sampleServiceOrder(domain.OrderStatusConfirmed), nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("mgr-1", auth.RoleBranchManager, "branch-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/assign-shipper", strings.NewReader(`{"shipperId": "ship-7"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ShipperID != "ship-7" || captured.Actor.ID != "mgr-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAssignEmployeeEndpoint(t *testing.T) {
	var captured services.AssignEmployeeCommand
	orders := &stubOrderService{
		assignEmpFn: func(_ context.Context, cmd services.AssignEmployeeCommand) (services.Order, error) {
			captured = cmd
			return sampleServiceOrder(domain.OrderStatusConfirmed), nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("mgr-1", auth.RoleBranchManager, "branch-1"))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord_1/assign-employee", strings.NewReader(`{"employeeId": "emp-4"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.EmployeeID != "emp-4" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestDeliveryProofEndpoint(t *testing.T) {
	expiry := time.Date(2026, time.April, 5, 15, 0, 0, 0, time.UTC)
	var captured services.DeliveryProofUploadCommand
	orders := &stubOrderService{
		proofFn: func(_ context.Context, cmd services.DeliveryProofUploadCommand) (services.DeliveryProofUpload, error) {
			captured = cmd
			return services.DeliveryProofUpload{
				ProofID:    "prf_1",
				ObjectPath: "orders/ord_1/proofs/prf_1.jpg",
				URL:        "https://storage.example.com/signed",
				Method:     http.MethodPut,
				Headers:    map[string]string{"Content-Type": "image/jpeg"},
				ExpiresAt:  expiry,
			}, nil
		},
	}
	router := newOrderRouter(orders, staffIdentity("ship-1", auth.RoleShipper, "branch-1"))

	body := `{"fileName": "doorstep.jpg", "contentType": "image/jpeg"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/delivery-proof", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ContentType != "image/jpeg" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !strings.Contains(rec.Body.String(), `"url":"https://storage.example.com/signed"`) {
		t.Fatalf("expected signed url in payload, got %s", rec.Body.String())
	}
}
