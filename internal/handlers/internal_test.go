package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/services"
)

func newInternalRouter(orders services.OrderService) chi.Router {
	handlers := NewInternalHandlers(orders)
	return NewRouter(WithInternalRoutes(handlers.Routes))
}

func TestInternalPaymentStatusCallback(t *testing.T) {
	var captured services.UpdatePaymentStatusCommand
	orders := &stubOrderService{
		paymentFn: func(_ context.Context, cmd services.UpdatePaymentStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleServiceOrder(domain.OrderStatusConfirmed)
			order.PaymentStatus = cmd.PaymentStatus
			order.IsPaid = cmd.PaymentStatus == domain.PaymentStatusPaid
			return order, nil
		},
	}
	router := newInternalRouter(orders)

	body := `{"paymentStatus": "paid", "paymentRef": "pi_abc123"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/internal/orders/ord_1/payment-status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.PaymentStatus != domain.PaymentStatusPaid || captured.PaymentRef != "pi_abc123" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !strings.Contains(rec.Body.String(), `"paymentStatus":"paid"`) {
		t.Fatalf("expected updated payment status, got %s", rec.Body.String())
	}
}

func TestInternalPaymentStatusRejectsUnknownValue(t *testing.T) {
	router := newInternalRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/internal/orders/ord_1/payment-status", strings.NewReader(`{"paymentStatus": "maybe"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInternalRoutesFailClosedWithoutGuard(t *testing.T) {
	orders := &stubOrderService{
		paymentFn: func(context.Context, services.UpdatePaymentStatusCommand) (services.Order, error) {
			t.Fatal("payment handler must not run when the guard rejects")
			return services.Order{}, nil
		},
	}
	internalHandlers := NewInternalHandlers(orders)
	router := NewRouter(
		WithInternalRoutes(internalHandlers.Routes),
		WithInternalMiddlewares(RejectAllMiddleware("internal_auth_unavailable", "payment callback authentication is not configured")),
	)

	body := `{"paymentStatus": "paid", "paymentRef": "pi_abc123"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/internal/orders/ord_1/payment-status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "internal_auth_unavailable") {
		t.Fatalf("expected guard error code, got %s", rec.Body.String())
	}
}
