package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/httpx"
	"github.com/arbora/orders-api/internal/services"
)

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus"`
	PaymentRef    string `json:"paymentRef"`
}

// InternalHandlers exposes service-to-service callbacks. The route group is
// expected to sit behind the HMAC validator middleware, not Firebase auth.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Patch("/orders/{orderID}/payment-status", h.updatePaymentStatus)
}

func (h *InternalHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req paymentStatusRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	status, ok := domain.ParsePaymentStatus(strings.TrimSpace(req.PaymentStatus))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentStatus must be a valid payment status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentStatusCommand{
		OrderID:       orderID,
		PaymentStatus: status,
		PaymentRef:    strings.TrimSpace(req.PaymentRef),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
