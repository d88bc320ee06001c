package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/httpx"
	"github.com/arbora/orders-api/internal/services"
)

type updateOrderStatusRequest struct {
	Status               string  `json:"status"`
	Justification        string  `json:"justification"`
	DeliveryConfirmation *string `json:"deliveryConfirmation"`
	DeliveryNotes        *string `json:"deliveryNotes"`
}

type assignShipperRequest struct {
	ShipperID string `json:"shipperId"`
}

type assignEmployeeRequest struct {
	EmployeeID string `json:"employeeId"`
}

type deliveryProofRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	ContentMD5  string `json:"contentMd5"`
}

type deliveryProofResponse struct {
	ProofID    string            `json:"proofId"`
	ObjectPath string            `json:"objectPath"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// StaffOrderHandlers exposes the staff-facing order endpoints: listings,
// lifecycle transitions, assignment and delivery proofs.
type StaffOrderHandlers struct {
	orders services.OrderService
}

// NewStaffOrderHandlers constructs a new StaffOrderHandlers instance.
func NewStaffOrderHandlers(orders services.OrderService) *StaffOrderHandlers {
	return &StaffOrderHandlers{orders: orders}
}

// Routes registers the staff endpoints on the shared /orders group. The caller
// applies authentication middleware.
func (h *StaffOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/for-shipper", h.listForShipper)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Put("/{orderID}/assign-shipper", h.assignShipper)
	r.Put("/{orderID}/assign-employee", h.assignEmployee)
	r.Post("/{orderID}/delivery-proof", h.createDeliveryProof)
}

func (h *StaffOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role == domain.RoleCustomer {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required, use /orders/my-orders", http.StatusForbidden))
		return
	}

	query, ok := orderListQueryFromRequest(w, r, actor)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *StaffOrderHandlers) listForShipper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleShipper {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "shipper role required", http.StatusForbidden))
		return
	}

	query, ok := orderListQueryFromRequest(w, r, actor)
	if !ok {
		return
	}
	query.DeliverableOnly = true

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *StaffOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	target, ok := domain.ParseOrderStatus(strings.TrimSpace(req.Status))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:              orderID,
		Actor:                actor,
		TargetStatus:         target,
		Justification:        req.Justification,
		DeliveryConfirmation: req.DeliveryConfirmation,
		DeliveryNotes:        req.DeliveryNotes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *StaffOrderHandlers) assignShipper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req assignShipperRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.ShipperID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipperId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AssignShipper(ctx, services.AssignShipperCommand{
		OrderID:   orderID,
		Actor:     actor,
		ShipperID: strings.TrimSpace(req.ShipperID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *StaffOrderHandlers) assignEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req assignEmployeeRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "employeeId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AssignEmployee(ctx, services.AssignEmployeeCommand{
		OrderID:    orderID,
		Actor:      actor,
		EmployeeID: strings.TrimSpace(req.EmployeeID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *StaffOrderHandlers) createDeliveryProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req deliveryProofRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	grant, err := h.orders.CreateDeliveryProofUpload(ctx, services.DeliveryProofUploadCommand{
		OrderID:     orderID,
		Actor:       actor,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		ContentMD5:  strings.TrimSpace(req.ContentMD5),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, deliveryProofResponse{
		ProofID:    grant.ProofID,
		ObjectPath: grant.ObjectPath,
		URL:        grant.URL,
		Method:     grant.Method,
		Headers:    grant.Headers,
		ExpiresAt:  grant.ExpiresAt,
	})
}
