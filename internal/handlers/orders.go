package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/auth"
	"github.com/arbora/orders-api/internal/platform/httpx"
	"github.com/arbora/orders-api/internal/platform/pagination"
	"github.com/arbora/orders-api/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	maxOrderActionBodySize = 8 * 1024

	createOrderRateLimit  = 30
	createOrderRateWindow = time.Minute
)

type createOrderRequest struct {
	Items               []orderItemPayload  `json:"items"`
	PaymentMethod       string              `json:"paymentMethod"`
	TotalDiscount       int64               `json:"totalDiscount"`
	DeliveryAddress     *addressPayload     `json:"deliveryAddress"`
	DeliveryCoordinates *coordinatesPayload `json:"deliveryCoordinates"`
	DeliveryNotes       *string             `json:"deliveryNotes"`
	Metadata            map[string]string   `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason *string `json:"reason"`
}

// OrderHandlers exposes the order endpoints shared by customers and staff.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	staff   *StaffOrderHandlers
	creates rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, staff *StaffOrderHandlers) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		staff:   staff,
		creates: newCreationRateLimiter(createOrderRateLimit, createOrderRateWindow, nil),
	}
}

// Routes registers the /orders endpoints. Fixed paths are declared before the
// {orderID} wildcard so chi does not swallow them.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	r.Post("/", h.createOrder)
	r.Get("/my-orders", h.listMyOrders)

	if h.staff != nil {
		h.staff.Routes(r)
	}

	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/cancel", h.cancelOrder)
	r.Get("/{orderID}/audit-logs", h.listAuditLogs)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleCustomer {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only customers can place orders", http.StatusForbidden))
		return
	}
	if h.creates != nil && !h.creates.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many orders placed, slow down", http.StatusTooManyRequests))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxCreateOrderBodySize, &req) {
		return
	}

	method, ok := domain.ParsePaymentMethod(strings.TrimSpace(req.PaymentMethod))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be one of cash_on_delivery, escrow_wallet, external_gateway", http.StatusBadRequest))
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
		})
	}

	cmd := services.CreateOrderCommand{
		Actor:         actor,
		Items:         items,
		PaymentMethod: method,
		TotalDiscount: req.TotalDiscount,
		DeliveryNotes: req.DeliveryNotes,
		Metadata:      req.Metadata,
	}
	if req.DeliveryAddress != nil {
		cmd.DeliveryAddress = &domain.Address{
			Recipient:  strings.TrimSpace(req.DeliveryAddress.Recipient),
			Line1:      strings.TrimSpace(req.DeliveryAddress.Line1),
			Line2:      req.DeliveryAddress.Line2,
			City:       strings.TrimSpace(req.DeliveryAddress.City),
			District:   req.DeliveryAddress.District,
			PostalCode: strings.TrimSpace(req.DeliveryAddress.PostalCode),
			Phone:      req.DeliveryAddress.Phone,
		}
	}
	if req.DeliveryCoordinates != nil {
		cmd.DeliveryCoordinates = &domain.Coordinates{
			Latitude:  req.DeliveryCoordinates.Latitude,
			Longitude: req.DeliveryCoordinates.Longitude,
		}
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	// Staff tokens can own orders too; my-orders always lists as the customer.
	actor.Role = domain.RoleCustomer

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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
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

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListAuditLogs(ctx, services.ListAuditLogsCommand{
		OrderID:  orderID,
		Actor:    actor,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAuditListResponse(page))
}

// orderListQueryFromRequest parses shared listing parameters. Role scoping is
// enforced by the service; the handler only forwards filters.
func orderListQueryFromRequest(w http.ResponseWriter, r *http.Request, actor services.Actor) (services.OrderListQuery, bool) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListQuery{}, false
	}

	query := services.OrderListQuery{
		Actor:    actor,
		Page:     params.Page,
		PageSize: params.PageSize,
	}

	values := r.URL.Query()
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return services.OrderListQuery{}, false
		}
		query.Status = &status
	}
	query.Customer = strings.TrimSpace(values.Get("customerId"))
	query.Branch = strings.TrimSpace(values.Get("branchId"))
	query.Shipper = strings.TrimSpace(values.Get("shipperId"))
	if raw := strings.TrimSpace(values.Get("sort")); strings.EqualFold(raw, string(domain.SortAsc)) {
		query.SortOrder = domain.SortAsc
	}

	return query, true
}
