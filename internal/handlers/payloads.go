package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arbora/orders-api/internal/platform/auth"
	"github.com/arbora/orders-api/internal/platform/httpx"
	"github.com/arbora/orders-api/internal/services"

	domain "github.com/arbora/orders-api/internal/domain"
)

var errBodyTooLarge = errors.New("handlers: request body too large")

// readLimitedBody drains the request body up to limit bytes, failing when the
// payload exceeds it.
func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, out any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOrderError maps service sentinels onto the JSON error envelope.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden), errors.Is(err, services.ErrForbiddenTransition):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrMissingBranchScope):
		httpx.WriteError(ctx, w, httpx.NewError("missing_branch_scope", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was modified concurrently, retry with fresh state", http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNoBranchAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("no_branch_available", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDependencyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "an upstream dependency is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// rolePrecedence orders roles from most to least privileged for actors whose
// token carries several role claims.
var rolePrecedence = []domain.Role{
	domain.RoleAdmin,
	domain.RoleBranchManager,
	domain.RoleEmployee,
	domain.RoleShipper,
	domain.RoleCustomer,
}

// requireActor extracts the authenticated actor or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}

	var role domain.Role
	for _, candidate := range rolePrecedence {
		if identity.HasRole(string(candidate)) {
			role = candidate
			break
		}
	}
	if role == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_role", "no recognised role on identity", http.StatusForbidden))
		return services.Actor{}, false
	}

	return services.Actor{
		ID:       strings.TrimSpace(identity.UID),
		Name:     strings.TrimSpace(identity.Name),
		Role:     role,
		BranchID: strings.TrimSpace(identity.BranchID),
	}, true
}

// Payloads --------------------------------------------------------------------

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	District   *string `json:"district,omitempty"`
	PostalCode string  `json:"postalCode"`
	Phone      *string `json:"phone,omitempty"`
}

type coordinatesPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Discount    int64  `json:"discount,omitempty"`
}

type userSummaryPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type branchPayload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	AddressLine string              `json:"addressLine,omitempty"`
	Phone       string              `json:"phone,omitempty"`
	Coordinates *coordinatesPayload `json:"coordinates,omitempty"`
}

type productSummaryPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type orderPayload struct {
	ID                   string              `json:"id"`
	CustomerID           string              `json:"customerId"`
	BranchID             string              `json:"branchId"`
	Items                []orderItemPayload  `json:"items"`
	TotalPrice           int64               `json:"totalPrice"`
	TotalDiscount        int64               `json:"totalDiscount"`
	Status               string              `json:"status"`
	PaymentMethod        string              `json:"paymentMethod"`
	PaymentStatus        string              `json:"paymentStatus"`
	IsPaid               bool                `json:"isPaid"`
	ShipperID            *string             `json:"shipperId,omitempty"`
	AssignedEmployeeID   *string             `json:"assignedEmployeeId,omitempty"`
	DeliveryAddress      *addressPayload     `json:"deliveryAddress,omitempty"`
	DeliveryCoordinates  *coordinatesPayload `json:"deliveryCoordinates,omitempty"`
	DeliveryConfirmation *string             `json:"deliveryConfirmation,omitempty"`
	DeliveryProof        *string             `json:"deliveryProof,omitempty"`
	DeliveryNotes        *string             `json:"deliveryNotes,omitempty"`
	CancelReason         *string             `json:"cancelReason,omitempty"`
	Version              int64               `json:"version"`
	ConfirmedAt          *time.Time          `json:"confirmedAt,omitempty"`
	ShippedAt            *time.Time          `json:"shippedAt,omitempty"`
	DeliveredAt          *time.Time          `json:"deliveredAt,omitempty"`
	CancelledAt          *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`

	Customer *userSummaryPayload              `json:"customer,omitempty"`
	Branch   *branchPayload                   `json:"branch,omitempty"`
	Shipper  *userSummaryPayload              `json:"shipper,omitempty"`
	Employee *userSummaryPayload              `json:"employee,omitempty"`
	Products map[string]productSummaryPayload `json:"products,omitempty"`
}

type orderListResponse struct {
	Items    []orderPayload `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	HasMore  bool           `json:"hasMore"`
}

type auditChangePayload struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
}

type auditEntryPayload struct {
	ID          string               `json:"id"`
	OrderID     string               `json:"orderId"`
	Action      string               `json:"action"`
	Description string               `json:"description,omitempty"`
	PerformedBy userSummaryPayload   `json:"performedBy"`
	Role        string               `json:"role,omitempty"`
	Changes     []auditChangePayload `json:"changes,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

type auditListResponse struct {
	Items    []auditEntryPayload `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	HasMore  bool                `json:"hasMore"`
}

func buildAddressPayload(address *domain.Address) *addressPayload {
	if address == nil {
		return nil
	}
	return &addressPayload{
		Recipient:  address.Recipient,
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		District:   address.District,
		PostalCode: address.PostalCode,
		Phone:      address.Phone,
	}
}

func buildCoordinatesPayload(coords *domain.Coordinates) *coordinatesPayload {
	if coords == nil {
		return nil
	}
	return &coordinatesPayload{Latitude: coords.Latitude, Longitude: coords.Longitude}
}

func buildUserSummaryPayload(user *services.UserSummary) *userSummaryPayload {
	if user == nil {
		return nil
	}
	return &userSummaryPayload{ID: user.ID, Name: user.DisplayName, Email: user.Email, Phone: user.Phone}
}

func buildBranchPayload(branch *domain.Branch) *branchPayload {
	if branch == nil {
		return nil
	}
	return &branchPayload{
		ID:          branch.ID,
		Name:        branch.Name,
		AddressLine: branch.AddressLine,
		Phone:       branch.Phone,
		Coordinates: buildCoordinatesPayload(branch.Coordinates),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
		})
	}

	payload := orderPayload{
		ID:                   order.ID,
		CustomerID:           order.CustomerID,
		BranchID:             order.BranchID,
		Items:                items,
		TotalPrice:           order.TotalPrice,
		TotalDiscount:        order.TotalDiscount,
		Status:               string(order.Status),
		PaymentMethod:        string(order.PaymentMethod),
		PaymentStatus:        string(order.PaymentStatus),
		IsPaid:               order.IsPaid,
		ShipperID:            order.ShipperID,
		AssignedEmployeeID:   order.AssignedEmployeeID,
		DeliveryAddress:      buildAddressPayload(order.DeliveryAddress),
		DeliveryCoordinates:  buildCoordinatesPayload(order.DeliveryCoordinates),
		DeliveryConfirmation: order.DeliveryConfirmation,
		DeliveryProof:        order.DeliveryProof,
		DeliveryNotes:        order.DeliveryNotes,
		CancelReason:         order.CancelReason,
		Version:              order.Version,
		ConfirmedAt:          order.ConfirmedAt,
		ShippedAt:            order.ShippedAt,
		DeliveredAt:          order.DeliveredAt,
		CancelledAt:          order.CancelledAt,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
		Customer:             buildUserSummaryPayload(order.Customer),
		Branch:               buildBranchPayload(order.Branch),
		Shipper:              buildUserSummaryPayload(order.Shipper),
		Employee:             buildUserSummaryPayload(order.Employee),
	}

	if len(order.Products) > 0 {
		payload.Products = make(map[string]productSummaryPayload, len(order.Products))
		for id, product := range order.Products {
			payload.Products[id] = productSummaryPayload{ID: product.ID, Name: product.Name, ImageURL: product.ImageURL}
		}
	}

	return payload
}

func buildOrderListResponse(page domainPage) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:    items,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}
}

// domainPage keeps the generic instantiation readable at call sites.
type domainPage = domain.Page[services.Order]

func buildAuditEntryPayload(entry domain.AuditLogEntry) auditEntryPayload {
	changes := make([]auditChangePayload, 0, len(entry.Changes))
	for _, change := range entry.Changes {
		changes = append(changes, auditChangePayload{Field: change.Field, OldValue: change.OldValue, NewValue: change.NewValue})
	}
	return auditEntryPayload{
		ID:          entry.ID,
		OrderID:     entry.OrderID,
		Action:      string(entry.Action),
		Description: entry.Description,
		PerformedBy: userSummaryPayload{ID: entry.PerformedBy.ID, Name: entry.PerformedBy.Name},
		Role:        string(entry.PerformedBy.Role),
		Changes:     changes,
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt,
	}
}

func buildAuditListResponse(page domain.Page[domain.AuditLogEntry]) auditListResponse {
	items := make([]auditEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildAuditEntryPayload(entry))
	}
	return auditListResponse{Items: items, Page: page.Page, PageSize: page.PageSize, HasMore: page.HasMore}
}
