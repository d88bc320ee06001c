package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/arbora/orders-api/internal/domain"
	pfirestore "github.com/arbora/orders-api/internal/platform/firestore"
	"github.com/arbora/orders-api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs the Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert persists a new order. Inserting an existing ID reports a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Mutate applies fn to the current persisted order inside a transaction. The
// repository owns the version counter: it is read and incremented here, never
// by fn, and the transaction retries on concurrent writes.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order mutate: id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutation function is required")
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.WrapError("orders.mutate", err)
			}
			return err
		}
		doc, err := r.orders.Decode(ctx, snap)
		if err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current := doc.Data.toDomain(doc.ID)

		updated, err := fn(current)
		if err != nil {
			return err
		}
		if updated.ID != current.ID {
			return fmt.Errorf("order mutate: id changed from %s to %s", current.ID, updated.ID)
		}

		updated.Version = current.Version + 1
		if err := tx.Set(ref, newOrderDocument(updated)); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns one offset page of orders matching the query, newest first
// unless ascending order is requested.
func (r *OrderRepository) List(ctx context.Context, query repositories.OrderListQuery) (domain.Page[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		return domain.Page[domain.Order]{}, errors.New("order list: page size is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = applyOrderFilter(q, query.Filter)
		direction := firestore.Desc
		if query.SortOrder == domain.SortAsc {
			direction = firestore.Asc
		}
		q = q.OrderBy("createdAt", direction)
		if page > 1 {
			q = q.Offset((page - 1) * pageSize)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return domain.Page[domain.Order]{
		Items:    orders,
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	}, nil
}

func applyOrderFilter(q firestore.Query, filter domain.OrderFilter) firestore.Query {
	if filter.Status != nil {
		q = q.Where("status", "==", string(*filter.Status))
	}
	if filter.CustomerID != "" {
		q = q.Where("customerId", "==", filter.CustomerID)
	}
	if filter.BranchID != "" {
		q = q.Where("branchId", "==", filter.BranchID)
	}
	if filter.EmployeeID != "" {
		if filter.IncludeUnassigned {
			q = q.WhereEntity(firestore.OrFilter{Filters: []firestore.EntityFilter{
				firestore.PropertyFilter{Path: "assignedEmployeeId", Operator: "==", Value: filter.EmployeeID},
				firestore.PropertyFilter{Path: "assignedEmployeeId", Operator: "==", Value: ""},
			}})
		} else {
			q = q.Where("assignedEmployeeId", "==", filter.EmployeeID)
		}
	}
	if filter.ShipperID != "" {
		if filter.IncludeUnassigned {
			q = q.WhereEntity(firestore.OrFilter{Filters: []firestore.EntityFilter{
				firestore.PropertyFilter{Path: "shipperId", Operator: "==", Value: filter.ShipperID},
				firestore.PropertyFilter{Path: "shipperId", Operator: "==", Value: ""},
			}})
		} else {
			q = q.Where("shipperId", "==", filter.ShipperID)
		}
	}
	return q
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	CustomerID           string               `firestore:"customerId"`
	BranchID             string               `firestore:"branchId"`
	Items                []orderItemDocument  `firestore:"items"`
	TotalPrice           int64                `firestore:"totalPrice"`
	TotalDiscount        int64                `firestore:"totalDiscount"`
	Status               string               `firestore:"status"`
	PaymentMethod        string               `firestore:"paymentMethod"`
	PaymentStatus        string               `firestore:"paymentStatus"`
	IsPaid               bool                 `firestore:"isPaid"`
	ShipperID            string               `firestore:"shipperId"`
	AssignedEmployeeID   string               `firestore:"assignedEmployeeId"`
	DeliveryAddress      *addressDocument     `firestore:"deliveryAddress,omitempty"`
	DeliveryCoordinates  *coordinatesDocument `firestore:"deliveryCoordinates,omitempty"`
	DeliveryConfirmation string               `firestore:"deliveryConfirmation,omitempty"`
	DeliveryProof        string               `firestore:"deliveryProof,omitempty"`
	DeliveryNotes        string               `firestore:"deliveryNotes,omitempty"`
	CancelReason         string               `firestore:"cancelReason,omitempty"`
	ReservationKey       string               `firestore:"reservationKey"`
	Version              int64                `firestore:"version"`
	ConfirmedAt          *time.Time           `firestore:"confirmedAt,omitempty"`
	ShippedAt            *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt          *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt          *time.Time           `firestore:"cancelledAt,omitempty"`
	CreatedAt            time.Time            `firestore:"createdAt"`
	UpdatedAt            time.Time            `firestore:"updatedAt"`
	Metadata             map[string]any       `firestore:"metadata,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"qty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Discount    int64  `firestore:"discount"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	District   string `firestore:"district,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Phone      string `firestore:"phone,omitempty"`
}

type coordinatesDocument struct {
	Latitude  float64 `firestore:"lat"`
	Longitude float64 `firestore:"lng"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
		}
	}

	doc := orderDocument{
		CustomerID:           strings.TrimSpace(order.CustomerID),
		BranchID:             strings.TrimSpace(order.BranchID),
		Items:                items,
		TotalPrice:           order.TotalPrice,
		TotalDiscount:        order.TotalDiscount,
		Status:               string(order.Status),
		PaymentMethod:        string(order.PaymentMethod),
		PaymentStatus:        string(order.PaymentStatus),
		IsPaid:               order.IsPaid,
		ShipperID:            stringValue(order.ShipperID),
		AssignedEmployeeID:   stringValue(order.AssignedEmployeeID),
		DeliveryConfirmation: stringValue(order.DeliveryConfirmation),
		DeliveryProof:        stringValue(order.DeliveryProof),
		DeliveryNotes:        stringValue(order.DeliveryNotes),
		CancelReason:         stringValue(order.CancelReason),
		ReservationKey:       strings.TrimSpace(order.ReservationKey),
		Version:              order.Version,
		ConfirmedAt:          utcTimePtr(order.ConfirmedAt),
		ShippedAt:            utcTimePtr(order.ShippedAt),
		DeliveredAt:          utcTimePtr(order.DeliveredAt),
		CancelledAt:          utcTimePtr(order.CancelledAt),
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		Metadata:             order.Metadata,
	}

	if order.DeliveryAddress != nil {
		doc.DeliveryAddress = &addressDocument{
			Recipient:  strings.TrimSpace(order.DeliveryAddress.Recipient),
			Line1:      strings.TrimSpace(order.DeliveryAddress.Line1),
			Line2:      stringValue(order.DeliveryAddress.Line2),
			City:       strings.TrimSpace(order.DeliveryAddress.City),
			District:   stringValue(order.DeliveryAddress.District),
			PostalCode: strings.TrimSpace(order.DeliveryAddress.PostalCode),
			Phone:      stringValue(order.DeliveryAddress.Phone),
		}
	}
	if order.DeliveryCoordinates != nil {
		doc.DeliveryCoordinates = &coordinatesDocument{
			Latitude:  order.DeliveryCoordinates.Latitude,
			Longitude: order.DeliveryCoordinates.Longitude,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
		}
	}

	order := domain.Order{
		ID:                   id,
		CustomerID:           d.CustomerID,
		BranchID:             d.BranchID,
		Items:                items,
		TotalPrice:           d.TotalPrice,
		TotalDiscount:        d.TotalDiscount,
		Status:               domain.OrderStatus(d.Status),
		PaymentMethod:        domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		IsPaid:               d.IsPaid,
		ShipperID:            stringPtr(d.ShipperID),
		AssignedEmployeeID:   stringPtr(d.AssignedEmployeeID),
		DeliveryConfirmation: stringPtr(d.DeliveryConfirmation),
		DeliveryProof:        stringPtr(d.DeliveryProof),
		DeliveryNotes:        stringPtr(d.DeliveryNotes),
		CancelReason:         stringPtr(d.CancelReason),
		ReservationKey:       d.ReservationKey,
		Version:              d.Version,
		ConfirmedAt:          d.ConfirmedAt,
		ShippedAt:            d.ShippedAt,
		DeliveredAt:          d.DeliveredAt,
		CancelledAt:          d.CancelledAt,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		Metadata:             d.Metadata,
	}

	if d.DeliveryAddress != nil {
		order.DeliveryAddress = &domain.Address{
			Recipient:  d.DeliveryAddress.Recipient,
			Line1:      d.DeliveryAddress.Line1,
			Line2:      stringPtr(d.DeliveryAddress.Line2),
			City:       d.DeliveryAddress.City,
			District:   stringPtr(d.DeliveryAddress.District),
			PostalCode: d.DeliveryAddress.PostalCode,
			Phone:      stringPtr(d.DeliveryAddress.Phone),
		}
	}
	if d.DeliveryCoordinates != nil {
		order.DeliveryCoordinates = &domain.Coordinates{
			Latitude:  d.DeliveryCoordinates.Latitude,
			Longitude: d.DeliveryCoordinates.Longitude,
		}
	}
	return order
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
