package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arbora/orders-api/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// WarehouseClient talks to the branch warehouse service managing stock levels.
type WarehouseClient struct {
	baseClient
}

// NewWarehouseClient constructs a warehouse stock client.
func NewWarehouseClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*WarehouseClient, error) {
	base, err := newBaseClient("warehouse", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &WarehouseClient{baseClient: base}, nil
}

// ItemAvailability reports the stock position for a single product at a branch.
type ItemAvailability struct {
	ProductID string
	Available int
	InStock   bool
}

// CheckAvailability reports whether the branch can satisfy every requested item.
func (c *WarehouseClient) CheckAvailability(ctx context.Context, branchID string, items []domain.OrderItem) ([]ItemAvailability, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return nil, errors.New("warehouse: branch id is required")
	}
	if len(items) == 0 {
		return nil, errors.New("warehouse: at least one item is required")
	}

	type requestItem struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	body := struct {
		Items []requestItem `json:"items"`
	}{}
	for _, item := range items {
		body.Items = append(body.Items, requestItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	var payload struct {
		Items []struct {
			ProductID string `json:"productId"`
			Available int    `json:"available"`
			InStock   bool   `json:"inStock"`
		} `json:"items"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "POST",
		path:   []string{"api", "v1", "branches", branchID, "availability"},
		body:   body,
	}, &payload)
	if err != nil {
		return nil, err
	}

	results := make([]ItemAvailability, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, ItemAvailability{
			ProductID: strings.TrimSpace(item.ProductID),
			Available: item.Available,
			InStock:   item.InStock,
		})
	}
	return results, nil
}

// ReserveStock places a hold for a single item at the branch. Calls carry the
// reservation key as an idempotency key, so retries of the same step are safe.
func (c *WarehouseClient) ReserveStock(ctx context.Context, branchID, reservationKey string, item domain.OrderItem) error {
	branchID = strings.TrimSpace(branchID)
	reservationKey = strings.TrimSpace(reservationKey)
	if branchID == "" || reservationKey == "" {
		return errors.New("warehouse: branch id and reservation key are required")
	}
	if item.ProductID == "" || item.Quantity <= 0 {
		return fmt.Errorf("warehouse: invalid reservation item %q", item.ProductID)
	}

	body := struct {
		ReservationKey string `json:"reservationKey"`
		ProductID      string `json:"productId"`
		Quantity       int    `json:"quantity"`
	}{
		ReservationKey: reservationKey,
		ProductID:      item.ProductID,
		Quantity:       item.Quantity,
	}

	return c.doJSON(ctx, requestSpec{
		method:  "POST",
		path:    []string{"api", "v1", "branches", branchID, "reservations"},
		body:    body,
		headers: map[string]string{idempotencyHeader: reservationKey + ":" + item.ProductID},
	}, nil)
}

// ReleaseStock releases a previously placed hold. Releasing a hold that was
// never placed, or one already released, is not an error on the warehouse side.
func (c *WarehouseClient) ReleaseStock(ctx context.Context, branchID, reservationKey string, item domain.OrderItem) error {
	branchID = strings.TrimSpace(branchID)
	reservationKey = strings.TrimSpace(reservationKey)
	if branchID == "" || reservationKey == "" {
		return errors.New("warehouse: branch id and reservation key are required")
	}
	if item.ProductID == "" || item.Quantity <= 0 {
		return fmt.Errorf("warehouse: invalid release item %q", item.ProductID)
	}

	body := struct {
		ReservationKey string `json:"reservationKey"`
		ProductID      string `json:"productId"`
		Quantity       int    `json:"quantity"`
	}{
		ReservationKey: reservationKey,
		ProductID:      item.ProductID,
		Quantity:       item.Quantity,
	}

	err := c.doJSON(ctx, requestSpec{
		method:  "POST",
		path:    []string{"api", "v1", "branches", branchID, "reservations", "release"},
		body:    body,
		headers: map[string]string{idempotencyHeader: reservationKey + ":" + item.ProductID + ":release"},
	}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}
