package clients

import (
	"context"
	"errors"
	"strings"
	"time"
)

// WalletClient manages escrow wallet holds with the wallet service. Funds are
// locked when an escrow order is placed, released to the branch on completion
// and refunded to the customer on cancellation.
type WalletClient struct {
	baseClient
}

// NewWalletClient constructs a wallet client.
func NewWalletClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*WalletClient, error) {
	base, err := newBaseClient("wallet", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &WalletClient{baseClient: base}, nil
}

type walletHoldRequest struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Amount     int64  `json:"amount"`
}

func (c *WalletClient) holdAction(ctx context.Context, action, orderID, customerID string, amount int64) error {
	orderID = strings.TrimSpace(orderID)
	customerID = strings.TrimSpace(customerID)
	if orderID == "" || customerID == "" {
		return errors.New("wallet: order id and customer id are required")
	}
	if amount <= 0 {
		return errors.New("wallet: amount must be positive")
	}

	return c.doJSON(ctx, requestSpec{
		method:  "POST",
		path:    []string{"api", "v1", "holds", action},
		body:    walletHoldRequest{OrderID: orderID, CustomerID: customerID, Amount: amount},
		headers: map[string]string{idempotencyHeader: orderID + ":" + action},
	}, nil)
}

// LockFunds places an escrow hold covering the order total.
func (c *WalletClient) LockFunds(ctx context.Context, orderID, customerID string, amount int64) error {
	return c.holdAction(ctx, "lock", orderID, customerID, amount)
}

// ReleaseFunds settles the hold to the fulfilling branch.
func (c *WalletClient) ReleaseFunds(ctx context.Context, orderID, customerID string, amount int64) error {
	return c.holdAction(ctx, "release", orderID, customerID, amount)
}

// RefundFunds returns the held amount to the customer.
func (c *WalletClient) RefundFunds(ctx context.Context, orderID, customerID string, amount int64) error {
	return c.holdAction(ctx, "refund", orderID, customerID, amount)
}
