// Package payments adapts external payment gateways to the refund contract the
// order workflow expects. Orders paid through the gateway are refunded here
// when a cancellation marks them refund-pending; cash and escrow-wallet orders
// never reach this package.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/arbora/orders-api/internal/services"
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeRefunderConfig configures the StripeRefunder.
type StripeRefunderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time

	// RefundAPI overrides the Stripe-backed refund client, for tests.
	RefundAPI stripeRefundAPI
}

// StripeRefunder settles gateway refunds through the Stripe Refunds API.
type StripeRefunder struct {
	refunds stripeRefundAPI
	account string
	clock   func() time.Time
	logger  Logger
}

var _ services.RefundProvider = (*StripeRefunder)(nil)

// NewStripeRefunder constructs a StripeRefunder using the given configuration.
func NewStripeRefunder(cfg StripeRefunderConfig) (*StripeRefunder, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.RefundAPI == nil {
		return nil, errors.New("stripe: api key is required")
	}

	refunds := cfg.RefundAPI
	if refunds == nil {
		sc := client.New(apiKey, cfg.Backends)
		refunds = sc.Refunds
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeRefunder{
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateRefund issues a refund against the payment intent recorded on the
// order. The correlation id doubles as the Stripe idempotency key, so retried
// cancellations never refund twice.
func (p *StripeRefunder) CreateRefund(ctx context.Context, cmd services.RefundCommand) (services.RefundResult, error) {
	if p == nil {
		return services.RefundResult{}, errors.New("stripe: refunder is nil")
	}
	intentID := strings.TrimSpace(cmd.PaymentRef)
	if intentID == "" {
		return services.RefundResult{}, fmt.Errorf("stripe: order %s has no payment reference", cmd.OrderID)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(cmd.CorrelationID); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if cmd.Amount > 0 {
		params.Amount = stripe.Int64(cmd.Amount)
	}
	if reason := mapRefundReason(cmd.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Metadata = map[string]string{
		"orderId": cmd.OrderID,
	}

	refund, err := p.refunds.New(params)
	if err != nil {
		return services.RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"orderId":       cmd.OrderID,
		"refundId":      refund.ID,
		"paymentIntent": intentID,
		"status":        refund.Status,
	})

	return services.RefundResult{
		RefundID: refund.ID,
		Status:   string(refund.Status),
	}, nil
}

// mapRefundReason coerces free-form cancellation reasons onto the fixed set
// Stripe accepts. Anything else is omitted rather than rejected upstream.
func mapRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
