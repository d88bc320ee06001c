package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arbora/orders-api/internal/clients"
	domain "github.com/arbora/orders-api/internal/domain"
	"github.com/arbora/orders-api/internal/platform/observability"
)

// ErrStockReservationFailed wraps reservation attempts that could not secure
// every item; partial reservations have been compensated when it is returned.
var ErrStockReservationFailed = errors.New("reservations: stock reservation failed")

// StockReservationDeps bundles collaborators required to construct the coordinator.
type StockReservationDeps struct {
	Warehouse WarehouseGateway
	Metrics   *observability.Metrics
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type stockReservationCoordinator struct {
	warehouse WarehouseGateway
	metrics   *observability.Metrics
	logger    func(context.Context, string, map[string]any)
}

// NewStockReservationCoordinator wires dependencies into a concrete coordinator.
func NewStockReservationCoordinator(deps StockReservationDeps) (StockReservationCoordinator, error) {
	if deps.Warehouse == nil {
		return nil, errors.New("reservation coordinator: warehouse gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockReservationCoordinator{
		warehouse: deps.Warehouse,
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

// ReserveAll reserves every item in order. The first failure stops the pass;
// items reserved so far are released before the error is reported, so a failed
// attempt never leaves stock held.
func (c *stockReservationCoordinator) ReserveAll(ctx context.Context, cmd ReserveStockCommand) error {
	if strings.TrimSpace(cmd.BranchID) == "" {
		return fmt.Errorf("%w: branch id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ReservationKey) == "" {
		return fmt.Errorf("%w: reservation key is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	reserved := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if err := c.warehouse.ReserveStock(ctx, cmd.BranchID, cmd.ReservationKey, item); err != nil {
			c.logger(ctx, "reservations.reserve_failed", map[string]any{
				"branchId":       cmd.BranchID,
				"reservationKey": cmd.ReservationKey,
				"productId":      item.ProductID,
				"error":          err.Error(),
			})
			c.ReleaseAll(ctx, ReleaseStockCommand{
				BranchID:       cmd.BranchID,
				ReservationKey: cmd.ReservationKey,
				Items:          reserved,
			})
			if clients.IsConflict(err) {
				return fmt.Errorf("%w: product %s: %v", ErrInsufficientStock, item.ProductID, err)
			}
			return fmt.Errorf("%w: product %s: %v", ErrStockReservationFailed, item.ProductID, err)
		}
		reserved = append(reserved, item)
	}
	return nil
}

// ReleaseAll releases every item best-effort. Release calls are idempotent on
// the warehouse side, so retrying an already-released item is harmless;
// failures are logged and counted but never block the caller.
func (c *stockReservationCoordinator) ReleaseAll(ctx context.Context, cmd ReleaseStockCommand) ReleaseOutcome {
	outcome := ReleaseOutcome{}
	if strings.TrimSpace(cmd.ReservationKey) == "" || len(cmd.Items) == 0 {
		return outcome
	}

	for _, item := range cmd.Items {
		if err := c.warehouse.ReleaseStock(ctx, cmd.BranchID, cmd.ReservationKey, item); err != nil {
			outcome.Failed++
			c.metrics.StockReleaseFailure(ctx, cmd.BranchID)
			c.logger(ctx, "reservations.release_failed", map[string]any{
				"orderId":        cmd.OrderID,
				"branchId":       cmd.BranchID,
				"reservationKey": cmd.ReservationKey,
				"productId":      item.ProductID,
				"error":          err.Error(),
			})
			continue
		}
		outcome.Released++
	}
	return outcome
}
