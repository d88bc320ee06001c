package services

import (
	"fmt"
	"strings"

	domain "github.com/arbora/orders-api/internal/domain"
)

// minAdminJustification is the shortest accepted justification for an
// administrative transition override.
const minAdminJustification = 10

// orderTransitions is the complete lifecycle graph. An edge absent from the
// graph is invalid for every role, including admins.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingConfirmation: {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:           {domain.OrderStatusPacking, domain.OrderStatusCancelled},
	domain.OrderStatusPacking:             {domain.OrderStatusReadyToShip, domain.OrderStatusCancelled},
	domain.OrderStatusReadyToShip:         {domain.OrderStatusShipping, domain.OrderStatusCancelled},
	domain.OrderStatusShipping:            {domain.OrderStatusDelivered, domain.OrderStatusFailedDelivery, domain.OrderStatusCancelled},
	domain.OrderStatusFailedDelivery:      {domain.OrderStatusShipping, domain.OrderStatusReturning, domain.OrderStatusCancelled},
	domain.OrderStatusReturning:           {domain.OrderStatusReturned, domain.OrderStatusCancelled},
	domain.OrderStatusReturned:            {domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:           {domain.OrderStatusCompleted},
	domain.OrderStatusCompleted:           nil,
	domain.OrderStatusCancelled:           nil,
}

// transitionAllowed reports whether the lifecycle graph contains the edge.
func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// employeeTargets are the only statuses a branch employee may move an order into.
var employeeTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusPacking:     true,
	domain.OrderStatusReadyToShip: true,
}

// shipperTargets are the only statuses a shipper may move an order into.
var shipperTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusShipping:       true,
	domain.OrderStatusDelivered:      true,
	domain.OrderStatusFailedDelivery: true,
}

// authorizeTransition enforces the per-role transition policy. The caller must
// have already validated the lifecycle edge itself; this only answers whether
// the actor may drive it on this particular order.
func authorizeTransition(actor Actor, order domain.Order, cmd UpdateOrderStatusCommand) error {
	switch actor.Role {
	case domain.RoleAdmin:
		if len(strings.TrimSpace(cmd.Justification)) < minAdminJustification {
			return fmt.Errorf("%w: admin transitions require a justification of at least %d characters", ErrForbiddenTransition, minAdminJustification)
		}
		return nil

	case domain.RoleBranchManager:
		if strings.TrimSpace(actor.BranchID) == "" {
			return fmt.Errorf("%w: branch manager has no branch assignment", ErrForbiddenTransition)
		}
		if order.BranchID != actor.BranchID {
			return fmt.Errorf("%w: order belongs to another branch", ErrForbiddenTransition)
		}
		return nil

	case domain.RoleEmployee:
		if !employeeTargets[cmd.TargetStatus] {
			return fmt.Errorf("%w: employees may only advance preparation statuses", ErrForbiddenTransition)
		}
		if strings.TrimSpace(actor.BranchID) == "" || order.BranchID != actor.BranchID {
			return fmt.Errorf("%w: order belongs to another branch", ErrForbiddenTransition)
		}
		if assignee := stringOrEmpty(order.AssignedEmployeeID); assignee != "" && assignee != actor.ID {
			return fmt.Errorf("%w: order is assigned to another employee", ErrForbiddenTransition)
		}
		return nil

	case domain.RoleShipper:
		if !shipperTargets[cmd.TargetStatus] {
			return fmt.Errorf("%w: shippers may only update delivery statuses", ErrForbiddenTransition)
		}
		if stringOrEmpty(order.ShipperID) != actor.ID {
			return fmt.Errorf("%w: order is assigned to another shipper", ErrForbiddenTransition)
		}
		if cmd.TargetStatus == domain.OrderStatusDelivered &&
			strings.TrimSpace(stringOrEmpty(cmd.DeliveryConfirmation)) == "" {
			return fmt.Errorf("%w: marking delivered requires a delivery confirmation", ErrForbiddenTransition)
		}
		return nil

	default:
		return fmt.Errorf("%w: role %s may not update order status", ErrForbiddenTransition, actor.Role)
	}
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
