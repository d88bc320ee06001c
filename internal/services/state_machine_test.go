package services

import (
	"errors"
	"testing"

	domain "github.com/arbora/orders-api/internal/domain"
)

func strPtr(value string) *string { return &value }

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPendingConfirmation, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPendingConfirmation, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPendingConfirmation, domain.OrderStatusPacking, false},
		{domain.OrderStatusConfirmed, domain.OrderStatusPacking, true},
		{domain.OrderStatusPacking, domain.OrderStatusReadyToShip, true},
		{domain.OrderStatusReadyToShip, domain.OrderStatusShipping, true},
		{domain.OrderStatusShipping, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipping, domain.OrderStatusFailedDelivery, true},
		{domain.OrderStatusFailedDelivery, domain.OrderStatusShipping, true},
		{domain.OrderStatusFailedDelivery, domain.OrderStatusReturning, true},
		{domain.OrderStatusReturning, domain.OrderStatusReturned, true},
		{domain.OrderStatusReturned, domain.OrderStatusCancelled, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCompleted, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCompleted, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusConfirmed, false},
		{domain.OrderStatusShipping, domain.OrderStatusShipping, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.from, tc.to); got != tc.want {
			t.Errorf("transitionAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAuthorizeTransitionEmployee(t *testing.T) {
	order := domain.Order{BranchID: "branch-1", Status: domain.OrderStatusConfirmed}
	actor := Actor{ID: "emp-1", Role: domain.RoleEmployee, BranchID: "branch-1"}

	cmd := UpdateOrderStatusCommand{TargetStatus: domain.OrderStatusPacking, Actor: actor}
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("unassigned order at own branch should be allowed: %v", err)
	}

	order.AssignedEmployeeID = strPtr("emp-1")
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("assigned order should be allowed: %v", err)
	}

	order.AssignedEmployeeID = strPtr("emp-2")
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for another employee's order, got %v", err)
	}

	order.AssignedEmployeeID = nil
	order.BranchID = "branch-2"
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for another branch, got %v", err)
	}

	order.BranchID = "branch-1"
	cmd.TargetStatus = domain.OrderStatusCancelled
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for cancellation by employee, got %v", err)
	}
}

func TestAuthorizeTransitionShipper(t *testing.T) {
	order := domain.Order{
		BranchID:  "branch-1",
		Status:    domain.OrderStatusShipping,
		ShipperID: strPtr("ship-1"),
	}
	actor := Actor{ID: "ship-1", Role: domain.RoleShipper, BranchID: "branch-1"}

	cmd := UpdateOrderStatusCommand{
		TargetStatus:         domain.OrderStatusDelivered,
		Actor:                actor,
		DeliveryConfirmation: strPtr("OTP-4821"),
	}
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("assigned shipper with confirmation should be allowed: %v", err)
	}

	cmd.DeliveryConfirmation = nil
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition without delivery confirmation, got %v", err)
	}

	cmd.DeliveryConfirmation = strPtr("OTP-4821")
	order.ShipperID = strPtr("ship-2")
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for another shipper's order, got %v", err)
	}

	order.ShipperID = strPtr("ship-1")
	cmd.TargetStatus = domain.OrderStatusReturning
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for return handling by shipper, got %v", err)
	}

	cmd.TargetStatus = domain.OrderStatusFailedDelivery
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("failed delivery should be allowed for assigned shipper: %v", err)
	}
}

func TestAuthorizeTransitionAdminNeedsJustification(t *testing.T) {
	order := domain.Order{BranchID: "branch-1", Status: domain.OrderStatusReturning}
	actor := Actor{ID: "adm-1", Role: domain.RoleAdmin}

	cmd := UpdateOrderStatusCommand{TargetStatus: domain.OrderStatusReturned, Actor: actor, Justification: "short"}
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for short justification, got %v", err)
	}

	cmd.Justification = "customer refused the delivery twice"
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("admin with justification should be allowed: %v", err)
	}
}

func TestAuthorizeTransitionBranchManagerScope(t *testing.T) {
	order := domain.Order{BranchID: "branch-1", Status: domain.OrderStatusPendingConfirmation}
	actor := Actor{ID: "mgr-1", Role: domain.RoleBranchManager, BranchID: "branch-1"}

	cmd := UpdateOrderStatusCommand{TargetStatus: domain.OrderStatusConfirmed, Actor: actor}
	if err := authorizeTransition(actor, order, cmd); err != nil {
		t.Fatalf("manager at own branch should be allowed: %v", err)
	}

	actor.BranchID = "branch-2"
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for another branch, got %v", err)
	}
}

func TestAuthorizeTransitionRejectsCustomers(t *testing.T) {
	order := domain.Order{Status: domain.OrderStatusPendingConfirmation, CustomerID: "cust-1"}
	actor := Actor{ID: "cust-1", Role: domain.RoleCustomer}

	cmd := UpdateOrderStatusCommand{TargetStatus: domain.OrderStatusCancelled, Actor: actor}
	if err := authorizeTransition(actor, order, cmd); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("expected ErrForbiddenTransition for customer, got %v", err)
	}
}
