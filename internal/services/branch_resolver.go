package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/arbora/orders-api/internal/domain"
)

// defaultCandidateCount bounds the proximity shortlist fetched from the branch
// directory before falling back to a full scan.
const defaultCandidateCount = 5

// BranchResolverDeps bundles collaborators required to construct the branch resolver.
type BranchResolverDeps struct {
	Branches BranchDirectory
	// Warehouse answers per-branch availability checks.
	Warehouse WarehouseGateway
	// Routing is optional; without it candidates keep directory order.
	Routing        RoutingGateway
	CandidateCount int
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type branchResolver struct {
	branches   BranchDirectory
	warehouse  WarehouseGateway
	routing    RoutingGateway
	candidates int
	logger     func(context.Context, string, map[string]any)
}

// NewBranchResolver wires dependencies into a concrete BranchResolver implementation.
func NewBranchResolver(deps BranchResolverDeps) (BranchResolver, error) {
	if deps.Branches == nil {
		return nil, errors.New("branch resolver: branch directory is required")
	}
	if deps.Warehouse == nil {
		return nil, errors.New("branch resolver: warehouse gateway is required")
	}

	candidates := deps.CandidateCount
	if candidates <= 0 {
		candidates = defaultCandidateCount
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &branchResolver{
		branches:   deps.Branches,
		warehouse:  deps.Warehouse,
		routing:    deps.Routing,
		candidates: candidates,
		logger:     logger,
	}, nil
}

func (r *branchResolver) Resolve(ctx context.Context, cmd ResolveBranchCommand) (domain.Branch, error) {
	if len(cmd.Items) == 0 {
		return domain.Branch{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return domain.Branch{}, fmt.Errorf("%w: item %q has an invalid quantity", ErrOrderInvalidInput, item.ProductID)
		}
	}

	tried := make(map[string]bool)

	if cmd.DeliveryCoordinates != nil {
		shortlist, err := r.branches.NearestBranches(ctx, *cmd.DeliveryCoordinates, r.candidates)
		if err != nil {
			// Proximity is an optimisation; the full scan below still runs.
			r.logger(ctx, "branch_resolver.nearest_failed", map[string]any{"error": err.Error()})
		}
		shortlist = r.rankByRoadDistance(ctx, shortlist, *cmd.DeliveryCoordinates)
		for _, candidate := range shortlist {
			if !candidate.IsActive || tried[candidate.ID] {
				continue
			}
			tried[candidate.ID] = true
			if r.canFulfil(ctx, candidate.ID, cmd.Items) {
				return candidate, nil
			}
		}
	}

	all, err := r.branches.ListActiveBranches(ctx)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("%w: listing branches: %v", ErrDependencyUnavailable, err)
	}
	for _, candidate := range all {
		if !candidate.IsActive || tried[candidate.ID] {
			continue
		}
		tried[candidate.ID] = true
		if r.canFulfil(ctx, candidate.ID, cmd.Items) {
			return candidate, nil
		}
	}

	return domain.Branch{}, ErrNoBranchAvailable
}

// rankByRoadDistance re-orders the shortlist by road distance to the delivery
// point. Branches whose distance cannot be resolved keep their directory order
// behind the routed ones; when nothing routes, the input order is preserved.
func (r *branchResolver) rankByRoadDistance(ctx context.Context, shortlist []domain.Branch, dest domain.Coordinates) []domain.Branch {
	if r.routing == nil || len(shortlist) < 2 {
		return shortlist
	}

	type rankedBranch struct {
		branch   domain.Branch
		distance float64
		routed   bool
	}

	ranked := make([]rankedBranch, 0, len(shortlist))
	anyRouted := false
	for _, branch := range shortlist {
		entry := rankedBranch{branch: branch}
		if branch.Coordinates != nil {
			distance, err := r.routing.RoadDistance(ctx, *branch.Coordinates, dest)
			if err != nil {
				r.logger(ctx, "branch_resolver.routing_failed", map[string]any{
					"branchId": branch.ID,
					"error":    err.Error(),
				})
			} else {
				entry.distance = distance
				entry.routed = true
				anyRouted = true
			}
		}
		ranked = append(ranked, entry)
	}
	if !anyRouted {
		return shortlist
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].routed != ranked[j].routed {
			return ranked[i].routed
		}
		if !ranked[i].routed {
			return false
		}
		return ranked[i].distance < ranked[j].distance
	})

	ordered := make([]domain.Branch, len(ranked))
	for i, entry := range ranked {
		ordered[i] = entry.branch
	}
	return ordered
}

// canFulfil reports whether the branch has every item in stock at the
// requested quantity. Availability lookup failures disqualify the branch
// rather than aborting resolution.
func (r *branchResolver) canFulfil(ctx context.Context, branchID string, items []domain.OrderItem) bool {
	availability, err := r.warehouse.CheckAvailability(ctx, branchID, items)
	if err != nil {
		r.logger(ctx, "branch_resolver.availability_failed", map[string]any{
			"branchId": branchID,
			"error":    err.Error(),
		})
		return false
	}

	byProduct := make(map[string]int, len(availability))
	for _, entry := range availability {
		if entry.InStock {
			byProduct[entry.ProductID] = entry.Available
		}
	}
	for _, item := range items {
		if byProduct[item.ProductID] < item.Quantity {
			return false
		}
	}
	return true
}
