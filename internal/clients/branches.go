package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arbora/orders-api/internal/domain"
)

// BranchesClient queries the branch directory service.
type BranchesClient struct {
	baseClient
}

// NewBranchesClient constructs a branch directory client.
func NewBranchesClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*BranchesClient, error) {
	base, err := newBaseClient("branches", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &BranchesClient{baseClient: base}, nil
}

type branchPayload struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	IsActive  bool     `json:"isActive"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
	Phone     string   `json:"phone"`
}

func (p branchPayload) toDomain() domain.Branch {
	branch := domain.Branch{
		ID:          strings.TrimSpace(p.ID),
		Name:        strings.TrimSpace(p.Name),
		IsActive:    p.IsActive,
		AddressLine: strings.TrimSpace(p.Address),
		Phone:       strings.TrimSpace(p.Phone),
	}
	if p.Latitude != nil && p.Longitude != nil {
		branch.Coordinates = &domain.Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}
	}
	return branch
}

// GetBranch fetches a single branch by identifier.
func (c *BranchesClient) GetBranch(ctx context.Context, branchID string) (domain.Branch, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return domain.Branch{}, errors.New("branches: branch id is required")
	}

	var payload branchPayload
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "branches", branchID},
	}, &payload)
	if err != nil {
		return domain.Branch{}, err
	}
	return payload.toDomain(), nil
}

// ListActiveBranches returns every branch currently accepting orders.
func (c *BranchesClient) ListActiveBranches(ctx context.Context) ([]domain.Branch, error) {
	var payload struct {
		Items []branchPayload `json:"items"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "branches"},
		query:  url.Values{"active": []string{"true"}},
	}, &payload)
	if err != nil {
		return nil, err
	}

	branches := make([]domain.Branch, 0, len(payload.Items))
	for _, item := range payload.Items {
		branch := item.toDomain()
		if branch.ID == "" || !branch.IsActive {
			continue
		}
		branches = append(branches, branch)
	}
	return branches, nil
}

// NearestBranches asks the directory for the branches closest to the supplied
// coordinates, ordered nearest first.
func (c *BranchesClient) NearestBranches(ctx context.Context, coords domain.Coordinates, count int) ([]domain.Branch, error) {
	if count <= 0 {
		return nil, fmt.Errorf("branches: count must be positive, got %d", count)
	}

	query := url.Values{
		"lat":   []string{strconv.FormatFloat(coords.Latitude, 'f', -1, 64)},
		"lng":   []string{strconv.FormatFloat(coords.Longitude, 'f', -1, 64)},
		"count": []string{strconv.Itoa(count)},
	}

	var payload struct {
		Items []branchPayload `json:"items"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "branches", "nearest"},
		query:  query,
	}, &payload)
	if err != nil {
		return nil, err
	}

	branches := make([]domain.Branch, 0, len(payload.Items))
	for _, item := range payload.Items {
		branch := item.toDomain()
		if branch.ID == "" {
			continue
		}
		branches = append(branches, branch)
	}
	return branches, nil
}
