package clients

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// UsersClient resolves customer and staff profiles from the user service.
type UsersClient struct {
	baseClient
}

// NewUsersClient constructs a user profile client.
func NewUsersClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*UsersClient, error) {
	base, err := newBaseClient("users", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &UsersClient{baseClient: base}, nil
}

// UserSummary carries the profile fields embedded in enriched order payloads.
type UserSummary struct {
	ID          string
	DisplayName string
	Email       string
	Phone       string
	Roles       []string
	BranchID    string
}

// HasRole reports whether the profile carries the role, case-insensitively.
func (s UserSummary) HasRole(role string) bool {
	for _, candidate := range s.Roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}

type userPayload struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Roles       []string `json:"roles"`
	BranchID    string   `json:"branchId"`
}

func (p userPayload) toSummary() UserSummary {
	return UserSummary{
		ID:          strings.TrimSpace(p.ID),
		DisplayName: strings.TrimSpace(p.DisplayName),
		Email:       strings.TrimSpace(p.Email),
		Phone:       strings.TrimSpace(p.Phone),
		Roles:       p.Roles,
		BranchID:    strings.TrimSpace(p.BranchID),
	}
}

// GetUser fetches a single profile.
func (c *UsersClient) GetUser(ctx context.Context, userID string) (UserSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserSummary{}, errors.New("users: user id is required")
	}

	var payload userPayload
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "users", userID},
	}, &payload)
	if err != nil {
		return UserSummary{}, err
	}
	return payload.toSummary(), nil
}

// GetUsers fetches profiles in bulk, keyed by user id. Missing users are
// simply absent from the result.
func (c *UsersClient) GetUsers(ctx context.Context, userIDs []string) (map[string]UserSummary, error) {
	ids := dedupeIDs(userIDs)
	if len(ids) == 0 {
		return map[string]UserSummary{}, nil
	}

	var payload struct {
		Items []userPayload `json:"items"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "users"},
		query:  url.Values{"ids": []string{strings.Join(ids, ",")}},
	}, &payload)
	if err != nil {
		return nil, err
	}

	result := make(map[string]UserSummary, len(payload.Items))
	for _, item := range payload.Items {
		summary := item.toSummary()
		if summary.ID == "" {
			continue
		}
		result[summary.ID] = summary
	}
	return result, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
