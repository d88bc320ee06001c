package clients

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/arbora/orders-api/internal/domain"
)

// RoutingClient asks the routing service for road distances between points.
// Callers treat it as best-effort and fall back to straight-line distance.
type RoutingClient struct {
	baseClient
}

// NewRoutingClient constructs a routing client.
func NewRoutingClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*RoutingClient, error) {
	base, err := newBaseClient("routing", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &RoutingClient{baseClient: base}, nil
}

// RoadDistance returns the driving distance in meters between two points.
func (c *RoutingClient) RoadDistance(ctx context.Context, from, to domain.Coordinates) (float64, error) {
	query := url.Values{
		"fromLat": []string{strconv.FormatFloat(from.Latitude, 'f', -1, 64)},
		"fromLng": []string{strconv.FormatFloat(from.Longitude, 'f', -1, 64)},
		"toLat":   []string{strconv.FormatFloat(to.Latitude, 'f', -1, 64)},
		"toLng":   []string{strconv.FormatFloat(to.Longitude, 'f', -1, 64)},
	}

	var payload struct {
		DistanceMeters float64 `json:"distanceMeters"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "route", "distance"},
		query:  query,
	}, &payload)
	if err != nil {
		return 0, err
	}
	return payload.DistanceMeters, nil
}
