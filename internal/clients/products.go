package clients

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// ProductsClient resolves catalog entries from the product service.
type ProductsClient struct {
	baseClient
}

// NewProductsClient constructs a product catalog client.
func NewProductsClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (*ProductsClient, error) {
	base, err := newBaseClient("products", baseURL, timeout, tokens)
	if err != nil {
		return nil, err
	}
	return &ProductsClient{baseClient: base}, nil
}

// ProductSummary carries the catalog fields embedded in enriched order payloads.
type ProductSummary struct {
	ID       string
	Name     string
	ImageURL string
	Category string
}

type productPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Category string `json:"category"`
}

func (p productPayload) toSummary() ProductSummary {
	return ProductSummary{
		ID:       strings.TrimSpace(p.ID),
		Name:     strings.TrimSpace(p.Name),
		ImageURL: strings.TrimSpace(p.ImageURL),
		Category: strings.TrimSpace(p.Category),
	}
}

// GetProducts fetches catalog entries in bulk, keyed by product id. Missing
// products are simply absent from the result.
func (c *ProductsClient) GetProducts(ctx context.Context, productIDs []string) (map[string]ProductSummary, error) {
	ids := dedupeIDs(productIDs)
	if len(ids) == 0 {
		return map[string]ProductSummary{}, nil
	}

	var payload struct {
		Items []productPayload `json:"items"`
	}
	err := c.doJSON(ctx, requestSpec{
		method: "GET",
		path:   []string{"api", "v1", "products"},
		query:  url.Values{"ids": []string{strings.Join(ids, ",")}},
	}, &payload)
	if err != nil {
		return nil, err
	}

	result := make(map[string]ProductSummary, len(payload.Items))
	for _, item := range payload.Items {
		summary := item.toSummary()
		if summary.ID == "" {
			continue
		}
		result[summary.ID] = summary
	}
	return result, nil
}
