package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 512
)

// Error describes a failed call against a collaborator service.
type Error struct {
	Service string
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "clients: unknown error"
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
}

// IsNotFound reports whether the collaborator answered 404.
func (e *Error) IsNotFound() bool {
	return e != nil && e.Status == http.StatusNotFound
}

// IsConflict reports whether the collaborator answered 409.
func (e *Error) IsConflict() bool {
	return e != nil && e.Status == http.StatusConflict
}

// IsNotFound reports whether err is a collaborator 404.
func IsNotFound(err error) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.IsNotFound()
}

// IsConflict reports whether err is a collaborator 409.
func IsConflict(err error) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.IsConflict()
}

// baseClient bundles the shared JSON-over-HTTP plumbing used by every
// collaborator client.
type baseClient struct {
	service string
	baseURL string
	http    *http.Client
	tokens  *ServiceTokenSource
}

func newBaseClient(service, baseURL string, timeout time.Duration, tokens *ServiceTokenSource) (baseClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return baseClient{}, fmt.Errorf("clients: %s base url is required", service)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return baseClient{
		service: service,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}, nil
}

type requestSpec struct {
	method  string
	path    []string
	query   url.Values
	body    any
	headers map[string]string
}

// doJSON issues the request and decodes a JSON response into out (when non-nil).
func (c *baseClient) doJSON(ctx context.Context, spec requestSpec, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, spec.path...)
	if err != nil {
		return fmt.Errorf("%s: build url: %w", c.service, err)
	}
	if len(spec.query) > 0 {
		endpoint += "?" + spec.query.Encode()
	}

	var bodyReader io.Reader
	if spec.body != nil {
		payload, err := json.Marshal(spec.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.service, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range spec.headers {
		if strings.TrimSpace(value) != "" {
			req.Header.Set(key, value)
		}
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(c.service)
		if err != nil {
			return fmt.Errorf("%s: service token: %w", c.service, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &Error{
			Service: c.service,
			Status:  resp.StatusCode,
			Message: drainError(resp.Body),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.service, err)
	}
	return nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	return strings.TrimSpace(string(b))
}
