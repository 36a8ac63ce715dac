// Package cache notifies an upstream edge cache when an owner's venue pages change.
package cache

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Invalidator defines a cache invalidation contract keyed by owner.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID string) error
}

// NoopInvalidator is a no-op implementation.
type NoopInvalidator struct{}

// Invalidate performs no action.
func (NoopInvalidator) Invalidate(context.Context, string) error { return nil }

// HTTPInvalidator calls an upstream edge cache purge endpoint.
type HTTPInvalidator struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPInvalidator constructs an HTTPInvalidator.
func NewHTTPInvalidator(endpoint, token string, timeout time.Duration) *HTTPInvalidator {
	return &HTTPInvalidator{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Invalidate POSTs the owner's venue path prefix to the purge endpoint.
func (h *HTTPInvalidator) Invalidate(ctx context.Context, ownerID string) error {
	body := "/v1/venues?owner=" + ownerID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &InvalidationError{Status: resp.StatusCode, OwnerID: ownerID}
	}
	return nil
}

// InvalidationError represents a non-successful purge response.
type InvalidationError struct {
	Status  int
	OwnerID string
}

func (e *InvalidationError) Error() string {
	return "cache invalidation for owner " + e.OwnerID + " failed with status " + http.StatusText(e.Status)
}
