// Package yelp queries the Yelp Fusion business search endpoint.
package yelp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"example.com/venues/internal/observability"
	"example.com/venues/internal/venue"
)

// DefaultEndpoint is the Fusion business search URL.
const DefaultEndpoint = "https://api.yelp.com/v3/businesses/search"

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config carries the client's credentials and endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements venue.Provider.
type Client struct {
	endpoint    *url.URL
	endpointErr error
	apiKey      string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient constructs a Client. An empty endpoint or timeout falls back to the
// defaults. Query parameters already on the endpoint are kept on every call; an
// unparseable endpoint fails each Search with ErrProviderUnavailable.
func NewClient(cfg Config) *Client {
	raw := cfg.Endpoint
	if raw == "" {
		raw = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	endpoint, err := url.Parse(raw)
	return &Client{
		endpoint:    endpoint,
		endpointErr: err,
		apiKey:      cfg.APIKey,
		timeout:     timeout,
		httpClient:  &http.Client{},
	}
}

// StatusError reports a non-2xx response from the search endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("yelp search returned %d: %s", e.StatusCode, e.Body)
}

type searchResponse struct {
	Businesses *[]venue.RawBusiness `json:"businesses"`
}

// Search runs one business search. Results keep the provider's rating order.
func (c *Client) Search(ctx context.Context, req venue.SearchRequest) ([]venue.RawBusiness, error) {
	start := time.Now()
	businesses, err := c.search(ctx, req)
	observability.RecordProviderRequest(req.Term, outcomeOf(err), time.Since(start))
	return businesses, err
}

func (c *Client) search(ctx context.Context, req venue.SearchRequest) ([]venue.RawBusiness, error) {
	if c.endpointErr != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", venue.ErrProviderUnavailable, c.endpointErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := *c.endpoint
	query := target.Query()
	query.Set("location", req.Location)
	query.Set("radius", strconv.Itoa(req.RadiusMeters))
	query.Set("limit", strconv.Itoa(req.Limit))
	query.Set("sort_by", "rating")
	query.Set("term", req.Term)

	target.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", venue.ErrProviderUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportErr(ctx, req.Term, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %w", venue.ErrProviderUnavailable, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if callCtx.Err() != nil {
			return nil, transportErr(ctx, req.Term, err)
		}
		return nil, fmt.Errorf("%w: %s: decode body: %v", venue.ErrProviderResponseInvalid, req.Term, err)
	}
	if payload.Businesses == nil {
		return nil, fmt.Errorf("%w: %s: response has no businesses array", venue.ErrProviderResponseInvalid, req.Term)
	}
	return *payload.Businesses, nil
}

// transportErr reports a failed call as ErrProviderUnavailable. When the
// caller's own context ended, its error stays in the chain so cancellation is
// distinguishable from a per-call timeout.
func transportErr(caller context.Context, term string, err error) error {
	if callerErr := caller.Err(); callerErr != nil {
		return fmt.Errorf("%w: %s: %w", venue.ErrProviderUnavailable, term, callerErr)
	}
	return fmt.Errorf("%w: %s: %v", venue.ErrProviderUnavailable, term, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, venue.ErrProviderResponseInvalid):
		return "invalid_response"
	default:
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return "status_" + strconv.Itoa(statusErr.StatusCode)
		}
		return "unavailable"
	}
}
