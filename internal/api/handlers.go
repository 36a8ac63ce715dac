// Package api exposes HTTP handlers for the venue service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/venues/internal/auth"
	"example.com/venues/internal/venue"
)

// Synchronizer runs a venue synchronization for one owner.
type Synchronizer interface {
	Synchronize(ctx context.Context, req venue.SyncRequest) (*venue.SyncResult, error)
}

// Handler coordinates HTTP requests with the venue engine and read service.
type Handler struct {
	syncer  Synchronizer
	service *venue.Service
}

// NewHandler builds a Handler.
func NewHandler(syncer Synchronizer, service *venue.Service) *Handler {
	return &Handler{syncer: syncer, service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/location", h.location)
	mux.HandleFunc("/v1/venues", h.overview)
	mux.HandleFunc("/v1/venues/", h.venuesByCategory)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) location(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.updateLocation(w, r)
	case http.MethodGet:
		h.getLocation(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireScope(w, r, auth.ScopeVenuesWrite)
	if !ok {
		return
	}

	var req UpdateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.syncer.Synchronize(r.Context(), venue.SyncRequest{
		OwnerID:     ownerID,
		Location:    req.Location,
		RadiusMiles: req.RadiusMiles,
		ResultCount: req.ResultCount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	counts := make(map[string]int, len(result.Counts))
	for category, n := range result.Counts {
		counts[string(category)] = n
	}
	writeJSON(w, http.StatusOK, UpdateLocationResponse{
		SyncID:      result.SyncID,
		Location:    result.Location.Location,
		RadiusMiles: result.Location.RadiusMiles,
		ResultCount: result.Location.ResultCount,
		Counts:      counts,
		SyncedAt:    result.Location.SyncedAt,
	})
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireScope(w, r, auth.ScopeVenuesRead, auth.ScopeVenuesWrite)
	if !ok {
		return
	}

	location, err := h.service.HomeLocation(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationView(*location))
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	ownerID, ok := requireScope(w, r, auth.ScopeVenuesRead, auth.ScopeVenuesWrite)
	if !ok {
		return
	}

	overview, err := h.service.Overview(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OverviewResponse{
		Location:    toLocationView(overview.Location),
		Restaurants: toVenueViews(overview.Venues[venue.CategoryRestaurants]),
		Bars:        toVenueViews(overview.Venues[venue.CategoryBars]),
		Coffee:      toVenueViews(overview.Venues[venue.CategoryCoffee]),
		Activities:  toVenueViews(overview.Venues[venue.CategoryActivities]),
	})
}

func (h *Handler) venuesByCategory(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/venues/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing category")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	ownerID, ok := requireScope(w, r, auth.ScopeVenuesRead, auth.ScopeVenuesWrite)
	if !ok {
		return
	}

	category, err := venue.ParseCategory(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_category", err.Error())
		return
	}

	records, err := h.service.ListVenues(r.Context(), ownerID, category)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CategoryResponse{
		Category: string(category),
		Items:    toVenueViews(records),
	})
}

// requireScope resolves the owner and checks that any of scopes was granted.
// It writes the error response itself and reports false on failure.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (string, bool) {
	ownerID, ok := auth.OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	claims, _ := auth.FromContext(r.Context())
	if !claims.HasAnyScope(scopes...) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
		return "", false
	}
	return ownerID, true
}

// UpdateLocationRequest is the payload for PUT /v1/location.
type UpdateLocationRequest struct {
	Location    string `json:"location"`
	RadiusMiles int    `json:"radius_miles"`
	ResultCount int    `json:"result_count"`
}

// UpdateLocationResponse reports a committed synchronization.
type UpdateLocationResponse struct {
	SyncID      string         `json:"sync_id"`
	Location    string         `json:"location"`
	RadiusMiles int            `json:"radius_miles"`
	ResultCount int            `json:"result_count"`
	Counts      map[string]int `json:"counts"`
	SyncedAt    time.Time      `json:"synced_at"`
}

// LocationView is the owner's home location.
type LocationView struct {
	Location    string    `json:"location"`
	RadiusMiles int       `json:"radius_miles"`
	ResultCount int       `json:"result_count"`
	SyncID      string    `json:"sync_id"`
	SyncedAt    time.Time `json:"synced_at"`
}

// VenueView exposes one stored venue.
type VenueView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ImageURL  string  `json:"image_url"`
	DetailURL string  `json:"url"`
	Rating    float64 `json:"rating"`
	Price     *string `json:"price,omitempty"`
}

// OverviewResponse packages every category for the owner.
type OverviewResponse struct {
	Location    LocationView `json:"location"`
	Restaurants []VenueView  `json:"restaurants"`
	Bars        []VenueView  `json:"bars"`
	Coffee      []VenueView  `json:"coffee"`
	Activities  []VenueView  `json:"activities"`
}

// CategoryResponse packages a single category listing.
type CategoryResponse struct {
	Category string      `json:"category"`
	Items    []VenueView `json:"items"`
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "canceled", err.Error())
	case errors.Is(err, venue.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, venue.ErrLocationNotSet):
		writeError(w, http.StatusNotFound, "location_not_set", "no location has been synchronized")
	case errors.Is(err, venue.ErrProviderResponseInvalid):
		writeError(w, http.StatusBadGateway, "provider_response_invalid", err.Error())
	case errors.Is(err, venue.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
	case errors.Is(err, venue.ErrStorageFailure):
		writeError(w, http.StatusInternalServerError, "storage_failure", "unable to store venues")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toLocationView(loc venue.HomeLocation) LocationView {
	return LocationView{
		Location:    loc.Location,
		RadiusMiles: loc.RadiusMiles,
		ResultCount: loc.ResultCount,
		SyncID:      loc.SyncID,
		SyncedAt:    loc.SyncedAt,
	}
}

func toVenueViews(records []venue.Record) []VenueView {
	out := make([]VenueView, 0, len(records))
	for _, r := range records {
		out = append(out, VenueView{
			ID:        r.ID,
			Name:      r.Name,
			ImageURL:  r.ImageURL,
			DetailURL: r.DetailURL,
			Rating:    r.Rating,
			Price:     r.Price.Ptr(),
		})
	}
	return out
}
