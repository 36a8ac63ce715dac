// Package memory provides an in-process venue store for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"example.com/venues/internal/venue"
)

// Repository stores venue records in memory. The whole owner entry is swapped
// under one lock, so readers see either the previous or the new set.
type Repository struct {
	mu        sync.RWMutex
	records   map[string][]venue.Record
	locations map[string]venue.HomeLocation
	events    []venue.SynchronizedEvent
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		records:   make(map[string][]venue.Record),
		locations: make(map[string]venue.HomeLocation),
	}
}

// ReplaceOwnerVenues implements venue.Repository.
func (r *Repository) ReplaceOwnerVenues(ctx context.Context, snapshot venue.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records := make([]venue.Record, len(snapshot.Records))
	for i, record := range snapshot.Records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.OwnerID = snapshot.OwnerID
		records[i] = record
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[snapshot.OwnerID] = records
	r.locations[snapshot.OwnerID] = snapshot.Location
	r.events = append(r.events, snapshot.Event())
	return nil
}

// ListByOwner returns the owner's records for one category in stored order.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, category venue.Category) ([]venue.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]venue.Record, 0)
	for _, record := range r.records[ownerID] {
		if record.Category == category {
			out = append(out, record)
		}
	}
	return out, nil
}

// LoadOwner returns the home location and every record for the owner.
func (r *Repository) LoadOwner(ctx context.Context, ownerID string) (*venue.HomeLocation, []venue.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	location, ok := r.locations[ownerID]
	if !ok {
		return nil, nil, nil
	}
	out := make([]venue.Record, len(r.records[ownerID]))
	copy(out, r.records[ownerID])
	return &location, out, nil
}

// Events returns the synchronization events recorded so far, oldest first.
func (r *Repository) Events() []venue.SynchronizedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]venue.SynchronizedEvent, len(r.events))
	copy(out, r.events)
	return out
}
