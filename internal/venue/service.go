package venue

import (
	"context"
	"errors"
	"fmt"
)

// Repository captures persistence operations for venue records.
type Repository interface {
	// ReplaceOwnerVenues deletes every record the owner holds in all four
	// categories, inserts snapshot.Records and stores the home location, as
	// one atomic unit.
	ReplaceOwnerVenues(ctx context.Context, snapshot Snapshot) error
	ListByOwner(ctx context.Context, ownerID string, category Category) ([]Record, error)
	// LoadOwner returns the home location (nil if never synchronized) and all
	// records from a single consistent read.
	LoadOwner(ctx context.Context, ownerID string) (*HomeLocation, []Record, error)
}

// Overview groups an owner's venues by category alongside the home location.
type Overview struct {
	Location HomeLocation
	Venues   map[Category][]Record
}

// Service serves the read side of stored venues.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListVenues returns the owner's records for one category in provider order.
func (s *Service) ListVenues(ctx context.Context, ownerID string, category Category) ([]Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, category)
	}
	records, err := s.repo.ListByOwner(ctx, ownerID, category)
	if err != nil {
		return nil, storageErr("list venues", err)
	}
	return records, nil
}

// HomeLocation returns the owner's last synchronized location.
func (s *Service) HomeLocation(ctx context.Context, ownerID string) (*HomeLocation, error) {
	location, _, err := s.repo.LoadOwner(ctx, ownerID)
	if err != nil {
		return nil, storageErr("load owner", err)
	}
	if location == nil {
		return nil, ErrLocationNotSet
	}
	return location, nil
}

// Overview returns every category for the owner from one consistent read.
func (s *Service) Overview(ctx context.Context, ownerID string) (*Overview, error) {
	location, records, err := s.repo.LoadOwner(ctx, ownerID)
	if err != nil {
		return nil, storageErr("load owner", err)
	}
	if location == nil {
		return nil, ErrLocationNotSet
	}

	out := &Overview{
		Location: *location,
		Venues:   make(map[Category][]Record, len(Categories)),
	}
	for _, c := range Categories {
		out.Venues[c] = []Record{}
	}
	for _, r := range records {
		out.Venues[r.Category] = append(out.Venues[r.Category], r)
	}
	return out, nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}
