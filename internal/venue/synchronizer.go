package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"example.com/venues/internal/cache"
	"example.com/venues/internal/observability"
)

// Provider searches the external business directory.
type Provider interface {
	Search(ctx context.Context, req SearchRequest) ([]RawBusiness, error)
}

// SearchRequest is one provider query for a single category term.
type SearchRequest struct {
	Term         string
	Location     string
	RadiusMeters int
	Limit        int
}

// SyncRequest captures the caller's input for a synchronization run.
type SyncRequest struct {
	OwnerID     string
	Location    string
	RadiusMiles int
	ResultCount int
}

// SyncResult summarises a committed run.
type SyncResult struct {
	SyncID   string
	Location HomeLocation
	Counts   map[Category]int
}

// Limits bounds caller input. Zero fields disable the corresponding check.
type Limits struct {
	MaxRadiusMiles int
	MaxResults     int
}

// MaxProviderRadiusMeters is the largest radius the search API accepts.
const MaxProviderRadiusMeters = 40000

// DefaultLimits mirrors the search API's own ceilings: 24 miles is the largest
// whole-mile radius under 40 km, and 50 results per query.
var DefaultLimits = Limits{MaxRadiusMiles: 24, MaxResults: 50}

// Option configures optional behaviour for the Synchronizer.
type Option func(*Synchronizer)

// WithLogger overrides the logger used to report runs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithInvalidator sets the cache invalidator notified after each commit.
func WithInvalidator(invalidator cache.Invalidator) Option {
	return func(s *Synchronizer) {
		if invalidator != nil {
			s.cache = invalidator
		}
	}
}

// WithLimits overrides DefaultLimits.
func WithLimits(limits Limits) Option {
	return func(s *Synchronizer) {
		s.limits = limits
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// Synchronizer replaces an owner's venues with fresh provider results.
//
// Runs use fetch-then-swap ordering: nothing is deleted until all four
// categories have been fetched and normalized, so a failed run leaves the
// previous set untouched. Runs for the same owner are serialized.
type Synchronizer struct {
	provider Provider
	repo     Repository
	cache    cache.Invalidator
	logger   *slog.Logger
	limits   Limits
	now      func() time.Time
	locks    *ownerLocks
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(provider Provider, repo Repository, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		provider: provider,
		repo:     repo,
		cache:    cache.NoopInvalidator{},
		logger:   slog.Default(),
		limits:   DefaultLimits,
		now:      time.Now,
		locks:    newOwnerLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synchronize fetches all four categories for req.Location and commits them
// as the owner's complete venue set.
func (s *Synchronizer) Synchronize(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	start := time.Now()
	req.Location = strings.TrimSpace(req.Location)

	if err := s.validate(req); err != nil {
		observability.RecordSyncRun(outcome(err), time.Since(start))
		return nil, err
	}

	result, err := s.run(ctx, req)
	observability.RecordSyncRun(outcome(err), time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "venue synchronization failed",
			slog.String("owner_id", req.OwnerID),
			slog.String("location", req.Location),
			slog.String("outcome", outcome(err)),
			slog.Any("error", err),
		)
		return nil, err
	}
	return result, nil
}

func (s *Synchronizer) run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	unlock, err := s.locks.acquire(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("waiting for running synchronization: %w", err)
	}
	defer unlock()

	records, err := s.fetchAll(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	syncID := uuid.NewString()
	for i := range records {
		records[i].SyncID = syncID
		records[i].CreatedAt = now
	}

	snapshot := Snapshot{
		SyncID:  syncID,
		OwnerID: req.OwnerID,
		Location: HomeLocation{
			OwnerID:     req.OwnerID,
			Location:    req.Location,
			RadiusMiles: req.RadiusMiles,
			ResultCount: req.ResultCount,
			SyncID:      syncID,
			SyncedAt:    now,
		},
		Records: records,
	}

	if err := s.repo.ReplaceOwnerVenues(ctx, snapshot); err != nil {
		return nil, storageErr("replace owner venues", err)
	}

	counts := snapshot.Counts()
	observability.RecordSyncCommitted(snapshot.Event().Counts, now)
	s.logger.InfoContext(ctx, "venues synchronized",
		slog.String("owner_id", req.OwnerID),
		slog.String("sync_id", syncID),
		slog.String("location", req.Location),
		slog.Int("restaurants", counts[CategoryRestaurants]),
		slog.Int("bars", counts[CategoryBars]),
		slog.Int("coffee", counts[CategoryCoffee]),
		slog.Int("activities", counts[CategoryActivities]),
	)

	// Invalidation failures do not roll back a committed swap.
	if err := s.cache.Invalidate(ctx, req.OwnerID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed",
			slog.String("owner_id", req.OwnerID),
			slog.Any("error", err),
		)
	}

	return &SyncResult{
		SyncID:   syncID,
		Location: snapshot.Location,
		Counts:   counts,
	}, nil
}

func (s *Synchronizer) validate(req SyncRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if req.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidRequest)
	}
	if req.RadiusMiles <= 0 {
		return fmt.Errorf("%w: radius_miles must be > 0", ErrInvalidRequest)
	}
	if s.limits.MaxRadiusMiles > 0 && req.RadiusMiles > s.limits.MaxRadiusMiles {
		return fmt.Errorf("%w: radius_miles must be <= %d", ErrInvalidRequest, s.limits.MaxRadiusMiles)
	}
	if MilesToMeters(req.RadiusMiles) > MaxProviderRadiusMeters {
		return fmt.Errorf("%w: radius_miles %d exceeds the provider's %d m search radius", ErrInvalidRequest, req.RadiusMiles, MaxProviderRadiusMeters)
	}
	if req.ResultCount <= 0 {
		return fmt.Errorf("%w: result_count must be > 0", ErrInvalidRequest)
	}
	if s.limits.MaxResults > 0 && req.ResultCount > s.limits.MaxResults {
		return fmt.Errorf("%w: result_count must be <= %d", ErrInvalidRequest, s.limits.MaxResults)
	}
	return nil
}

// fetchAll queries every category concurrently. Results land in fixed slots
// so the returned records follow category order regardless of completion order.
func (s *Synchronizer) fetchAll(ctx context.Context, req SyncRequest) ([]Record, error) {
	slots := make([][]Record, len(Categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range Categories {
		g.Go(func() error {
			records, err := s.fetchCategory(gctx, req, category)
			if err != nil {
				return err
			}
			slots[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, slot := range slots {
		total += len(slot)
	}
	records := make([]Record, 0, total)
	for _, slot := range slots {
		records = append(records, slot...)
	}
	return records, nil
}

func (s *Synchronizer) fetchCategory(ctx context.Context, req SyncRequest, category Category) ([]Record, error) {
	raws, err := s.provider.Search(ctx, SearchRequest{
		Term:         category.SearchTerm(),
		Location:     req.Location,
		RadiusMeters: MilesToMeters(req.RadiusMiles),
		Limit:        req.ResultCount,
	})
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrProviderResponseInvalid) {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}

	if len(raws) > req.ResultCount {
		raws = raws[:req.ResultCount]
	}

	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		record, err := Normalize(raw, req.OwnerID, category)
		if err != nil {
			return nil, fmt.Errorf("normalize %s[%d]: %w", category, i, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrProviderResponseInvalid):
		return "provider_response_invalid"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "error"
	}
}
