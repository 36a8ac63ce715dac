package venue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSynchronizeStoresAllCategories(t *testing.T) {
	provider := newStubProvider()
	provider.set("restaurants", business("Cafe X", nil), business("Taqueria", strPtr("$")))
	provider.set("drinks", business("Night Owl", strPtr("$$")))
	provider.set("coffee", business("Bean There", strPtr("$")))
	provider.set("active life", business("Climbing Gym", strPtr("$$$")))

	repo := newStubRepo()
	now := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	syncer := newTestSynchronizer(provider, repo, WithClock(func() time.Time { return now }))

	result, err := syncer.Synchronize(context.Background(), SyncRequest{
		OwnerID:     "owner-1",
		Location:    "  Austin, TX ",
		RadiusMiles: 2,
		ResultCount: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.SyncID)
	require.Equal(t, "Austin, TX", result.Location.Location)
	require.Equal(t, now, result.Location.SyncedAt)
	require.Equal(t, map[Category]int{
		CategoryRestaurants: 2,
		CategoryBars:        1,
		CategoryCoffee:      1,
		CategoryActivities:  1,
	}, result.Counts)

	for _, call := range provider.calls() {
		require.Equal(t, "Austin, TX", call.Location)
		require.Equal(t, 3220, call.RadiusMeters)
		require.Equal(t, 5, call.Limit)
	}
	require.ElementsMatch(t, []string{"restaurants", "drinks", "coffee", "active life"}, provider.terms())

	restaurants := repo.list("owner-1", CategoryRestaurants)
	require.Len(t, restaurants, 2)
	require.Equal(t, "Cafe X", restaurants[0].Name)
	require.Equal(t, NoPrice, restaurants[0].Price)
	require.Equal(t, PriceOf("$"), restaurants[1].Price)
	require.Equal(t, result.SyncID, restaurants[0].SyncID)
	require.Equal(t, now, restaurants[0].CreatedAt)

	activities := repo.list("owner-1", CategoryActivities)
	require.Len(t, activities, 1)
	require.Equal(t, NoPrice, activities[0].Price)

	location := repo.location("owner-1")
	require.NotNil(t, location)
	require.Equal(t, 2, location.RadiusMiles)
	require.Equal(t, 5, location.ResultCount)
}

func TestSynchronizeTruncatesToResultCount(t *testing.T) {
	provider := newStubProvider()
	var many []RawBusiness
	for i := 0; i < 8; i++ {
		many = append(many, business(fmt.Sprintf("Spot %d", i), nil))
	}
	for _, c := range Categories {
		provider.set(c.SearchTerm(), many...)
	}
	repo := newStubRepo()

	_, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Denver", RadiusMiles: 1, ResultCount: 3,
	})
	require.NoError(t, err)

	for _, c := range Categories {
		records := repo.list("owner-1", c)
		require.Len(t, records, 3)
		require.Equal(t, "Spot 0", records[0].Name)
		require.Equal(t, "Spot 2", records[2].Name)
	}
}

func TestSynchronizeRejectsInvalidInput(t *testing.T) {
	cases := map[string]SyncRequest{
		"missing owner":     {Location: "Austin", RadiusMiles: 1, ResultCount: 1},
		"blank location":    {OwnerID: "o", Location: "   ", RadiusMiles: 1, ResultCount: 1},
		"zero radius":       {OwnerID: "o", Location: "Austin", RadiusMiles: 0, ResultCount: 1},
		"negative radius":   {OwnerID: "o", Location: "Austin", RadiusMiles: -3, ResultCount: 1},
		"radius over limit": {OwnerID: "o", Location: "Austin", RadiusMiles: 26, ResultCount: 1},
		"zero count":        {OwnerID: "o", Location: "Austin", RadiusMiles: 1, ResultCount: 0},
		"count over limit":  {OwnerID: "o", Location: "Austin", RadiusMiles: 1, ResultCount: 51},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			provider := newStubProvider()
			repo := newStubRepo()
			_, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			require.Empty(t, provider.calls())
			require.Zero(t, repo.replaceCalls())
		})
	}
}

func TestDefaultRadiusLimitStaysWithinProviderCeiling(t *testing.T) {
	require.LessOrEqual(t, MilesToMeters(DefaultLimits.MaxRadiusMiles), MaxProviderRadiusMeters)

	provider := newStubProvider()
	repo := newStubRepo()
	_, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: DefaultLimits.MaxRadiusMiles, ResultCount: 1,
	})
	require.NoError(t, err)
	for _, call := range provider.calls() {
		require.LessOrEqual(t, call.RadiusMeters, MaxProviderRadiusMeters)
	}
}

func TestSynchronizeRejectsRadiusOverProviderCeiling(t *testing.T) {
	provider := newStubProvider()
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo, WithLimits(Limits{MaxRadiusMiles: 100, MaxResults: 50}))

	_, err := syncer.Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: 25, ResultCount: 1,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Empty(t, provider.calls())
	require.Zero(t, repo.replaceCalls())
}

func TestSynchronizeMissingRequiredFieldKeepsPreviousSet(t *testing.T) {
	provider := newStubProvider()
	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("Old "+string(c), nil))
	}
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)

	_, err := syncer.Synchronize(context.Background(), SyncRequest{OwnerID: "owner-1", Location: "Boston", RadiusMiles: 1, ResultCount: 2})
	require.NoError(t, err)

	broken := business("Broken", nil)
	broken.URL = nil
	provider.set("coffee", business("Fresh Brew", nil), broken)
	provider.set("restaurants", business("New Diner", nil))

	_, err = syncer.Synchronize(context.Background(), SyncRequest{OwnerID: "owner-1", Location: "Chicago", RadiusMiles: 1, ResultCount: 2})
	require.ErrorIs(t, err, ErrProviderResponseInvalid)

	require.Equal(t, 1, repo.replaceCalls())
	require.Equal(t, "Boston", repo.location("owner-1").Location)
	for _, c := range Categories {
		records := repo.list("owner-1", c)
		require.Len(t, records, 1)
		require.Equal(t, "Old "+string(c), records[0].Name)
	}
}

func TestSynchronizeProviderFailureIsUnavailable(t *testing.T) {
	provider := newStubProvider()
	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("Spot", nil))
	}
	provider.fail("drinks", errors.New("dial tcp: connection refused"))
	repo := newStubRepo()

	_, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: 1, ResultCount: 2,
	})
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.Zero(t, repo.replaceCalls())
}

func TestSynchronizeProviderInvalidResponsePassesThrough(t *testing.T) {
	provider := newStubProvider()
	provider.fail("coffee", fmt.Errorf("%w: missing businesses", ErrProviderResponseInvalid))

	_, err := newTestSynchronizer(provider, newStubRepo()).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: 1, ResultCount: 2,
	})
	require.ErrorIs(t, err, ErrProviderResponseInvalid)
	require.NotErrorIs(t, err, ErrProviderUnavailable)
}

func TestSynchronizeStorageFailure(t *testing.T) {
	provider := newStubProvider()
	repo := newStubRepo()
	repo.replaceErr = errors.New("connection reset")

	_, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: 1, ResultCount: 2,
	})
	require.ErrorIs(t, err, ErrStorageFailure)
}

func TestSynchronizeEmptyActivitiesSucceeds(t *testing.T) {
	provider := newStubProvider()
	provider.set("restaurants", business("Diner", strPtr("$")))
	repo := newStubRepo()

	result, err := newTestSynchronizer(provider, repo).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Reno", RadiusMiles: 3, ResultCount: 10,
	})
	require.NoError(t, err)
	require.Zero(t, result.Counts[CategoryActivities])
	require.Empty(t, repo.list("owner-1", CategoryActivities))
	require.Len(t, repo.list("owner-1", CategoryRestaurants), 1)
}

func TestSynchronizeReplacesPreviousLocation(t *testing.T) {
	provider := newStubProvider()
	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("Seattle "+string(c), nil), business("Seattle 2 "+string(c), nil))
	}
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)
	req := SyncRequest{OwnerID: "owner-1", Location: "Seattle", RadiusMiles: 5, ResultCount: 5}

	_, err := syncer.Synchronize(context.Background(), req)
	require.NoError(t, err)

	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("Portland "+string(c), nil))
	}
	req.Location = "Portland"
	_, err = syncer.Synchronize(context.Background(), req)
	require.NoError(t, err)

	for _, c := range Categories {
		records := repo.list("owner-1", c)
		require.Len(t, records, 1)
		require.Equal(t, "Portland "+string(c), records[0].Name)
	}
}

func TestSynchronizeIsIdempotentForSameResponses(t *testing.T) {
	provider := newStubProvider()
	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("A "+string(c), strPtr("$")), business("B "+string(c), nil))
	}
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)
	req := SyncRequest{OwnerID: "owner-1", Location: "Miami", RadiusMiles: 4, ResultCount: 10}

	_, err := syncer.Synchronize(context.Background(), req)
	require.NoError(t, err)
	first := repo.contents("owner-1")

	_, err = syncer.Synchronize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, repo.contents("owner-1"))
}

func TestSynchronizeDoesNotTouchOtherOwners(t *testing.T) {
	provider := newStubProvider()
	for _, c := range Categories {
		provider.set(c.SearchTerm(), business("Shared", nil))
	}
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)

	_, err := syncer.Synchronize(context.Background(), SyncRequest{OwnerID: "alice", Location: "Austin", RadiusMiles: 1, ResultCount: 1})
	require.NoError(t, err)
	_, err = syncer.Synchronize(context.Background(), SyncRequest{OwnerID: "bob", Location: "Dallas", RadiusMiles: 1, ResultCount: 1})
	require.NoError(t, err)

	require.Equal(t, "Austin", repo.location("alice").Location)
	require.Len(t, repo.list("alice", CategoryCoffee), 1)
	require.Equal(t, "alice", repo.list("alice", CategoryCoffee)[0].OwnerID)
}

func TestSynchronizeSerializesRunsPerOwner(t *testing.T) {
	provider := newStubProvider()
	provider.delay = 5 * time.Millisecond
	provider.byLocation = true
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		location := "North"
		if i%2 == 1 {
			location = "South"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syncer.Synchronize(context.Background(), SyncRequest{
				OwnerID: "owner-1", Location: location, RadiusMiles: 1, ResultCount: 2,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.False(t, provider.overlapped(), "runs for one owner overlapped")
	require.Equal(t, 8, repo.replaceCalls())

	final := repo.location("owner-1").Location
	for _, c := range Categories {
		for _, r := range repo.list("owner-1", c) {
			require.Equal(t, final+" "+string(c), r.Name)
		}
	}
}

func TestSynchronizeWaitingRunHonoursCancellation(t *testing.T) {
	provider := newStubProvider()
	provider.gate = make(chan struct{})
	repo := newStubRepo()
	syncer := newTestSynchronizer(provider, repo)

	done := make(chan error, 1)
	go func() {
		_, err := syncer.Synchronize(context.Background(), SyncRequest{OwnerID: "owner-1", Location: "First", RadiusMiles: 1, ResultCount: 1})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(provider.calls()) > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := syncer.Synchronize(ctx, SyncRequest{OwnerID: "owner-1", Location: "Second", RadiusMiles: 1, ResultCount: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(provider.gate)
	require.NoError(t, <-done)
	require.Equal(t, "First", repo.location("owner-1").Location)
}

func TestSynchronizeInvalidatesCacheAfterCommit(t *testing.T) {
	inv := &stubInvalidator{err: errors.New("purge endpoint down")}
	repo := newStubRepo()

	_, err := newTestSynchronizer(newStubProvider(), repo, WithInvalidator(inv)).Synchronize(context.Background(), SyncRequest{
		OwnerID: "owner-1", Location: "Austin", RadiusMiles: 1, ResultCount: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"owner-1"}, inv.owners)
}

func newTestSynchronizer(provider Provider, repo Repository, opts ...Option) *Synchronizer {
	base := []Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	return NewSynchronizer(provider, repo, append(base, opts...)...)
}

func business(name string, price *string) RawBusiness {
	return RawBusiness{
		ID:       strPtr(uuid.NewString()),
		Name:     strPtr(name),
		ImageURL: strPtr("https://img.example/" + name + ".jpg"),
		URL:      strPtr("https://biz.example/" + name),
		Rating:   floatPtr(4.5),
		Price:    price,
	}
}

type stubProvider struct {
	mu         sync.Mutex
	results    map[string][]RawBusiness
	errs       map[string]error
	recorded   []SearchRequest
	gate       chan struct{}
	delay      time.Duration
	byLocation bool
	active     map[string]int
	overlap    bool
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		results: make(map[string][]RawBusiness),
		errs:    make(map[string]error),
		active:  make(map[string]int),
	}
}

func (p *stubProvider) set(term string, raws ...RawBusiness) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[term] = raws
}

func (p *stubProvider) fail(term string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[term] = err
}

func (p *stubProvider) Search(ctx context.Context, req SearchRequest) ([]RawBusiness, error) {
	p.mu.Lock()
	p.recorded = append(p.recorded, req)
	p.active[req.Location]++
	for location, n := range p.active {
		if location != req.Location && n > 0 {
			p.overlap = true
		}
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active[req.Location]--
		p.mu.Unlock()
	}()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[req.Term]; err != nil {
		return nil, err
	}
	if p.byLocation {
		category := categoryForTerm(req.Term)
		return []RawBusiness{business(req.Location+" "+string(category), nil)}, nil
	}
	return append([]RawBusiness(nil), p.results[req.Term]...), nil
}

func (p *stubProvider) calls() []SearchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SearchRequest(nil), p.recorded...)
}

func (p *stubProvider) terms() []string {
	var out []string
	for _, call := range p.calls() {
		out = append(out, call.Term)
	}
	return out
}

func (p *stubProvider) overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}

func categoryForTerm(term string) Category {
	for _, c := range Categories {
		if c.SearchTerm() == term {
			return c
		}
	}
	return ""
}

type stubRepo struct {
	mu         sync.Mutex
	records    map[string][]Record
	locations  map[string]HomeLocation
	replaces   int
	replaceErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		records:   make(map[string][]Record),
		locations: make(map[string]HomeLocation),
	}
}

func (r *stubRepo) ReplaceOwnerVenues(_ context.Context, snapshot Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.replaces++
	records := make([]Record, len(snapshot.Records))
	for i, rec := range snapshot.Records {
		rec.ID = uuid.NewString()
		records[i] = rec
	}
	r.records[snapshot.OwnerID] = records
	r.locations[snapshot.OwnerID] = snapshot.Location
	return nil
}

func (r *stubRepo) ListByOwner(_ context.Context, ownerID string, category Category) ([]Record, error) {
	return r.list(ownerID, category), nil
}

func (r *stubRepo) LoadOwner(_ context.Context, ownerID string) (*HomeLocation, []Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	location, ok := r.locations[ownerID]
	if !ok {
		return nil, nil, nil
	}
	return &location, append([]Record(nil), r.records[ownerID]...), nil
}

func (r *stubRepo) list(ownerID string, category Category) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records[ownerID] {
		if rec.Category == category {
			out = append(out, rec)
		}
	}
	return out
}

func (r *stubRepo) location(ownerID string) *HomeLocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	location, ok := r.locations[ownerID]
	if !ok {
		return nil
	}
	return &location
}

func (r *stubRepo) replaceCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaces
}

// contents strips per-run identity so two runs can be compared by value.
func (r *stubRepo) contents(ownerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records[ownerID] {
		out = append(out, fmt.Sprintf("%s|%s|%s|%s|%.1f|%v", rec.Category, rec.Name, rec.ImageURL, rec.DetailURL, rec.Rating, rec.Price.Ptr() != nil))
	}
	sort.Strings(out)
	return out
}

type stubInvalidator struct {
	owners []string
	err    error
}

func (s *stubInvalidator) Invalidate(_ context.Context, ownerID string) error {
	s.owners = append(s.owners, ownerID)
	return s.err
}
