package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aurelia-jewels/storefront/internal/domain"
	"github.com/aurelia-jewels/storefront/internal/gateway"
)

type stubGateway struct {
	mu      sync.Mutex
	calls   []gateway.SearchQuery
	respond func(query gateway.SearchQuery) (gateway.SearchResult, error)
}

func (s *stubGateway) FetchProducts(ctx context.Context, query gateway.SearchQuery) (gateway.SearchResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return gateway.SearchResult{}, nil
	}
	return respond(query)
}

func (s *stubGateway) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubGateway) setRespond(fn func(query gateway.SearchQuery) (gateway.SearchResult, error)) {
	s.mu.Lock()
	s.respond = fn
	s.mu.Unlock()
}

type stubFallback struct {
	items []domain.Product
}

func (s *stubFallback) Products() []domain.Product {
	return s.items
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.pauses))
	copy(out, s.pauses)
	return out
}

func testProduct(id string, price int64, category string, created time.Time, occasions ...string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      "Product " + id,
		Slug:      "product-" + id,
		Price:     price,
		Currency:  "USD",
		Category:  category,
		Occasions: occasions,
		CreatedAt: created,
	}
}

func resultPage(total int, items ...domain.Product) gateway.SearchResult {
	return gateway.SearchResult{
		Items:      items,
		Pagination: domain.PageInfo{TotalProducts: total},
	}
}

func filtersWithCategories(categories ...string) domain.FilterState {
	filters := domain.DefaultFilterState()
	filters.Categories = map[string]struct{}{}
	for _, c := range categories {
		filters.Categories[c] = struct{}{}
	}
	return filters
}

func newTestController(t *testing.T, gw *stubGateway, fb FallbackSource, clock *fakeClock, sleeper *sleepRecorder, pageSize int) *Controller {
	t.Helper()
	deps := ControllerDeps{
		Gateway:  gw,
		Fallback: fb,
		PageSize: pageSize,
	}
	if clock != nil {
		deps.Clock = clock.Now
	}
	if sleeper != nil {
		deps.Sleep = sleeper.Sleep
	}
	ctrl, err := NewController(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing controller: %v", err)
	}
	return ctrl
}

func TestNewControllerRequiresGateway(t *testing.T) {
	if _, err := NewController(ControllerDeps{}); err == nil {
		t.Fatalf("expected error for missing gateway")
	}
}

func TestApplyFiltersFetchesFirstPage(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Category != "rings" {
			t.Fatalf("expected category rings, got %q", query.Category)
		}
		if query.Page != 1 {
			t.Fatalf("expected page 1, got %d", query.Page)
		}
		if query.Limit != 12 {
			t.Fatalf("expected limit 12, got %d", query.Limit)
		}
		return resultPage(2,
			testProduct("r1", 5000, "rings", created),
			testProduct("r2", 7000, "rings", created.Add(-time.Hour)),
		), nil
	})

	ctrl := newTestController(t, gw, nil, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Neutral {
		t.Fatalf("expected neutral to clear after apply")
	}
	if snap.CurrentPage != 1 {
		t.Fatalf("expected current page 1, got %d", snap.CurrentPage)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap.Items))
	}
	if snap.TotalCount != 2 {
		t.Fatalf("expected total 2, got %d", snap.TotalCount)
	}
	if snap.HasMore {
		t.Fatalf("expected no more pages")
	}
}

func TestApplyFiltersRejectsInvalid(t *testing.T) {
	gw := &stubGateway{}
	ctrl := newTestController(t, gw, nil, nil, nil, 12)

	bad := domain.DefaultFilterState()
	bad.MinPrice = 5000
	bad.MaxPrice = 1000

	err := ctrl.ApplyFilters(context.Background(), bad)
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if gw.callCount() != 0 {
		t.Fatalf("expected no fetch for invalid filters, got %d", gw.callCount())
	}
}

func TestLoadMoreAppendsAndDedupes(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := testProduct("a", 1000, "rings", created)
	b := testProduct("b", 2000, "rings", created)
	c := testProduct("c", 3000, "rings", created)

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Page == 1 {
			return resultPage(3, a, b), nil
		}
		// The second page overlaps the first on purpose.
		return resultPage(3, b, c), nil
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 2)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := ctrl.Snapshot()
	if !snap.HasMore {
		t.Fatalf("expected more pages after page one")
	}

	clock.Advance(time.Second)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap = ctrl.Snapshot()
	if len(snap.Items) != 3 {
		t.Fatalf("expected 3 deduped items, got %d", len(snap.Items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap.Items[i].ID != want {
			t.Fatalf("expected item %d to be %q, got %q", i, want, snap.Items[i].ID)
		}
	}
	if snap.CurrentPage != 2 {
		t.Fatalf("expected current page 2, got %d", snap.CurrentPage)
	}
	if snap.HasMore {
		t.Fatalf("expected pagination exhausted")
	}
}

func TestApplyFiltersResetsPagination(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		id := fmt.Sprintf("%s-%d", query.Category, query.Page)
		return resultPage(4, testProduct(id, 1000, query.Category, created)), nil
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 1)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Second)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.CurrentPage != 2 {
		t.Fatalf("expected page 2 before re-apply, got %d", snap.CurrentPage)
	}

	clock.Advance(time.Second)
	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("earrings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.CurrentPage != 1 {
		t.Fatalf("expected pagination reset to 1, got %d", snap.CurrentPage)
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != "earrings-1" {
		t.Fatalf("expected fresh result set, got %+v", snap.Items)
	}
}

func TestMaybeLoadMoreThrottled(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return resultPage(10, testProduct(fmt.Sprintf("p%d", query.Page), 1000, "rings", created)), nil
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 1)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("expected one call, got %d", gw.callCount())
	}

	// Inside the throttle window the trigger is silently skipped.
	clock.Advance(200 * time.Millisecond)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("expected throttled trigger to skip, got %d calls", gw.callCount())
	}

	clock.Advance(700 * time.Millisecond)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.callCount() != 2 {
		t.Fatalf("expected second call after window, got %d", gw.callCount())
	}
}

func TestLoadPageGuards(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return resultPage(10, testProduct(fmt.Sprintf("p%d", query.Page), 1000, "rings", created)), nil
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 1)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ctrl.LoadPage(context.Background(), 2); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled inside window, got %v", err)
	}

	// Page one is always allowed so a shopper can retry by hand.
	if err := ctrl.LoadPage(context.Background(), 1); err != nil {
		t.Fatalf("expected page one retry to pass the throttle, got %v", err)
	}

	if err := ctrl.LoadPage(context.Background(), 0); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected invalid page error, got %v", err)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Category == "rings" {
			once.Do(func() { close(started) })
			<-release
			return resultPage(1, testProduct("stale", 1000, "rings", created)), nil
		}
		return resultPage(1, testProduct("fresh", 2000, "earrings", created)), nil
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 12)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings"))
	}()
	<-started

	// A second apply supersedes the in-flight fetch; its own fetch is
	// blocked by the single-flight guard and must be retried.
	err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("earrings"))
	if !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("expected ErrFetchInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from superseded apply: %v", err)
	}

	snap := ctrl.Snapshot()
	for _, item := range snap.Items {
		if item.ID == "stale" {
			t.Fatalf("stale response leaked into the result set")
		}
	}

	if err := ctrl.LoadPage(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap = ctrl.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].ID != "fresh" {
		t.Fatalf("expected fresh result after retry, got %+v", snap.Items)
	}
}

func TestRateLimitedRetriesThenSucceeds(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	var mu sync.Mutex

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 3 {
			return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusTooManyRequests, "slow down", 0)
		}
		return resultPage(1, testProduct("ok", 1000, "rings", created)), nil
	})

	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, nil, nil, sleeper, 12)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gw.callCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d", gw.callCount())
	}
	pauses := sleeper.recorded()
	if len(pauses) != 3 {
		t.Fatalf("expected 3 backoff pauses, got %d", len(pauses))
	}
	for i, pause := range pauses {
		if pause <= 0 || pause > 8*time.Second {
			t.Fatalf("pause %d out of range: %v", i, pause)
		}
	}

	snap := ctrl.Snapshot()
	if snap.Failed {
		t.Fatalf("expected success after retries")
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != "ok" {
		t.Fatalf("expected retried result, got %+v", snap.Items)
	}
}

func TestRateLimitedHonorsRetryAfterCapped(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	var mu sync.Mutex

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusTooManyRequests, "slow down", 30*time.Second)
		}
		return resultPage(1, testProduct("ok", 1000, "rings", created)), nil
	})

	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, nil, nil, sleeper, 12)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pauses := sleeper.recorded()
	if len(pauses) != 1 {
		t.Fatalf("expected one pause, got %d", len(pauses))
	}
	if pauses[0] != 8*time.Second {
		t.Fatalf("expected server hint capped at 8s, got %v", pauses[0])
	}
}

func TestRateLimitedExhaustsRetries(t *testing.T) {
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusTooManyRequests, "slow down", 0)
	})

	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, &stubFallback{}, nil, sleeper, 12)

	err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings"))
	if !gateway.IsRateLimited(err) {
		t.Fatalf("expected surfaced rate limit error, got %v", err)
	}
	if gw.callCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d", gw.callCount())
	}

	snap := ctrl.Snapshot()
	if !snap.Failed {
		t.Fatalf("expected failed state")
	}
	if ctrl.LastError() == nil {
		t.Fatalf("expected last error recorded")
	}
}

func TestTransientRetriesFixedBackoff(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	var mu sync.Mutex

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusBadGateway, "upstream", 0)
		}
		return resultPage(1, testProduct("ok", 1000, "rings", created)), nil
	})

	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, nil, nil, sleeper, 12)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pauses := sleeper.recorded()
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(pauses))
	}
	for i, pause := range pauses {
		if pause != 250*time.Millisecond {
			t.Fatalf("pause %d: expected fixed 250ms, got %v", i, pause)
		}
	}
}

func TestNotFoundStopsPagination(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Page == 1 {
			return resultPage(10, testProduct("p1", 1000, "rings", created)), nil
		}
		return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusNotFound, "gone", 0)
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 1)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Second)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("expected 404 to be swallowed, got %v", err)
	}
	if gw.callCount() != 2 {
		t.Fatalf("expected no retry after 404, got %d calls", gw.callCount())
	}

	snap := ctrl.Snapshot()
	if snap.HasMore {
		t.Fatalf("expected pagination terminated by 404")
	}
	if len(snap.Items) != 1 {
		t.Fatalf("expected first page retained, got %d items", len(snap.Items))
	}
}

func TestCombinationUnionsAndPagesLocally(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e1 := testProduct("e1", 1000, "earrings", created.Add(3*time.Hour))
	e2 := testProduct("e2", 2000, "earrings", created.Add(2*time.Hour))
	r1 := testProduct("r1", 3000, "rings", created.Add(time.Hour))
	shared := testProduct("shared", 4000, "rings", created)

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Page != 1 {
			t.Fatalf("combination sub-fetch must request page 1, got %d", query.Page)
		}
		if query.Limit != 100 {
			t.Fatalf("combination sub-fetch must request 100, got %d", query.Limit)
		}
		switch query.Category {
		case "earrings":
			return resultPage(3, e1, e2, shared), nil
		case "rings":
			return resultPage(2, r1, shared), nil
		default:
			t.Fatalf("unexpected category %q", query.Category)
			return gateway.SearchResult{}, nil
		}
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, gw, nil, clock, nil, 2)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("earrings", "rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.callCount() != 2 {
		t.Fatalf("expected one sub-fetch per combination, got %d", gw.callCount())
	}

	snap := ctrl.Snapshot()
	if snap.TotalCount != 4 {
		t.Fatalf("expected union of 4 after dedupe, got %d", snap.TotalCount)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("expected first local page of 2, got %d", len(snap.Items))
	}
	// Newest first across the whole union, not per sub-fetch.
	if snap.Items[0].ID != "e1" || snap.Items[1].ID != "e2" {
		t.Fatalf("expected newest-first ordering, got %q %q", snap.Items[0].ID, snap.Items[1].ID)
	}
	if !snap.HasMore {
		t.Fatalf("expected a second local page")
	}

	clock.Advance(time.Second)
	if err := ctrl.MaybeLoadMore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.callCount() != 2 {
		t.Fatalf("local paging must not refetch, got %d calls", gw.callCount())
	}

	snap = ctrl.Snapshot()
	if len(snap.Items) != 4 {
		t.Fatalf("expected full union, got %d", len(snap.Items))
	}
	if snap.Items[2].ID != "r1" || snap.Items[3].ID != "shared" {
		t.Fatalf("unexpected tail ordering: %q %q", snap.Items[2].ID, snap.Items[3].ID)
	}
	if snap.HasMore {
		t.Fatalf("expected union exhausted")
	}
}

func TestCombinationMarksTruncation(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hasNext := true

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Category == "earrings" {
			return gateway.SearchResult{
				Items:      []domain.Product{testProduct("e1", 1000, "earrings", created)},
				Pagination: domain.PageInfo{TotalProducts: 250, HasNextPage: &hasNext},
			}, nil
		}
		return resultPage(1, testProduct("r1", 2000, "rings", created)), nil
	})

	ctrl := newTestController(t, gw, nil, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("earrings", "rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap := ctrl.Snapshot(); !snap.Truncated {
		t.Fatalf("expected truncation flag when a sub-fetch had more pages")
	}
}

func TestSortStability(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := testProduct("a", 1000, "earrings", created)
	b := testProduct("b", 1000, "rings", created)

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Category == "earrings" {
			return resultPage(1, a), nil
		}
		return resultPage(1, b), nil
	})

	filters := filtersWithCategories("earrings", "rings")
	filters.SortBy = domain.SortPriceAsc

	ctrl := newTestController(t, gw, nil, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filters); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if len(snap.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap.Items))
	}
	// Equal prices keep union order: earrings sub-fetch first.
	if snap.Items[0].ID != "a" || snap.Items[1].ID != "b" {
		t.Fatalf("expected stable tie order a,b got %q %q", snap.Items[0].ID, snap.Items[1].ID)
	}
}

func TestZeroResultsServeFallback(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fb := &stubFallback{items: []domain.Product{
		testProduct("f-ring-cheap", 900, "rings", created),
		testProduct("f-ring-dear", 50000, "rings", created.Add(time.Hour)),
		testProduct("f-neck", 800, "necklaces", created),
	}}

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return resultPage(0), nil
	})

	filters := filtersWithCategories("rings")
	filters.MaxPrice = 1000

	ctrl := newTestController(t, gw, fb, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filters); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if !snap.UsedFallback {
		t.Fatalf("expected fallback dataset")
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != "f-ring-cheap" {
		t.Fatalf("expected fallback filtered to cheap rings, got %+v", snap.Items)
	}
}

func TestZeroSearchResultsStayEmpty(t *testing.T) {
	fb := &stubFallback{items: []domain.Product{
		testProduct("f1", 900, "rings", time.Now()),
	}}

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return resultPage(0), nil
	})

	filters := domain.DefaultFilterState()
	filters.SearchTerm = "no such stone"

	ctrl := newTestController(t, gw, fb, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filters); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.UsedFallback {
		t.Fatalf("search misses must not trigger the fallback dataset")
	}
	if len(snap.Items) != 0 {
		t.Fatalf("expected empty result set, got %d", len(snap.Items))
	}
}

func TestFirstPageFailureServesFallback(t *testing.T) {
	fb := &stubFallback{items: []domain.Product{
		testProduct("f1", 900, "rings", time.Now()),
	}}

	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusInternalServerError, "boom", 0)
	})

	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, fb, nil, sleeper, 12)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}

	snap := ctrl.Snapshot()
	if !snap.UsedFallback {
		t.Fatalf("expected fallback after first page failure")
	}
	if snap.Failed {
		t.Fatalf("fallback view must not read as failed")
	}
}

func TestAppendFailureKeepsLoadedItems(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		if query.Page == 1 {
			return resultPage(10, testProduct("p1", 1000, "rings", created)), nil
		}
		return gateway.SearchResult{}, gateway.NewStatusError("search", http.StatusInternalServerError, "boom", 0)
	})

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sleeper := &sleepRecorder{}
	ctrl := newTestController(t, gw, nil, clock, sleeper, 1)

	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Second)
	if err := ctrl.MaybeLoadMore(context.Background()); err == nil {
		t.Fatalf("expected append failure to surface")
	}

	snap := ctrl.Snapshot()
	if len(snap.Items) != 1 {
		t.Fatalf("expected loaded items retained, got %d", len(snap.Items))
	}
	if !snap.Failed {
		t.Fatalf("expected failed flag")
	}
	if !snap.HasMore {
		t.Fatalf("expected hasMore retained so a retry stays possible")
	}
}

func TestClearFiltersReturnsToNeutral(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{}
	gw.setRespond(func(query gateway.SearchQuery) (gateway.SearchResult, error) {
		return resultPage(1, testProduct("p1", 1000, "rings", created)), nil
	})

	ctrl := newTestController(t, gw, nil, nil, nil, 12)
	if err := ctrl.ApplyFilters(context.Background(), filtersWithCategories("rings")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := gw.callCount()
	ctrl.ClearFilters()
	if gw.callCount() != before {
		t.Fatalf("clear must not fetch")
	}

	snap := ctrl.Snapshot()
	if !snap.Neutral {
		t.Fatalf("expected neutral view")
	}
	if len(snap.Items) != 0 {
		t.Fatalf("expected result set emptied, got %d", len(snap.Items))
	}
	if !snap.Filters.IsUnfiltered() {
		t.Fatalf("expected default filters, got %+v", snap.Filters)
	}
	if got := ctrl.Pending(); !got.IsUnfiltered() {
		t.Fatalf("expected pending reset too, got %+v", got)
	}
}

func TestSetPendingDoesNotFetch(t *testing.T) {
	gw := &stubGateway{}
	ctrl := newTestController(t, gw, nil, nil, nil, 12)

	ctrl.SetPending(filtersWithCategories("rings"))
	if gw.callCount() != 0 {
		t.Fatalf("pending edits must not fetch")
	}

	pending := ctrl.Pending()
	if got := pending.SelectedCategories(); len(got) != 1 || got[0] != "rings" {
		t.Fatalf("expected pending categories [rings], got %v", got)
	}
	if snap := ctrl.Snapshot(); !snap.Neutral {
		t.Fatalf("applied tier must stay neutral until apply")
	}
}
