package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aurelia-jewels/storefront/internal/domain"
	"github.com/aurelia-jewels/storefront/internal/gateway"
)

const (
	defaultPageSize      = 12
	defaultComboPageSize = 100
	defaultThrottle      = 800 * time.Millisecond

	maxRetries       = 3
	transientBackoff = 250 * time.Millisecond
	rateLimitInitial = 500 * time.Millisecond
	rateLimitCap     = 8 * time.Second
)

var (
	errGatewayRequired = errors.New("catalog: search gateway is required")

	// ErrInvalidFilter indicates a filter that fails validation before any fetch.
	ErrInvalidFilter = errors.New("catalog: invalid filter")
	// ErrFetchInFlight indicates another fetch is already running for this controller.
	ErrFetchInFlight = errors.New("catalog: fetch already in flight")
	// ErrThrottled indicates the client-side throttle window has not elapsed.
	ErrThrottled = errors.New("catalog: throttled")
	// ErrNoMorePages indicates the current result set is exhausted.
	ErrNoMorePages = errors.New("catalog: no more pages")
)

// SearchGateway is the paged product search dependency.
type SearchGateway interface {
	FetchProducts(ctx context.Context, query gateway.SearchQuery) (gateway.SearchResult, error)
}

// FallbackSource supplies the locally bundled product dataset used when the
// search backend yields nothing.
type FallbackSource interface {
	Products() []domain.Product
}

// ControllerDeps wires the gateway, fallback dataset, and test seams.
type ControllerDeps struct {
	Gateway       SearchGateway
	Fallback      FallbackSource
	Logger        *zap.Logger
	Clock         func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	PageSize      int
	ComboPageSize int
	Throttle      time.Duration
}

// Controller owns catalog filter state, pagination, and result merging for one
// browsing session. All methods are safe for concurrent use; fetches are
// single-flight per controller.
type Controller struct {
	gw            SearchGateway
	fallback      FallbackSource
	logger        *zap.Logger
	clock         func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	pageSize      int
	comboPageSize int
	throttle      time.Duration

	mu          sync.Mutex
	pending     domain.FilterState
	applied     domain.FilterState
	generation  uint64
	inFlight    bool
	lastAttempt time.Time

	items       []domain.Product
	seen        map[string]struct{}
	currentPage int
	totalCount  int
	hasMore     bool
	neutral     bool
	failed      bool
	lastErr     error

	// clientPaged holds when results are unioned and paginated locally:
	// combination fetches and the fallback dataset.
	clientPaged  bool
	union        []domain.Product
	truncated    bool
	usedFallback bool
}

// Snapshot is the presentation-facing view of the controller state.
type Snapshot struct {
	Filters      domain.FilterState
	Items        []domain.Product
	CurrentPage  int
	TotalCount   int
	HasMore      bool
	Loading      bool
	Failed       bool
	Neutral      bool
	Truncated    bool
	UsedFallback bool
}

// NewController constructs a catalog controller in the neutral browse state.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Gateway == nil {
		return nil, errGatewayRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	comboPageSize := deps.ComboPageSize
	if comboPageSize <= 0 {
		comboPageSize = defaultComboPageSize
	}
	throttle := deps.Throttle
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	return &Controller{
		gw:            deps.Gateway,
		fallback:      deps.Fallback,
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
		sleep:         sleep,
		pageSize:      pageSize,
		comboPageSize: comboPageSize,
		throttle:      throttle,
		pending:       domain.DefaultFilterState(),
		applied:       domain.DefaultFilterState(),
		seen:          map[string]struct{}{},
		neutral:       true,
	}, nil
}

// Pending returns a copy of the in-progress (not yet applied) filter edits.
func (c *Controller) Pending() domain.FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Clone()
}

// SetPending replaces the pending tier without triggering any fetch.
func (c *Controller) SetPending(filters domain.FilterState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = normalizeFilters(filters)
}

// ApplyFilters promotes the supplied filters to the applied tier, resets
// pagination, and fetches page one. Applying identical filters still
// re-fetches; that mirrors explicit user intent.
func (c *Controller) ApplyFilters(ctx context.Context, filters domain.FilterState) error {
	if err := validateFilters(filters); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending = normalizeFilters(filters)
	c.applied = c.pending.Clone()
	gen := c.resetPageStateLocked()
	c.neutral = false
	c.mu.Unlock()

	return c.loadPage(ctx, gen, 1)
}

// ClearFilters resets both tiers to the unfiltered defaults and returns the
// controller to the neutral browse-by-occasion view. No fetch is issued.
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = domain.DefaultFilterState()
	c.applied = domain.DefaultFilterState()
	c.resetPageStateLocked()
	c.neutral = true
}

// MaybeLoadMore is the single entry point for every load-more trigger
// (scroll sentinel, timer, manual button). Guard violations are swallowed;
// real fetch failures are reported.
func (c *Controller) MaybeLoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.neutral || c.inFlight || !c.hasMore {
		c.mu.Unlock()
		return nil
	}
	if !c.lastAttempt.IsZero() && c.clock().Sub(c.lastAttempt) < c.throttle {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	next := c.currentPage + 1
	c.mu.Unlock()

	return c.loadPage(ctx, gen, next)
}

// LoadPage fetches the given page, enforcing the single-flight and throttle
// guards. Page one may always be requested for a manual retry.
func (c *Controller) LoadPage(ctx context.Context, pageNumber int) error {
	if pageNumber < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidFilter, pageNumber)
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrFetchInFlight
	}
	if pageNumber > 1 {
		if !c.hasMore {
			c.mu.Unlock()
			return ErrNoMorePages
		}
		if !c.lastAttempt.IsZero() && c.clock().Sub(c.lastAttempt) < c.throttle {
			c.mu.Unlock()
			return ErrThrottled
		}
	}
	gen := c.generation
	c.mu.Unlock()

	return c.loadPage(ctx, gen, pageNumber)
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]domain.Product, len(c.items))
	copy(items, c.items)
	return Snapshot{
		Filters:      c.applied.Clone(),
		Items:        items,
		CurrentPage:  c.currentPage,
		TotalCount:   c.totalCount,
		HasMore:      c.hasMore,
		Loading:      c.inFlight,
		Failed:       c.failed,
		Neutral:      c.neutral,
		Truncated:    c.truncated,
		UsedFallback: c.usedFallback,
	}
}

// LastError returns the error recorded by the most recent failed fetch.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// resetPageStateLocked empties the result set, bumps the fetch generation so
// stale in-flight results are discarded, and re-arms pagination.
func (c *Controller) resetPageStateLocked() uint64 {
	c.generation++
	c.items = nil
	c.seen = map[string]struct{}{}
	c.currentPage = 0
	c.totalCount = 0
	c.hasMore = true
	c.failed = false
	c.lastErr = nil
	c.clientPaged = false
	c.union = nil
	c.truncated = false
	c.usedFallback = false
	return c.generation
}

func (c *Controller) loadPage(ctx context.Context, gen uint64, pageNumber int) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrFetchInFlight
	}
	c.inFlight = true
	c.lastAttempt = c.clock()
	applied := c.applied.Clone()
	clientPaged := c.clientPaged
	c.mu.Unlock()

	var err error
	switch {
	case clientPaged:
		err = c.advanceClientPage(gen, pageNumber)
	case isCombination(applied):
		err = c.loadCombination(ctx, gen, applied)
	default:
		err = c.loadServerPage(ctx, gen, applied, pageNumber)
	}

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
	return err
}

// loadServerPage is the single-category/single-occasion path: the server
// sorts and paginates.
func (c *Controller) loadServerPage(ctx context.Context, gen uint64, applied domain.FilterState, pageNumber int) error {
	query := buildQuery(applied, pageNumber, c.pageSize)
	result, err := c.fetchWithRetry(ctx, query)
	if err != nil {
		return c.recordFetchError(ctx, gen, applied, pageNumber, err)
	}

	if pageNumber == 1 && result.Pagination.TotalProducts == 0 && strings.TrimSpace(applied.SearchTerm) == "" {
		return c.applyFallback(gen, applied)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}

	appended := 0
	for _, item := range result.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		if _, dup := c.seen[id]; dup {
			continue
		}
		c.seen[id] = struct{}{}
		c.items = append(c.items, item)
		appended++
	}

	c.currentPage = pageNumber
	if result.Pagination.TotalProducts > 0 {
		c.totalCount = result.Pagination.TotalProducts
	}
	c.failed = false
	c.lastErr = nil

	if pageNumber > 1 && len(result.Items) == 0 {
		// An empty append page means the data ran out, not that something broke.
		c.hasMore = false
		return nil
	}
	c.hasMore = deriveHasMore(result.Pagination, len(c.items), len(result.Items), c.pageSize)
	return nil
}

// loadCombination unions one sub-fetch per (category, occasion) pair, then
// sorts and paginates locally. The backend accepts only one slug per
// dimension per call.
func (c *Controller) loadCombination(ctx context.Context, gen uint64, applied domain.FilterState) error {
	combos := combinations(applied)
	results := make([]gateway.SearchResult, len(combos))

	g, gctx := errgroup.WithContext(ctx)
	for i, combo := range combos {
		i, combo := i, combo
		g.Go(func() error {
			query := buildQuery(applied, 1, c.comboPageSize)
			query.Category = combo[0]
			query.Occasion = combo[1]
			result, err := c.fetchWithRetry(gctx, query)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.recordFetchError(ctx, gen, applied, 1, err)
	}

	var (
		union     []domain.Product
		seen      = map[string]struct{}{}
		truncated bool
	)
	for _, result := range results {
		for _, item := range result.Items {
			id := strings.TrimSpace(item.ID)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, item)
		}
		if moreAvailable(result.Pagination, len(result.Items), c.comboPageSize) {
			truncated = true
		}
	}

	if len(union) == 0 && strings.TrimSpace(applied.SearchTerm) == "" {
		return c.applyFallback(gen, applied)
	}

	sortProducts(union, applied.SortBy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	c.clientPaged = true
	c.union = union
	c.truncated = truncated
	c.totalCount = len(union)
	c.seen = seen
	c.items = pageSlice(union, 1, c.pageSize)
	c.currentPage = 1
	c.hasMore = len(c.items) < len(union)
	c.failed = false
	c.lastErr = nil
	return nil
}

// advanceClientPage serves the next window of an already-built union; no
// network involved.
func (c *Controller) advanceClientPage(gen uint64, pageNumber int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	window := pageSlice(c.union, pageNumber, c.pageSize)
	if len(window) == 0 {
		c.hasMore = false
		return nil
	}
	for _, item := range window {
		if _, dup := c.seen[item.ID]; dup {
			continue
		}
		c.seen[item.ID] = struct{}{}
		c.items = append(c.items, item)
	}
	c.currentPage = pageNumber
	c.hasMore = len(c.items) < len(c.union)
	return nil
}

// applyFallback swaps in the bundled dataset, filtered and paginated locally,
// so the catalog is never empty purely because the backend had a bad moment.
func (c *Controller) applyFallback(gen uint64, applied domain.FilterState) error {
	if c.fallback == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return nil
		}
		c.hasMore = false
		c.currentPage = 1
		return nil
	}

	filtered := filterProducts(c.fallback.Products(), applied)
	sortProducts(filtered, applied.SortBy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	c.clientPaged = true
	c.usedFallback = true
	c.union = filtered
	c.totalCount = len(filtered)
	c.seen = map[string]struct{}{}
	c.items = pageSlice(filtered, 1, c.pageSize)
	for _, item := range c.items {
		c.seen[item.ID] = struct{}{}
	}
	c.currentPage = 1
	c.hasMore = len(c.items) < len(filtered)
	c.failed = false
	c.lastErr = nil
	return nil
}

func (c *Controller) recordFetchError(ctx context.Context, gen uint64, applied domain.FilterState, pageNumber int, err error) error {
	if gateway.IsNotFound(err) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.generation {
			c.hasMore = false
		}
		return nil
	}

	if pageNumber == 1 && strings.TrimSpace(applied.SearchTerm) == "" && c.fallback != nil {
		if len(c.fallback.Products()) > 0 {
			c.logger.Warn("catalog fetch failed, serving fallback dataset", zap.Error(err))
			return c.applyFallback(gen, applied)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	// hasMore is left as-is so a manual "load more" retry stays possible.
	c.failed = true
	c.lastErr = err
	c.logger.Warn("catalog fetch failed",
		zap.Int("page", pageNumber),
		zap.Error(err),
	)
	return err
}

// fetchWithRetry applies the retry policy: transient errors get up to three
// retries with a fixed short pause, rate limits get exponential backoff
// capped at eight seconds, and not-found is terminal.
func (c *Controller) fetchWithRetry(ctx context.Context, query gateway.SearchQuery) (gateway.SearchResult, error) {
	backoff := gax.Backoff{
		Initial:    rateLimitInitial,
		Max:        rateLimitCap,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := c.gw.FetchProducts(ctx, query)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case gateway.IsRateLimited(err):
			if attempt == maxRetries {
				return gateway.SearchResult{}, lastErr
			}
			pause := backoff.Pause()
			if suggested := gateway.RetryAfter(err); suggested > pause {
				pause = suggested
				if pause > rateLimitCap {
					pause = rateLimitCap
				}
			}
			if sleepErr := c.sleep(ctx, pause); sleepErr != nil {
				return gateway.SearchResult{}, sleepErr
			}
		case gateway.IsTransient(err):
			if attempt == maxRetries {
				return gateway.SearchResult{}, lastErr
			}
			if sleepErr := c.sleep(ctx, transientBackoff); sleepErr != nil {
				return gateway.SearchResult{}, sleepErr
			}
		default:
			// Not-found, validation, cancellation: no retry.
			return gateway.SearchResult{}, err
		}
	}
	return gateway.SearchResult{}, lastErr
}

func buildQuery(applied domain.FilterState, page, limit int) gateway.SearchQuery {
	query := gateway.SearchQuery{
		SortBy:    sortField(applied.SortBy),
		SortOrder: sortOrder(applied.SortBy),
		Search:    strings.TrimSpace(applied.SearchTerm),
		Page:      page,
		Limit:     limit,
	}
	if cats := applied.SelectedCategories(); len(cats) == 1 {
		query.Category = cats[0]
	}
	if occs := applied.SelectedOccasions(); len(occs) == 1 {
		query.Occasion = occs[0]
	}
	if applied.MinPrice > 0 {
		minPrice := applied.MinPrice
		query.MinPrice = &minPrice
	}
	if applied.MaxPrice > 0 && applied.MaxPrice < domain.MaxPriceCents {
		maxPrice := applied.MaxPrice
		query.MaxPrice = &maxPrice
	}
	return query
}

func sortField(opt domain.SortOption) string {
	switch opt {
	case domain.SortPriceAsc, domain.SortPriceDesc:
		return "price"
	default:
		return "createdAt"
	}
}

func sortOrder(opt domain.SortOption) string {
	if opt == domain.SortPriceAsc {
		return "asc"
	}
	return "desc"
}

func isCombination(applied domain.FilterState) bool {
	return len(applied.SelectedCategories()) > 1 || len(applied.SelectedOccasions()) > 1
}

// combinations returns the Cartesian product of selected categories and
// occasions; an empty dimension contributes a single empty slug.
func combinations(applied domain.FilterState) [][2]string {
	cats := applied.SelectedCategories()
	if len(cats) == 0 {
		cats = []string{""}
	}
	occs := applied.SelectedOccasions()
	if len(occs) == 0 {
		occs = []string{""}
	}
	combos := make([][2]string, 0, len(cats)*len(occs))
	for _, cat := range cats {
		for _, occ := range occs {
			combos = append(combos, [2]string{cat, occ})
		}
	}
	return combos
}

func deriveHasMore(info domain.PageInfo, loaded, returned, requested int) bool {
	switch {
	case info.HasNextPage != nil:
		return *info.HasNextPage
	case info.TotalPages > 0:
		return info.CurrentPage < info.TotalPages
	case info.TotalProducts > 0:
		return loaded < info.TotalProducts
	default:
		return returned >= requested
	}
}

func moreAvailable(info domain.PageInfo, returned, requested int) bool {
	switch {
	case info.HasNextPage != nil:
		return *info.HasNextPage
	case info.TotalPages > 0:
		return info.CurrentPage < info.TotalPages
	case info.TotalProducts > 0:
		return returned < info.TotalProducts
	default:
		return returned >= requested
	}
}

func pageSlice(items []domain.Product, page, size int) []domain.Product {
	if page < 1 || size <= 0 {
		return nil
	}
	start := (page - 1) * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	window := make([]domain.Product, end-start)
	copy(window, items[start:end])
	return window
}

// sortProducts sorts stably so re-applying identical filters yields an
// identical ordering; ties keep their original order.
func sortProducts(items []domain.Product, opt domain.SortOption) {
	switch opt {
	case domain.SortPriceAsc:
		sort.SliceStable(items, func(i, j int) bool { return items[i].Price < items[j].Price })
	case domain.SortPriceDesc:
		sort.SliceStable(items, func(i, j int) bool { return items[i].Price > items[j].Price })
	default:
		sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	}
}

func filterProducts(items []domain.Product, applied domain.FilterState) []domain.Product {
	cats := applied.SelectedCategories()
	occs := applied.SelectedOccasions()
	catSet := sliceToSet(cats)
	occSet := sliceToSet(occs)

	var out []domain.Product
	for _, item := range items {
		if len(catSet) > 0 {
			if _, ok := catSet[item.Category]; !ok {
				continue
			}
		}
		if len(occSet) > 0 && !intersects(occSet, item.Occasions) {
			continue
		}
		if item.Price < applied.MinPrice {
			continue
		}
		if applied.MaxPrice > 0 && item.Price > applied.MaxPrice {
			continue
		}
		out = append(out, item)
	}
	return out
}

func sliceToSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func intersects(set map[string]struct{}, values []string) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func validateFilters(filters domain.FilterState) error {
	if filters.MinPrice < 0 {
		return fmt.Errorf("%w: minimum price must be non-negative", ErrInvalidFilter)
	}
	if filters.MaxPrice < filters.MinPrice {
		return fmt.Errorf("%w: price range is empty", ErrInvalidFilter)
	}
	switch filters.SortBy {
	case domain.SortNewest, domain.SortPriceAsc, domain.SortPriceDesc, "":
	default:
		return fmt.Errorf("%w: unknown sort %q", ErrInvalidFilter, filters.SortBy)
	}
	return nil
}

func normalizeFilters(filters domain.FilterState) domain.FilterState {
	out := filters.Clone()
	if len(out.Categories) == 0 {
		out.Categories = map[string]struct{}{domain.AllSentinel: {}}
	}
	if len(out.Occasions) == 0 {
		out.Occasions = map[string]struct{}{domain.AllSentinel: {}}
	}
	if out.SortBy == "" {
		out.SortBy = domain.SortNewest
	}
	if out.MaxPrice == 0 {
		out.MaxPrice = domain.MaxPriceCents
	}
	out.SearchTerm = strings.TrimSpace(out.SearchTerm)
	return out
}
