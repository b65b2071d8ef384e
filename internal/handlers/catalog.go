package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/storefront/internal/catalog"
	"github.com/aurelia-jewels/storefront/internal/domain"
	"github.com/aurelia-jewels/storefront/internal/gateway"
	"github.com/aurelia-jewels/storefront/internal/platform/httpx"
	"github.com/aurelia-jewels/storefront/internal/platform/taxonomy"
)

// CatalogHandlers exposes the per-session browsing endpoints.
type CatalogHandlers struct {
	states SessionStates
	terms  *taxonomy.Taxonomy
}

// NewCatalogHandlers constructs catalog handlers bound to the session registry.
func NewCatalogHandlers(states SessionStates, terms *taxonomy.Taxonomy) *CatalogHandlers {
	return &CatalogHandlers{states: states, terms: terms}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.browse)
	r.Get("/state", h.state)
	r.Put("/filters", h.setFilters)
	r.Post("/filters/apply", h.applyFilters)
	r.Post("/filters/clear", h.clearFilters)
	r.Post("/pages/more", h.loadMore)
	r.Post("/pages/{page}", h.loadPage)
	r.Get("/taxonomy", h.taxonomy)
}

type filterRequest struct {
	Categories []string `json:"categories"`
	Occasions  []string `json:"occasions"`
	MinPrice   *int64   `json:"minPrice"`
	MaxPrice   *int64   `json:"maxPrice"`
	SortBy     string   `json:"sortBy"`
	Search     string   `json:"search"`
}

type filterPayload struct {
	Categories []string `json:"categories"`
	Occasions  []string `json:"occasions"`
	MinPrice   int64    `json:"minPrice"`
	MaxPrice   int64    `json:"maxPrice"`
	SortBy     string   `json:"sortBy"`
	Search     string   `json:"search,omitempty"`
}

type productPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Slug           string   `json:"slug"`
	Description    string   `json:"description,omitempty"`
	Price          int64    `json:"price"`
	CompareAtPrice int64    `json:"compareAtPrice,omitempty"`
	Currency       string   `json:"currency"`
	Category       string   `json:"category"`
	Occasions      []string `json:"occasions,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type snapshotPayload struct {
	Filters      filterPayload    `json:"filters"`
	Items        []productPayload `json:"items"`
	CurrentPage  int              `json:"currentPage"`
	TotalCount   int              `json:"totalCount"`
	HasMore      bool             `json:"hasMore"`
	Loading      bool             `json:"loading"`
	Failed       bool             `json:"failed"`
	Neutral      bool             `json:"neutral"`
	Truncated    bool             `json:"truncated,omitempty"`
	UsedFallback bool             `json:"usedFallback,omitempty"`
}

func (h *CatalogHandlers) browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	filters, err := h.filtersFromQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", err.Error(), http.StatusBadRequest))
		return
	}

	if err := state.Catalog.ApplyFilters(ctx, filters); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) state(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) setFilters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	filters, err := h.filtersFromBody(r)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if verr := h.validateSlugs(filters); verr != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", verr.Error(), http.StatusBadRequest))
		return
	}

	state.Catalog.SetPending(filters)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"pending": buildFilterPayload(state.Catalog.Pending()),
	})
}

func (h *CatalogHandlers) applyFilters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	if err := state.Catalog.ApplyFilters(ctx, state.Catalog.Pending()); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) clearFilters(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}
	state.Catalog.ClearFilters()
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) loadMore(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}
	if err := state.Catalog.MaybeLoadMore(r.Context()); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) loadPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page", "page must be a positive integer", http.StatusBadRequest))
		return
	}

	if err := state.Catalog.LoadPage(ctx, page); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSnapshotPayload(state.Catalog.Snapshot()))
}

func (h *CatalogHandlers) taxonomy(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"categories": h.terms.Categories,
		"occasions":  h.terms.Occasions,
	})
}

func (h *CatalogHandlers) filtersFromQuery(values url.Values) (domain.FilterState, error) {
	filters := domain.DefaultFilterState()

	if categories := values["category"]; len(categories) > 0 {
		filters.Categories = slugSet(categories)
	}
	if occasions := values["occasion"]; len(occasions) > 0 {
		filters.Occasions = slugSet(occasions)
	}
	if raw := strings.TrimSpace(values.Get("minPrice")); raw != "" {
		cents, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.FilterState{}, fmt.Errorf("minPrice must be an integer amount of cents")
		}
		filters.MinPrice = cents
	}
	if raw := strings.TrimSpace(values.Get("maxPrice")); raw != "" {
		cents, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.FilterState{}, fmt.Errorf("maxPrice must be an integer amount of cents")
		}
		filters.MaxPrice = cents
	}
	if sort := strings.TrimSpace(values.Get("sort")); sort != "" {
		filters.SortBy = domain.SortOption(sort)
	}
	filters.SearchTerm = strings.TrimSpace(values.Get("search"))

	if err := h.validateSlugs(filters); err != nil {
		return domain.FilterState{}, err
	}
	return filters, nil
}

func (h *CatalogHandlers) filtersFromBody(r *http.Request) (domain.FilterState, error) {
	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		return domain.FilterState{}, err
	}
	var req filterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.FilterState{}, fmt.Errorf("invalid JSON payload: %w", err)
	}

	filters := domain.DefaultFilterState()
	if len(req.Categories) > 0 {
		filters.Categories = slugSet(req.Categories)
	}
	if len(req.Occasions) > 0 {
		filters.Occasions = slugSet(req.Occasions)
	}
	if req.MinPrice != nil {
		filters.MinPrice = *req.MinPrice
	}
	if req.MaxPrice != nil {
		filters.MaxPrice = *req.MaxPrice
	}
	if sort := strings.TrimSpace(req.SortBy); sort != "" {
		filters.SortBy = domain.SortOption(sort)
	}
	filters.SearchTerm = strings.TrimSpace(req.Search)
	return filters, nil
}

func (h *CatalogHandlers) validateSlugs(filters domain.FilterState) error {
	if h.terms == nil {
		return nil
	}
	for _, slug := range filters.SelectedCategories() {
		if !h.terms.ValidCategory(slug) {
			return fmt.Errorf("unknown category %q", slug)
		}
	}
	for _, slug := range filters.SelectedOccasions() {
		if !h.terms.ValidOccasion(slug) {
			return fmt.Errorf("unknown occasion %q", slug)
		}
	}
	return nil
}

func (h *CatalogHandlers) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, catalog.ErrInvalidFilter):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", err.Error(), http.StatusBadRequest))
	case errors.Is(err, catalog.ErrThrottled):
		httpx.WriteError(ctx, w, httpx.NewError("throttled", "another fetch ran too recently", http.StatusTooManyRequests))
	case errors.Is(err, catalog.ErrFetchInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("fetch_in_flight", "a catalog fetch is already running", http.StatusConflict))
	case errors.Is(err, catalog.ErrNoMorePages):
		httpx.WriteError(ctx, w, httpx.NewError("no_more_pages", "the result set is exhausted", http.StatusConflict))
	case gateway.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "the requested page does not exist", http.StatusNotFound))
	case gateway.IsRateLimited(err):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_rate_limited", "the product search is rate limiting requests", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product search is currently unavailable", http.StatusBadGateway))
	}
}

func buildSnapshotPayload(snap catalog.Snapshot) snapshotPayload {
	items := make([]productPayload, 0, len(snap.Items))
	for _, p := range snap.Items {
		items = append(items, buildProductPayload(p))
	}
	return snapshotPayload{
		Filters:      buildFilterPayload(snap.Filters),
		Items:        items,
		CurrentPage:  snap.CurrentPage,
		TotalCount:   snap.TotalCount,
		HasMore:      snap.HasMore,
		Loading:      snap.Loading,
		Failed:       snap.Failed,
		Neutral:      snap.Neutral,
		Truncated:    snap.Truncated,
		UsedFallback: snap.UsedFallback,
	}
}

func buildFilterPayload(filters domain.FilterState) filterPayload {
	categories := filters.SelectedCategories()
	if categories == nil {
		categories = []string{domain.AllSentinel}
	}
	occasions := filters.SelectedOccasions()
	if occasions == nil {
		occasions = []string{domain.AllSentinel}
	}
	return filterPayload{
		Categories: categories,
		Occasions:  occasions,
		MinPrice:   filters.MinPrice,
		MaxPrice:   filters.MaxPrice,
		SortBy:     string(filters.SortBy),
		Search:     filters.SearchTerm,
	}
}

func buildProductPayload(p domain.Product) productPayload {
	return productPayload{
		ID:             p.ID,
		Name:           p.Name,
		Slug:           p.Slug,
		Description:    p.Description,
		Price:          p.Price,
		CompareAtPrice: p.CompareAtPrice,
		Currency:       p.Currency,
		Category:       p.Category,
		Occasions:      p.Occasions,
		ImageURL:       p.ImageURL,
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// slugSet normalizes slug values into a set. Each value may itself be a
// comma-separated list, so ?category=earrings,rings and repeated params both
// work.
func slugSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		for _, slug := range strings.Split(value, ",") {
			slug = strings.ToLower(strings.TrimSpace(slug))
			if slug == "" {
				continue
			}
			set[slug] = struct{}{}
		}
	}
	if len(set) == 0 {
		set[domain.AllSentinel] = struct{}{}
	}
	return set
}
