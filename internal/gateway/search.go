package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

const (
	defaultTimeout = 8 * time.Second

	searchTracerName = "storefront/gateway/search"
)

// SearchQuery carries one paged product search request. Category and Occasion
// hold at most one slug each; the search endpoint cannot filter on several
// values per dimension in a single call.
type SearchQuery struct {
	Category  string
	Occasion  string
	MinPrice  *int64
	MaxPrice  *int64
	SortBy    string
	SortOrder string
	Search    string
	Page      int
	Limit     int
}

// SearchResult is the decoded page returned by the search endpoint.
type SearchResult struct {
	Items      []domain.Product
	Pagination domain.PageInfo
}

// SearchClient issues paged product queries against the commerce API.
type SearchClient struct {
	baseURL string
	http    *http.Client
}

// NewSearchClient constructs a search client for the given API base URL.
func NewSearchClient(baseURL string, client *http.Client) *SearchClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &SearchClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    client,
	}
}

// FetchProducts performs a single paged fetch. Errors are classified with the
// gateway Error kinds.
func (c *SearchClient) FetchProducts(ctx context.Context, query SearchQuery) (SearchResult, error) {
	tracer := otel.Tracer(searchTracerName)
	ctx, span := tracer.Start(ctx, "search.fetch_products")
	defer span.End()
	span.SetAttributes(
		attribute.Int("search.page", query.Page),
		attribute.Int("search.limit", query.Limit),
	)

	endpoint, err := url.JoinPath(c.baseURL, "products")
	if err != nil {
		return SearchResult{}, wrapTransportError("search: fetch products", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{}, wrapTransportError("search: fetch products", err)
	}
	req.URL.RawQuery = encodeSearchQuery(query)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport failure")
		return SearchResult{}, wrapTransportError("search: fetch products", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return SearchResult{}, NewStatusError("search: fetch products", resp.StatusCode, drainError(resp.Body), retryAfter)
	}

	var payload searchPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SearchResult{}, wrapTransportError("search: decode response", err)
	}
	return payload.toResult(), nil
}

func encodeSearchQuery(query SearchQuery) string {
	values := url.Values{}
	if category := strings.TrimSpace(query.Category); category != "" {
		values.Set("category", category)
	}
	if occasion := strings.TrimSpace(query.Occasion); occasion != "" {
		values.Set("occasion", occasion)
	}
	if query.MinPrice != nil {
		values.Set("minPrice", strconv.FormatInt(*query.MinPrice, 10))
	}
	if query.MaxPrice != nil {
		values.Set("maxPrice", strconv.FormatInt(*query.MaxPrice, 10))
	}
	if sortBy := strings.TrimSpace(query.SortBy); sortBy != "" {
		values.Set("sortBy", sortBy)
	}
	if order := strings.TrimSpace(query.SortOrder); order != "" {
		values.Set("sortOrder", order)
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		values.Set("search", search)
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	values.Set("page", strconv.Itoa(page))
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	return values.Encode()
}

type searchPayload struct {
	Items      []productPayload `json:"items"`
	Pagination struct {
		CurrentPage   int   `json:"currentPage"`
		TotalPages    int   `json:"totalPages"`
		TotalProducts int   `json:"totalProducts"`
		HasNextPage   *bool `json:"hasNextPage"`
		HasPrevPage   *bool `json:"hasPrevPage"`
	} `json:"pagination"`
}

type productPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Slug           string   `json:"slug"`
	Description    string   `json:"description"`
	Price          int64    `json:"price"`
	CompareAtPrice int64    `json:"compareAtPrice"`
	Currency       string   `json:"currency"`
	Category       string   `json:"category"`
	Occasions      []string `json:"occasions"`
	ImageURL       string   `json:"imageUrl"`
	CreatedAt      string   `json:"createdAt"`
}

func (p searchPayload) toResult() SearchResult {
	items := make([]domain.Product, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, item.toProduct())
	}
	return SearchResult{
		Items: items,
		Pagination: domain.PageInfo{
			CurrentPage:   p.Pagination.CurrentPage,
			TotalPages:    p.Pagination.TotalPages,
			TotalProducts: p.Pagination.TotalProducts,
			HasNextPage:   p.Pagination.HasNextPage,
			HasPrevPage:   p.Pagination.HasPrevPage,
		},
	}
}

func (p productPayload) toProduct() domain.Product {
	return domain.Product{
		ID:             strings.TrimSpace(p.ID),
		Name:           strings.TrimSpace(p.Name),
		Slug:           strings.TrimSpace(p.Slug),
		Description:    p.Description,
		Price:          p.Price,
		CompareAtPrice: p.CompareAtPrice,
		Currency:       defaultString(p.Currency, "USD"),
		Category:       strings.ToLower(strings.TrimSpace(p.Category)),
		Occasions:      normalizeSlugs(p.Occasions),
		ImageURL:       strings.TrimSpace(p.ImageURL),
		CreatedAt:      parseTime(p.CreatedAt),
	}
}

func normalizeSlugs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts
		}
	}
	return time.Time{}
}
