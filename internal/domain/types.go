package domain

import (
	"sort"
	"strings"
	"time"
)

// SortOption enumerates the catalog sort orders exposed to shoppers.
type SortOption string

const (
	// SortNewest orders products by creation time, newest first.
	SortNewest SortOption = "newest"
	// SortPriceAsc orders products by price, cheapest first.
	SortPriceAsc SortOption = "price_asc"
	// SortPriceDesc orders products by price, most expensive first.
	SortPriceDesc SortOption = "price_desc"
)

// AllSentinel marks an unfiltered category or occasion dimension.
const AllSentinel = "all"

// MaxPriceCents is the upper bound of the default price range filter.
const MaxPriceCents int64 = 100000

// Product is a catalog entry as returned by the commerce API or the bundled
// fallback dataset. Prices are minor units (cents).
type Product struct {
	ID             string
	Name           string
	Slug           string
	Description    string
	Price          int64
	CompareAtPrice int64
	Currency       string
	Category       string
	Occasions      []string
	ImageURL       string
	CreatedAt      time.Time
}

// FilterState captures a shopper's catalog query intent. The zero value is not
// usable; construct with DefaultFilterState.
type FilterState struct {
	Categories map[string]struct{}
	Occasions  map[string]struct{}
	MinPrice   int64
	MaxPrice   int64
	SortBy     SortOption
	SearchTerm string
}

// DefaultFilterState returns the unfiltered browse state.
func DefaultFilterState() FilterState {
	return FilterState{
		Categories: map[string]struct{}{AllSentinel: {}},
		Occasions:  map[string]struct{}{AllSentinel: {}},
		MinPrice:   0,
		MaxPrice:   MaxPriceCents,
		SortBy:     SortNewest,
	}
}

// Clone returns a deep copy so pending edits never alias the applied tier.
func (f FilterState) Clone() FilterState {
	dup := f
	dup.Categories = cloneSet(f.Categories)
	dup.Occasions = cloneSet(f.Occasions)
	return dup
}

// SelectedCategories returns the category slugs excluding the "all" sentinel,
// sorted for deterministic fetch ordering.
func (f FilterState) SelectedCategories() []string {
	return selectedSlugs(f.Categories)
}

// SelectedOccasions returns the occasion slugs excluding the "all" sentinel.
func (f FilterState) SelectedOccasions() []string {
	return selectedSlugs(f.Occasions)
}

// IsUnfiltered reports whether the state matches the neutral browse view: no
// category, occasion, or search narrowing.
func (f FilterState) IsUnfiltered() bool {
	return len(f.SelectedCategories()) == 0 &&
		len(f.SelectedOccasions()) == 0 &&
		strings.TrimSpace(f.SearchTerm) == ""
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	dup := make(map[string]struct{}, len(set))
	for k := range set {
		dup[k] = struct{}{}
	}
	return dup
}

func selectedSlugs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	if _, ok := set[AllSentinel]; ok && len(set) == 1 {
		return nil
	}
	slugs := make([]string, 0, len(set))
	for slug := range set {
		if slug == AllSentinel {
			continue
		}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// PageInfo mirrors the pagination block of the search endpoint response. The
// boolean flags are pointers so an omitted flag can be told apart from an
// explicit false; older deployments of the search endpoint omit them.
type PageInfo struct {
	CurrentPage   int
	TotalPages    int
	TotalProducts int
	HasNextPage   *bool
	HasPrevPage   *bool
}

// LocalCartItem is a guest cart line persisted to client-local storage. The
// display fields are denormalized so the cart renders without a product join.
type LocalCartItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	VariantID string    `json:"variantId,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	Currency  string    `json:"currency"`
	Name      string    `json:"name,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

// ServerCart is the authoritative cart once a shopper is signed in. It is
// owned and mutated exclusively through the cart gateway.
type ServerCart struct {
	ID        string
	UserID    string
	Items     []ServerCartItem
	Subtotal  int64
	Tax       int64
	Shipping  int64
	Total     int64
	Currency  string
	UpdatedAt time.Time
}

// ServerCartItem is a single line of the server cart.
type ServerCartItem struct {
	ID        string
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// CartView is the derived projection consumed by the presentation layer. It is
// recomputed on every read and never stored.
type CartView struct {
	ItemCount         int
	TotalQuantity     int
	Subtotal          int64
	Total             int64
	Currency          string
	FormattedSubtotal string
	FormattedTotal    string
}
