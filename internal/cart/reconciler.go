package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

var (
	errGatewayRequired = errors.New("cart: gateway is required")
	errStoreRequired   = errors.New("cart: local store is required")

	// ErrMergeInFlight indicates a guest-to-server merge is already running.
	ErrMergeInFlight = errors.New("cart: merge already in flight")
)

// Gateway mutates and reads the authenticated server cart.
type Gateway interface {
	GetCart(ctx context.Context) (domain.ServerCart, error)
	AddItem(ctx context.Context, productID string, quantity int, variantID string) (domain.ServerCart, error)
	UpdateItem(ctx context.Context, productID string, quantity int) (domain.ServerCart, error)
	RemoveItem(ctx context.Context, productID string) (domain.ServerCart, error)
	Clear(ctx context.Context) (domain.ServerCart, error)
}

// LocalStore persists the guest cart across sessions.
type LocalStore interface {
	Load() ([]domain.LocalCartItem, error)
	Save(items []domain.LocalCartItem) error
	Delete() error
}

// AddItemInput carries one add-to-cart action, including the denormalized
// display fields kept on guest lines.
type AddItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice int64
	Currency  string
	Name      string
	ImageURL  string
	Slug      string
}

// ReconcilerDeps wires the gateway, local store, and test seams.
type ReconcilerDeps struct {
	Gateway     Gateway
	Store       LocalStore
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
	Locale      language.Tag
}

// Reconciler presents a single coherent cart regardless of authentication
// state: a local item set while the shopper is a guest, the server cart once
// signed in, with a one-time one-directional merge in between.
type Reconciler struct {
	gw      Gateway
	store   LocalStore
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	printer *message.Printer

	mu            sync.Mutex
	authenticated bool
	merging       bool
	local         []domain.LocalCartItem
	server        domain.ServerCart
}

// NewReconciler constructs a reconciler in the guest state, seeded from the
// persisted guest cart. A broken persisted copy starts the session empty
// rather than failing.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Gateway == nil {
		return nil, errGatewayRequired
	}
	if deps.Store == nil {
		return nil, errStoreRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	locale := deps.Locale
	if locale == language.Und {
		locale = language.AmericanEnglish
	}

	r := &Reconciler{
		gw:      deps.Gateway,
		store:   deps.Store,
		logger:  logger,
		now:     func() time.Time { return clock().UTC() },
		newID:   idGen,
		printer: message.NewPrinter(locale),
	}

	items, err := deps.Store.Load()
	if err != nil {
		logger.Warn("guest cart load failed, starting empty", zap.Error(err))
		items = []domain.LocalCartItem{}
	}
	r.local = items
	return r, nil
}

// Authenticated reports whether the server cart is currently authoritative.
func (r *Reconciler) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated
}

// AddItem adds quantity of a product to whichever cart is authoritative.
// Matching guest lines (same product and variant) accumulate; a resulting
// quantity of zero or less removes the line.
func (r *Reconciler) AddItem(ctx context.Context, input AddItemInput) error {
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return errors.New("cart: product id is required")
	}

	r.mu.Lock()
	if r.authenticated {
		r.mu.Unlock()
		return r.serverMutate(ctx, func(ctx context.Context) (domain.ServerCart, error) {
			return r.gw.AddItem(ctx, productID, input.Quantity, strings.TrimSpace(input.VariantID))
		})
	}
	defer r.mu.Unlock()

	variantID := strings.TrimSpace(input.VariantID)
	idx := r.indexOfLocal(productID, variantID)
	if idx >= 0 {
		r.local[idx].Quantity += input.Quantity
		if r.local[idx].Quantity <= 0 {
			r.local = append(r.local[:idx], r.local[idx+1:]...)
		}
	} else if input.Quantity > 0 {
		r.local = append(r.local, domain.LocalCartItem{
			ID:        r.newID(),
			ProductID: productID,
			VariantID: variantID,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitPrice,
			Currency:  currencyCode(input.Currency),
			Name:      strings.TrimSpace(input.Name),
			ImageURL:  strings.TrimSpace(input.ImageURL),
			Slug:      strings.TrimSpace(input.Slug),
			AddedAt:   r.now(),
		})
	}
	r.persistLocalLocked()
	return nil
}

// UpdateItem sets the absolute quantity of a line; zero or less removes it.
func (r *Reconciler) UpdateItem(ctx context.Context, productID string, quantity int, variantID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("cart: product id is required")
	}

	r.mu.Lock()
	if r.authenticated {
		r.mu.Unlock()
		if quantity <= 0 {
			return r.serverMutate(ctx, func(ctx context.Context) (domain.ServerCart, error) {
				return r.gw.RemoveItem(ctx, productID)
			})
		}
		return r.serverMutate(ctx, func(ctx context.Context) (domain.ServerCart, error) {
			return r.gw.UpdateItem(ctx, productID, quantity)
		})
	}
	defer r.mu.Unlock()

	idx := r.indexOfLocal(productID, strings.TrimSpace(variantID))
	if idx < 0 {
		return nil
	}
	if quantity <= 0 {
		r.local = append(r.local[:idx], r.local[idx+1:]...)
	} else {
		r.local[idx].Quantity = quantity
	}
	r.persistLocalLocked()
	return nil
}

// RemoveItem deletes a line. Removing an absent line is a no-op.
func (r *Reconciler) RemoveItem(ctx context.Context, productID string, variantID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil
	}

	r.mu.Lock()
	if r.authenticated {
		r.mu.Unlock()
		return r.serverMutate(ctx, func(ctx context.Context) (domain.ServerCart, error) {
			return r.gw.RemoveItem(ctx, productID)
		})
	}
	defer r.mu.Unlock()

	idx := r.indexOfLocal(productID, strings.TrimSpace(variantID))
	if idx < 0 {
		return nil
	}
	r.local = append(r.local[:idx], r.local[idx+1:]...)
	r.persistLocalLocked()
	return nil
}

// Clear empties whichever cart is authoritative.
func (r *Reconciler) Clear(ctx context.Context) error {
	r.mu.Lock()
	if r.authenticated {
		r.mu.Unlock()
		return r.serverMutate(ctx, func(ctx context.Context) (domain.ServerCart, error) {
			return r.gw.Clear(ctx)
		})
	}
	defer r.mu.Unlock()

	r.local = []domain.LocalCartItem{}
	if err := r.store.Delete(); err != nil {
		r.logger.Warn("guest cart delete failed", zap.Error(err))
	}
	return nil
}

// OnAuthenticated performs the one-time merge of guest lines into the server
// cart. Lines replay sequentially in stored order, and one bad line never
// blocks the rest. Re-running with an empty local cart is a no-op against the
// server beyond a refresh.
func (r *Reconciler) OnAuthenticated(ctx context.Context) error {
	r.mu.Lock()
	if r.merging {
		r.mu.Unlock()
		return ErrMergeInFlight
	}
	r.merging = true
	r.authenticated = true
	pending := make([]domain.LocalCartItem, len(r.local))
	copy(pending, r.local)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.merging = false
		r.mu.Unlock()
	}()

	serverCart, err := r.gw.GetCart(ctx)
	if err != nil {
		return err
	}
	r.setServer(serverCart)

	for _, item := range pending {
		if item.Quantity <= 0 {
			continue
		}
		if _, err := r.gw.AddItem(ctx, item.ProductID, item.Quantity, item.VariantID); err != nil {
			r.logger.Warn("guest line merge failed, skipping",
				zap.String("productID", item.ProductID),
				zap.Error(err),
			)
		}
	}

	r.mu.Lock()
	r.local = []domain.LocalCartItem{}
	r.mu.Unlock()
	if err := r.store.Delete(); err != nil {
		r.logger.Warn("guest cart delete after merge failed", zap.Error(err))
	}

	refreshed, err := r.gw.GetCart(ctx)
	if err != nil {
		return err
	}
	r.setServer(refreshed)
	return nil
}

// OnSignedOut returns the reconciler to the guest state. The in-memory server
// cart is dropped; the guest cart resumes from whatever the store holds.
func (r *Reconciler) OnSignedOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticated = false
	r.server = domain.ServerCart{}
	items, err := r.store.Load()
	if err != nil {
		r.logger.Warn("guest cart reload failed, starting empty", zap.Error(err))
		items = []domain.LocalCartItem{}
	}
	r.local = items
}

// Refresh re-reads the server cart when authenticated.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	authenticated := r.authenticated
	r.mu.Unlock()
	if !authenticated {
		return nil
	}
	serverCart, err := r.gw.GetCart(ctx)
	if err != nil {
		return err
	}
	r.setServer(serverCart)
	return nil
}

// View projects the authoritative cart into the derived totals. Computed
// fresh on every call; never cached across auth changes.
func (r *Reconciler) View() domain.CartView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.authenticated {
		view := domain.CartView{
			ItemCount: len(r.server.Items),
			Subtotal:  r.server.Subtotal,
			Total:     r.server.Total,
			Currency:  currencyCode(r.server.Currency),
		}
		for _, item := range r.server.Items {
			view.TotalQuantity += item.Quantity
		}
		view.FormattedSubtotal = r.formatMoney(view.Subtotal, view.Currency)
		view.FormattedTotal = r.formatMoney(view.Total, view.Currency)
		return view
	}

	view := domain.CartView{
		ItemCount: len(r.local),
		Currency:  "USD",
	}
	for _, item := range r.local {
		view.TotalQuantity += item.Quantity
		view.Subtotal += item.UnitPrice * int64(item.Quantity)
		if item.Currency != "" {
			view.Currency = currencyCode(item.Currency)
		}
	}
	view.Total = view.Subtotal
	view.FormattedSubtotal = r.formatMoney(view.Subtotal, view.Currency)
	view.FormattedTotal = r.formatMoney(view.Total, view.Currency)
	return view
}

// LocalItems returns a copy of the guest lines, mainly for rendering.
func (r *Reconciler) LocalItems() []domain.LocalCartItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.LocalCartItem, len(r.local))
	copy(items, r.local)
	return items
}

// ServerCart returns a copy of the last-known-good server cart.
func (r *Reconciler) ServerCart() domain.ServerCart {
	r.mu.Lock()
	defer r.mu.Unlock()
	dup := r.server
	dup.Items = make([]domain.ServerCartItem, len(r.server.Items))
	copy(dup.Items, r.server.Items)
	return dup
}

// serverMutate runs one gateway mutation and replaces the in-memory server
// cart only on success, so a failure never leaves it partially mutated.
func (r *Reconciler) serverMutate(ctx context.Context, fn func(ctx context.Context) (domain.ServerCart, error)) error {
	serverCart, err := fn(ctx)
	if err != nil {
		return err
	}
	r.setServer(serverCart)
	return nil
}

func (r *Reconciler) setServer(serverCart domain.ServerCart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.server = serverCart
}

// persistLocalLocked writes the guest cart best-effort. Storage failures are
// swallowed; the in-memory cart stays authoritative for the session.
func (r *Reconciler) persistLocalLocked() {
	if err := r.store.Save(r.local); err != nil {
		r.logger.Warn("guest cart persist failed", zap.Error(err))
	}
}

func (r *Reconciler) indexOfLocal(productID, variantID string) int {
	for i, item := range r.local {
		if strings.EqualFold(item.ProductID, productID) && strings.EqualFold(item.VariantID, variantID) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) formatMoney(cents int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
	}
	return r.printer.Sprint(currency.Symbol(unit.Amount(float64(cents) / 100)))
}

func currencyCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "USD"
	}
	return code
}
