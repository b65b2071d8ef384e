package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/storefront/internal/cart"
	"github.com/aurelia-jewels/storefront/internal/domain"
	"github.com/aurelia-jewels/storefront/internal/gateway"
	"github.com/aurelia-jewels/storefront/internal/platform/httpx"
)

// CartHandlers exposes the session cart: guest lines before sign-in, the
// server cart after.
type CartHandlers struct {
	states SessionStates
}

// NewCartHandlers constructs cart handlers bound to the session registry.
func NewCartHandlers(states SessionStates) *CartHandlers {
	return &CartHandlers{states: states}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Currency  string `json:"currency"`
	Name      string `json:"name"`
	ImageURL  string `json:"imageUrl"`
	Slug      string `json:"slug"`
}

type updateItemRequest struct {
	Quantity  *int   `json:"quantity"`
	VariantID string `json:"variantId"`
}

type cartLinePayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Slug      string `json:"slug,omitempty"`
	AddedAt   string `json:"addedAt,omitempty"`
}

type cartViewPayload struct {
	Authenticated     bool              `json:"authenticated"`
	ItemCount         int               `json:"itemCount"`
	TotalQuantity     int               `json:"totalQuantity"`
	Subtotal          int64             `json:"subtotal"`
	Total             int64             `json:"total"`
	Currency          string            `json:"currency"`
	FormattedSubtotal string            `json:"formattedSubtotal"`
	FormattedTotal    string            `json:"formattedTotal"`
	Items             []cartLinePayload `json:"items"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(state.Cart))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req addItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	err = state.Cart.AddItem(ctx, cart.AddItemInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Currency:  req.Currency,
		Name:      req.Name,
		ImageURL:  req.ImageURL,
		Slug:      req.Slug,
	})
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(state.Cart))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req updateItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	if err := state.Cart.UpdateItem(ctx, productID, *req.Quantity, req.VariantID); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(state.Cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	variantID := strings.TrimSpace(r.URL.Query().Get("variantId"))
	if err := state.Cart.RemoveItem(r.Context(), productID, variantID); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(state.Cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}
	if err := state.Cart.Clear(r.Context()); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(state.Cart))
}

func (h *CartHandlers) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case gateway.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "cart or item not found", http.StatusNotFound))
	case gateway.IsRateLimited(err):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_rate_limited", "the cart service is rate limiting requests", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "the cart service is currently unavailable", http.StatusBadGateway))
	}
}

func buildCartViewPayload(r *cart.Reconciler) cartViewPayload {
	view := r.View()
	payload := cartViewPayload{
		Authenticated:     r.Authenticated(),
		ItemCount:         view.ItemCount,
		TotalQuantity:     view.TotalQuantity,
		Subtotal:          view.Subtotal,
		Total:             view.Total,
		Currency:          view.Currency,
		FormattedSubtotal: view.FormattedSubtotal,
		FormattedTotal:    view.FormattedTotal,
	}
	if payload.Authenticated {
		payload.Items = buildServerLines(r.ServerCart())
	} else {
		payload.Items = buildLocalLines(r.LocalItems())
	}
	return payload
}

func buildLocalLines(items []domain.LocalCartItem) []cartLinePayload {
	lines := make([]cartLinePayload, 0, len(items))
	for _, item := range items {
		lines = append(lines, cartLinePayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Slug:      item.Slug,
			AddedAt:   item.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	return lines
}

func buildServerLines(serverCart domain.ServerCart) []cartLinePayload {
	lines := make([]cartLinePayload, 0, len(serverCart.Items))
	for _, item := range serverCart.Items {
		lines = append(lines, cartLinePayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines
}
