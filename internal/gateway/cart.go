package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

const cartTracerName = "storefront/gateway/cart"

// CartClient mutates and reads the authenticated server cart. Every mutation
// returns the full cart so callers can replace local state wholesale.
type CartClient struct {
	baseURL string
	http    *http.Client
	token   func(ctx context.Context) string
}

// NewCartClient constructs a cart client. tokenFn supplies the bearer token
// for the signed-in shopper; a nil tokenFn sends unauthenticated requests.
func NewCartClient(baseURL string, client *http.Client, tokenFn func(ctx context.Context) string) *CartClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &CartClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    client,
		token:   tokenFn,
	}
}

// GetCart fetches the current server cart.
func (c *CartClient) GetCart(ctx context.Context) (domain.ServerCart, error) {
	return c.do(ctx, http.MethodGet, []string{"cart"}, nil, "cart: get")
}

// AddItem adds quantity of a product (optionally a variant) to the cart.
func (c *CartClient) AddItem(ctx context.Context, productID string, quantity int, variantID string) (domain.ServerCart, error) {
	body := map[string]any{
		"productId": strings.TrimSpace(productID),
		"quantity":  quantity,
	}
	if v := strings.TrimSpace(variantID); v != "" {
		body["variantId"] = v
	}
	return c.do(ctx, http.MethodPost, []string{"cart", "items"}, body, "cart: add item")
}

// UpdateItem sets the absolute quantity of an existing line.
func (c *CartClient) UpdateItem(ctx context.Context, productID string, quantity int) (domain.ServerCart, error) {
	body := map[string]any{"quantity": quantity}
	return c.do(ctx, http.MethodPatch, []string{"cart", "items", strings.TrimSpace(productID)}, body, "cart: update item")
}

// RemoveItem deletes a line from the cart.
func (c *CartClient) RemoveItem(ctx context.Context, productID string) (domain.ServerCart, error) {
	return c.do(ctx, http.MethodDelete, []string{"cart", "items", strings.TrimSpace(productID)}, nil, "cart: remove item")
}

// Clear empties the cart.
func (c *CartClient) Clear(ctx context.Context) (domain.ServerCart, error) {
	return c.do(ctx, http.MethodDelete, []string{"cart"}, nil, "cart: clear")
}

func (c *CartClient) do(ctx context.Context, method string, segments []string, body map[string]any, op string) (domain.ServerCart, error) {
	tracer := otel.Tracer(cartTracerName)
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	parts := append([]string{c.baseURL}, segments...)
	endpoint, err := url.JoinPath(parts[0], parts[1:]...)
	if err != nil {
		return domain.ServerCart{}, wrapTransportError(op, err)
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.ServerCart{}, wrapTransportError(op, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return domain.ServerCart{}, wrapTransportError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := strings.TrimSpace(c.token(ctx)); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport failure")
		return domain.ServerCart{}, wrapTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return domain.ServerCart{}, NewStatusError(op, resp.StatusCode, drainError(resp.Body), retryAfter)
	}

	var payload cartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ServerCart{}, wrapTransportError(op, err)
	}
	return payload.toCart(), nil
}

type cartPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Items     []cartItemPayload `json:"items"`
	Subtotal  int64             `json:"subtotal"`
	Tax       int64             `json:"tax"`
	Shipping  int64             `json:"shipping"`
	Total     int64             `json:"total"`
	Currency  string            `json:"currency"`
	UpdatedAt string            `json:"updatedAt"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

func (p cartPayload) toCart() domain.ServerCart {
	items := make([]domain.ServerCartItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.ServerCartItem{
			ID:        strings.TrimSpace(item.ID),
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return domain.ServerCart{
		ID:        strings.TrimSpace(p.ID),
		UserID:    strings.TrimSpace(p.UserID),
		Items:     items,
		Subtotal:  p.Subtotal,
		Tax:       p.Tax,
		Shipping:  p.Shipping,
		Total:     p.Total,
		Currency:  strings.ToUpper(defaultString(p.Currency, "USD")),
		UpdatedAt: parseTime(p.UpdatedAt),
	}
}
