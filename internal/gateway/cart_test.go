package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const cartBody = `{
	"id": "cart-1",
	"userId": "user-9",
	"items": [
		{"id": "i1", "productId": "P1", "variantId": "gold", "quantity": 2, "unitPrice": 1000, "lineTotal": 2000}
	],
	"subtotal": 2000,
	"tax": 150,
	"shipping": 0,
	"total": 2150,
	"currency": "usd",
	"updatedAt": "2026-04-01T10:00:00Z"
}`

func TestCartClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cartBody))
	}))
	defer server.Close()

	client := NewCartClient(server.URL, server.Client(), func(ctx context.Context) string {
		return "token-123"
	})
	if _, err := client.GetCart(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestCartClientOmitsEmptyToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(cartBody))
	}))
	defer server.Close()

	client := NewCartClient(server.URL, server.Client(), func(ctx context.Context) string {
		return "  "
	})
	if _, err := client.GetCart(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no auth header for guest, got %q", gotAuth)
	}
}

func TestCartClientAddItem(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("unexpected error decoding body: %v", err)
		}
		w.Write([]byte(cartBody))
	}))
	defer server.Close()

	client := NewCartClient(server.URL, server.Client(), nil)
	cart, err := client.AddItem(context.Background(), " P1 ", 2, "gold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/cart/items" {
		t.Fatalf("expected POST /cart/items, got %s %s", gotMethod, gotPath)
	}
	if gotBody["productId"] != "P1" {
		t.Fatalf("expected trimmed productId, got %v", gotBody["productId"])
	}
	if gotBody["quantity"] != float64(2) {
		t.Fatalf("expected quantity 2, got %v", gotBody["quantity"])
	}
	if gotBody["variantId"] != "gold" {
		t.Fatalf("expected variantId gold, got %v", gotBody["variantId"])
	}

	if cart.ID != "cart-1" {
		t.Fatalf("expected decoded cart, got %+v", cart)
	}
	if cart.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %q", cart.Currency)
	}
	if len(cart.Items) != 1 || cart.Items[0].LineTotal != 2000 {
		t.Fatalf("expected decoded line, got %+v", cart.Items)
	}
	if cart.UpdatedAt.IsZero() {
		t.Fatalf("expected updatedAt parsed")
	}
}

func TestCartClientRemoveItemPath(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(cartBody))
	}))
	defer server.Close()

	client := NewCartClient(server.URL, server.Client(), nil)
	if _, err := client.RemoveItem(context.Background(), "P1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/cart/items/P1" {
		t.Fatalf("expected DELETE /cart/items/P1, got %s %s", gotMethod, gotPath)
	}
}

func TestCartClientClassifiesUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewCartClient(server.URL, server.Client(), nil)
	_, err := client.GetCart(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsNotFound(err) || IsRateLimited(err) || IsTransient(err) {
		t.Fatalf("401 must not classify as retryable, got %v", err)
	}
}
