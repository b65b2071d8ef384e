package cart

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	items := []domain.LocalCartItem{
		{ID: "l1", ProductID: "P1", Quantity: 2, UnitPrice: 1000, Currency: "USD", AddedAt: added},
		{ID: "l2", ProductID: "P2", VariantID: "gold", Quantity: 1, UnitPrice: 2500, Currency: "USD", AddedAt: added},
	}
	if err := store.Save(items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 items, got %d", len(loaded))
	}
	if loaded[1].VariantID != "gold" {
		t.Fatalf("expected variant preserved, got %q", loaded[1].VariantID)
	}
	if !loaded[0].AddedAt.Equal(added) {
		t.Fatalf("expected timestamp preserved, got %v", loaded[0].AddedAt)
	}
}

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := store.Load()
	if err != nil {
		t.Fatalf("expected missing file to read as empty, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestStoreLoadCorruptFileErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "guest-cart.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.Load(); err == nil {
		t.Fatalf("expected decode error for corrupt file")
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Save([]domain.LocalCartItem{{ID: "l1", ProductID: "P1", Quantity: 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}

	items, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty after delete, got %d", len(items))
	}
}

func TestStoreForSessionIsolatesCarts(t *testing.T) {
	base, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shopperA := base.ForSession("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	shopperB := base.ForSession("01BX5ZZKBKACTAV9WEVGEMMVS0")

	if err := shopperA.Save([]domain.LocalCartItem{{ID: "l1", ProductID: "P1", Quantity: 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := shopperB.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected another session's store to start empty, got %d items", len(items))
	}

	if err := shopperB.Delete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, err = shopperA.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected first session's cart untouched by another's delete, got %d items", len(items))
	}
}

func TestStoreForSessionSanitizesKey(t *testing.T) {
	base, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scoped := base.ForSession("../Evil/../ID")
	if err := scoped.Save([]domain.LocalCartItem{{ID: "l1", ProductID: "P1", Quantity: 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(scoped.path()) != base.dir {
		t.Fatalf("expected scoped file to stay inside the store directory, got %s", scoped.path())
	}

	if base.ForSession("  ") != base {
		t.Fatalf("expected a blank id to keep the shared store")
	}
}

func TestStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cart")
	if _, err := NewStore(dir); err != nil {
		t.Fatalf("expected nested directory created, got %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory on disk: %v", err)
	}
}
