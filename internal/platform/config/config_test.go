package config

import (
	"errors"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("COMMERCE_API_BASE_URL", "https://api.example.com")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Catalog.PageSize != 12 {
		t.Fatalf("expected default page size 12, got %d", cfg.Catalog.PageSize)
	}
	if cfg.Catalog.ComboPageSize != 100 {
		t.Fatalf("expected combination page size 100, got %d", cfg.Catalog.ComboPageSize)
	}
	if cfg.Catalog.Throttle != 800*time.Millisecond {
		t.Fatalf("expected 800ms throttle, got %v", cfg.Catalog.Throttle)
	}
	if cfg.Cart.StorageDir != "data/cart" {
		t.Fatalf("expected default cart dir, got %q", cfg.Cart.StorageDir)
	}
	if cfg.Cart.Locale != "en-US" {
		t.Fatalf("expected default locale, got %q", cfg.Cart.Locale)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Fatalf("expected default session TTL, got %v", cfg.Session.TTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CATALOG_PAGE_SIZE", "24")
	t.Setenv("CATALOG_THROTTLE", "250ms")
	t.Setenv("CATALOG_WATCH_FALLBACK", "true")
	t.Setenv("SESSION_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port override, got %q", cfg.Server.Port)
	}
	if cfg.Catalog.PageSize != 24 {
		t.Fatalf("expected page size override, got %d", cfg.Catalog.PageSize)
	}
	if cfg.Catalog.Throttle != 250*time.Millisecond {
		t.Fatalf("expected throttle override, got %v", cfg.Catalog.Throttle)
	}
	if !cfg.Catalog.WatchFallback {
		t.Fatalf("expected watch fallback enabled")
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Fatalf("expected TTL override, got %v", cfg.Session.TTL)
	}
}

func TestLoadRequiresCommerceBaseURL(t *testing.T) {
	t.Setenv("COMMERCE_API_BASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	if _, err := Load(); !errors.Is(err, ErrMissingCommerceBaseURL) {
		t.Fatalf("expected ErrMissingCommerceBaseURL, got %v", err)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("COMMERCE_API_BASE_URL", "https://api.example.com")
	t.Setenv("AUTH_JWT_SECRET", "   ")

	if _, err := Load(); !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestLoadRejectsNonPositivePageSize(t *testing.T) {
	setRequired(t)
	t.Setenv("CATALOG_PAGE_SIZE", "-3")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative page size")
	}
}

func TestEnvDurationIgnoresJunk(t *testing.T) {
	setRequired(t)
	t.Setenv("CATALOG_THROTTLE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Catalog.Throttle != 800*time.Millisecond {
		t.Fatalf("expected junk duration to fall back, got %v", cfg.Catalog.Throttle)
	}
}
