package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultAPITimeout    = 8 * time.Second
	defaultPageSize      = 12
	defaultComboPageSize = 100
	defaultThrottle      = 800 * time.Millisecond
	defaultSessionTTL    = 30 * time.Minute
	defaultCartDir       = "data/cart"
	defaultLocale        = "en-US"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Commerce CommerceConfig
	Catalog  CatalogConfig
	Cart     CartConfig
	Auth     AuthConfig
	Session  SessionConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig points at the upstream commerce REST API.
type CommerceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CatalogConfig tunes browsing behaviour.
type CatalogConfig struct {
	PageSize      int
	ComboPageSize int
	Throttle      time.Duration
	FallbackDir   string
	WatchFallback bool
	TaxonomyFile  string
}

// CartConfig configures guest cart persistence and presentation.
type CartConfig struct {
	StorageDir string
	Locale     string
}

// AuthConfig holds the session token verification secret.
type AuthConfig struct {
	JWTSecret string
}

// SessionConfig controls the per-browser session registry.
type SessionConfig struct {
	TTL time.Duration
}

// ErrMissingCommerceBaseURL indicates the upstream API base URL was not configured.
var ErrMissingCommerceBaseURL = errors.New("config: COMMERCE_API_BASE_URL is required")

// ErrMissingJWTSecret indicates the session token secret was not configured.
var ErrMissingJWTSecret = errors.New("config: AUTH_JWT_SECRET is required")

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:         envOrDefault("PORT", defaultPort),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  envDuration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL: strings.TrimSpace(os.Getenv("COMMERCE_API_BASE_URL")),
			Timeout: envDuration("COMMERCE_API_TIMEOUT", defaultAPITimeout),
		},
		Catalog: CatalogConfig{
			PageSize:      envInt("CATALOG_PAGE_SIZE", defaultPageSize),
			ComboPageSize: envInt("CATALOG_COMBO_PAGE_SIZE", defaultComboPageSize),
			Throttle:      envDuration("CATALOG_THROTTLE", defaultThrottle),
			FallbackDir:   strings.TrimSpace(os.Getenv("CATALOG_FALLBACK_DIR")),
			WatchFallback: envBool("CATALOG_WATCH_FALLBACK", false),
			TaxonomyFile:  strings.TrimSpace(os.Getenv("CATALOG_TAXONOMY_FILE")),
		},
		Cart: CartConfig{
			StorageDir: envOrDefault("CART_STORAGE_DIR", defaultCartDir),
			Locale:     envOrDefault("CART_LOCALE", defaultLocale),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		},
		Session: SessionConfig{
			TTL: envDuration("SESSION_TTL", defaultSessionTTL),
		},
	}

	if cfg.Commerce.BaseURL == "" {
		return Config{}, ErrMissingCommerceBaseURL
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, ErrMissingJWTSecret
	}
	if cfg.Catalog.PageSize <= 0 {
		return Config{}, fmt.Errorf("config: CATALOG_PAGE_SIZE must be positive")
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
