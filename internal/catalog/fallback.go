package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/fsnotify/fsnotify"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

//go:embed products.json
var embeddedProducts []byte

const fallbackFileName = "products.json"

// Dataset is the locally bundled product list served when the search backend
// returns nothing. An on-disk copy, when configured, overrides the embedded
// one and is reloaded whenever the file changes.
type Dataset struct {
	logger *zap.Logger

	mu    sync.RWMutex
	items []domain.Product
}

type fallbackProduct struct {
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

// NewDataset loads the fallback dataset. dir may be empty, in which case only
// the embedded copy is used.
func NewDataset(dir string, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dataset{logger: logger}

	data := embeddedProducts
	dir = strings.TrimSpace(dir)
	if dir != "" {
		onDisk, err := os.ReadFile(filepath.Join(dir, fallbackFileName))
		switch {
		case err == nil:
			data = onDisk
		case errors.Is(err, fs.ErrNotExist):
			// Embedded copy stands in.
		default:
			return nil, fmt.Errorf("catalog: read fallback dataset: %w", err)
		}
	}

	items, err := decodeFallback(data)
	if err != nil {
		return nil, err
	}
	d.items = items
	return d, nil
}

// Products returns a copy of the dataset.
func (d *Dataset) Products() []domain.Product {
	d.mu.RLock()
	defer d.mu.RUnlock()
	items := make([]domain.Product, len(d.items))
	copy(items, d.items)
	return items
}

// Len reports how many products the dataset currently holds.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

// Watch reloads the on-disk dataset whenever it changes, until ctx is done.
// A corrupt write keeps the previous dataset in place.
func (d *Dataset) Watch(ctx context.Context, dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return errors.New("catalog: watch requires a dataset directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: start dataset watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("catalog: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Join(dir, fallbackFileName)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(target) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				d.reload(target)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("dataset watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (d *Dataset) reload(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn("dataset reload read failed", zap.Error(err))
		return
	}
	items, err := decodeFallback(data)
	if err != nil {
		d.logger.Warn("dataset reload parse failed", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
	d.logger.Info("fallback dataset reloaded", zap.Int("products", len(items)))
}

func decodeFallback(data []byte) ([]domain.Product, error) {
	var raw []fallbackProduct
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: parse fallback dataset: %w", err)
	}

	sanitizer := bluemonday.StrictPolicy()
	items := make([]domain.Product, 0, len(raw))
	for _, p := range raw {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		items = append(items, domain.Product{
			ID:             id,
			Name:           strings.TrimSpace(p.Name),
			Slug:           strings.TrimSpace(p.Slug),
			Description:    sanitizer.Sanitize(p.Description),
			Price:          p.Price,
			CompareAtPrice: p.CompareAtPrice,
			Currency:       currencyOrDefault(p.Currency),
			Category:       strings.ToLower(strings.TrimSpace(p.Category)),
			Occasions:      lowerSlugs(p.Occasions),
			ImageURL:       strings.TrimSpace(p.ImageURL),
			CreatedAt:      parseFallbackTime(p.CreatedAt),
		})
	}
	return items, nil
}

func currencyOrDefault(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return "USD"
	}
	return v
}

func lowerSlugs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(v)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseFallbackTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
