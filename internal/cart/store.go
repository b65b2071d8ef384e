package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aurelia-jewels/storefront/internal/domain"
)

// guestCartKey is the fixed namespace the guest cart persists under. Within
// one session the key is stable and last write wins.
const guestCartKey = "guest-cart"

// Store persists the guest cart as a single JSON document in a local
// directory.
type Store struct {
	dir string
	key string
}

// NewStore constructs a guest cart store rooted at dir.
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cart: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cart: create store directory: %w", err)
	}
	return &Store{dir: dir, key: guestCartKey}, nil
}

// ForSession derives a store scoped to one browsing session, so carts from
// different shoppers never share a document. An empty id keeps the shared key.
func (s *Store) ForSession(id string) *Store {
	id = sanitizeKeyPart(id)
	if id == "" {
		return s
	}
	return &Store{dir: s.dir, key: guestCartKey + "-" + id}
}

func sanitizeKeyPart(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Load reads the persisted guest cart. A missing file is an empty cart.
func (s *Store) Load() ([]domain.LocalCartItem, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.LocalCartItem{}, nil
		}
		return nil, fmt.Errorf("cart: load guest cart: %w", err)
	}
	var items []domain.LocalCartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("cart: parse guest cart: %w", err)
	}
	if items == nil {
		items = []domain.LocalCartItem{}
	}
	return items, nil
}

// Save writes the guest cart atomically (write to a temp file, then rename).
func (s *Store) Save(items []domain.LocalCartItem) error {
	if items == nil {
		items = []domain.LocalCartItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("cart: encode guest cart: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cart: write guest cart: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cart: persist guest cart: %w", err)
	}
	return nil
}

// Delete removes the persisted guest cart. Absence is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cart: delete guest cart: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, s.key+".json")
}
