// Package history persists the list of completed calls.
//
// A [Store] treats the history as a single ordered blob, most recent call
// first: it is loaded once at startup and rewritten after every mutation.
// Three backends are provided: [FileStore] (JSON file), [PostgresStore]
// (one JSONB row per call) and [MemStore] (tests and ephemeral runs). [Guard]
// wraps any of them so that persistence failures never break a call, and
// [Writer] moves saves off the caller's goroutine.
package history

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/callcoach/pkg/types"
)

// ErrNotFound is returned when a history item does not exist.
var ErrNotFound = errors.New("history: not found")

// Store loads and saves the complete call history.
type Store interface {
	// Load returns every item, most recent first. An empty store returns an
	// empty slice and no error.
	Load(ctx context.Context) ([]types.CallHistoryItem, error)

	// Save replaces the stored history with items.
	Save(ctx context.Context, items []types.CallHistoryItem) error
}

// Find returns the item with id, or [ErrNotFound].
func Find(items []types.CallHistoryItem, id string) (types.CallHistoryItem, error) {
	i := slices.IndexFunc(items, func(it types.CallHistoryItem) bool { return it.ID == id })
	if i < 0 {
		return types.CallHistoryItem{}, ErrNotFound
	}
	return items[i], nil
}

// ── MemStore ─────────────────────────────────────────────────────────────────

// MemStore keeps the history in memory. Safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex
	items []types.CallHistoryItem
	saves int
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates a MemStore seeded with items.
func NewMemStore(items ...types.CallHistoryItem) *MemStore {
	return &MemStore{items: slices.Clone(items)}
}

// Load returns a copy of the stored items.
func (s *MemStore) Load(_ context.Context) ([]types.CallHistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.items)
	if out == nil {
		out = []types.CallHistoryItem{}
	}
	return out, nil
}

// Save replaces the stored items with a copy of items.
func (s *MemStore) Save(_ context.Context, items []types.CallHistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = slices.Clone(items)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
