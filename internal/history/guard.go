package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/callcoach/pkg/types"
)

// Guard wraps a [Store] so that calls keep running while the history backend
// is unavailable (disk full, database restart). Failures are logged and mark
// the guard as degraded; [Guard.IsDegraded] feeds the readiness probe.
//
// A failed Load leaves the guard unloaded: Load returns an empty history and
// every Save is refused, because the snapshot the caller builds from that
// empty history would replace the records still held by the backend. The
// guard stays degraded and unloaded until [Guard.Resume] is called, which the
// owner of the history does once a [Guard.Reload] has been merged.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
	unloaded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard creates a Guard wrapping store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Load reads the history. On failure an empty history is returned and the
// guard becomes unloaded.
func (g *Guard) Load(ctx context.Context) ([]types.CallHistoryItem, error) {
	items, err := g.Reload(ctx)
	if err != nil {
		g.unloaded.Store(true)
		slog.Warn("history guard: load failed, starting with empty history and refusing saves", "err", err)
		return []types.CallHistoryItem{}, nil
	}
	g.Resume()
	return items, nil
}

// Reload reads the history and returns the store's error. It does not lift
// the save refusal; the caller merges the result into its own history first
// and then calls [Guard.Resume].
func (g *Guard) Reload(ctx context.Context) ([]types.CallHistoryItem, error) {
	items, err := g.store.Load(ctx)
	if err != nil {
		g.degraded.Store(true)
		return nil, fmt.Errorf("history: load: %w", err)
	}
	if items == nil {
		items = []types.CallHistoryItem{}
	}
	return items, nil
}

// Resume accepts saves again after a failed load.
func (g *Guard) Resume() {
	g.unloaded.Store(false)
	g.degraded.Store(false)
}

// Save writes the history. Errors are logged and swallowed. While the guard
// is unloaded nothing is written.
func (g *Guard) Save(ctx context.Context, items []types.CallHistoryItem) error {
	if g.unloaded.Load() {
		g.degraded.Store(true)
		slog.Warn("history guard: history not loaded, refusing save", "items", len(items))
		return nil
	}
	if err := g.store.Save(ctx, items); err != nil {
		g.degraded.Store(true)
		slog.Warn("history guard: save failed, swallowing error", "items", len(items), "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Unloaded reports whether the last load failed and no reload has succeeded
// since.
func (g *Guard) Unloaded() bool {
	return g.unloaded.Load()
}

// IsDegraded reports whether the most recent operation on the underlying
// store failed or a save was refused.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
