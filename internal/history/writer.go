package history

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/types"
)

// flushTimeout bounds the final save performed when [Writer.Run] stops.
const flushTimeout = 5 * time.Second

// Writer saves history snapshots on a background goroutine. Snapshots
// submitted while a save is running are coalesced: only the newest one is
// written next.
type Writer struct {
	store Store
	wake  chan struct{}

	// saveMu is held for the duration of each save.
	saveMu sync.Mutex

	mu     sync.Mutex
	latest []types.CallHistoryItem
	dirty  bool
}

// NewWriter creates a Writer for store. Call [Writer.Run] to start it.
func NewWriter(store Store) *Writer {
	return &Writer{store: store, wake: make(chan struct{}, 1)}
}

// Submit queues items to be saved. It never blocks.
func (w *Writer) Submit(items []types.CallHistoryItem) {
	w.mu.Lock()
	w.latest = slices.Clone(items)
	w.dirty = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Replace makes items the pending snapshot once any save in progress has
// finished. fn runs in between, before any further save can start, so a
// snapshot taken before Replace is never written after fn.
func (w *Writer) Replace(items []types.CallHistoryItem, fn func()) {
	w.saveMu.Lock()
	if fn != nil {
		fn()
	}
	w.mu.Lock()
	w.latest = slices.Clone(items)
	w.dirty = true
	w.mu.Unlock()
	w.saveMu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run saves submitted snapshots until ctx is cancelled, then flushes the last
// pending snapshot and returns nil.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			w.Flush(fctx)
			cancel()
			return nil
		case <-w.wake:
			w.Flush(ctx)
		}
	}
}

// Flush synchronously saves the pending snapshot, if any.
func (w *Writer) Flush(ctx context.Context) {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	items := w.latest
	w.dirty = false
	w.mu.Unlock()

	if err := w.store.Save(ctx, items); err != nil {
		slog.Warn("history writer: save failed", "items", len(items), "err", err)
	}
}
