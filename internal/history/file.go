package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/callcoach/pkg/types"
)

// FileStore persists the history as a JSON array in a local file. Writes go
// to a temporary file that is renamed over the target, so a crash never
// leaves a half-written history behind.
//
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore backed by path. The file and its parent
// directory are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the history file. A missing file is an empty history.
func (s *FileStore) Load(_ context.Context) ([]types.CallHistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.CallHistoryItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %q: %w", s.path, err)
	}

	var items []types.CallHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("history: decode %q: %w", s.path, err)
	}
	if items == nil {
		items = []types.CallHistoryItem{}
	}
	return items, nil
}

// Save writes items to the history file, replacing its contents.
func (s *FileStore) Save(ctx context.Context, items []types.CallHistoryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if items == nil {
		items = []types.CallHistoryItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("history: replace %q: %w", s.path, err)
	}
	return nil
}
