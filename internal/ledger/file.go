package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"offerwatch/internal/fsutil"
)

// sentinel is the value stored for every key in the ledger file.
const sentinel = 1

// FileStore keeps the ledger as a JSON object mapping each key to 1.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file yields an empty key set.
func (s *FileStore) Load(_ context.Context) ([]string, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var entries map[string]int
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger file: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Save replaces the ledger file atomically via a temp file and rename.
func (s *FileStore) Save(_ context.Context, keys []string) error {
	entries := make(map[string]int, len(keys))
	for _, k := range keys {
		entries[k] = sentinel
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, payload, 0o644)
}

var _ Store = (*FileStore)(nil)
