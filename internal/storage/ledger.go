package storage

import (
	"context"
	"fmt"

	"offerwatch/internal/ledger"
)

const (
	listSentKeysSQL = `SELECT key FROM sent_notifications;`

	insertSentKeysSQL = `INSERT INTO sent_notifications (key)
    SELECT unnest($1::text[])
    ON CONFLICT (key) DO NOTHING;`
)

// LedgerStore adapts Store to ledger.Store. Keys are only ever inserted.
type LedgerStore struct {
	store *Store
}

// Ledger returns the ledger backend view of the store.
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{store: s}
}

// Load returns every key recorded so far.
func (l *LedgerStore) Load(ctx context.Context) ([]string, error) {
	pool, err := l.store.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSentKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("list sent notifications: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

// Save inserts keys in a single statement; existing keys are left untouched.
func (l *LedgerStore) Save(ctx context.Context, keys []string) error {
	pool, err := l.store.getPool()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := pool.Exec(ctx, insertSentKeysSQL, keys); err != nil {
		return fmt.Errorf("insert sent notifications: %w", err)
	}
	return nil
}

var _ ledger.Store = (*LedgerStore)(nil)
