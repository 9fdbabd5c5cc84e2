// Package ledger keeps the set of notifications already delivered so that each
// offer/channel/identity combination is notified at most once.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Store persists the ledger as a whole snapshot. Save must never drop keys that Load returned.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, keys []string) error
}

// Key builds the composite ledger key.
func Key(offerID, channel, identity string) string {
	return fmt.Sprintf("%s:%s:%s", offerID, channel, identity)
}

// Ledger is an append-only key set. It is not safe for concurrent use.
type Ledger struct {
	keys  map[string]struct{}
	dirty bool
}

// New returns a ledger seeded with keys.
func New(keys []string) *Ledger {
	l := &Ledger{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		l.keys[k] = struct{}{}
	}
	return l
}

// Has reports whether key was already marked.
func (l *Ledger) Has(key string) bool {
	_, ok := l.keys[key]
	return ok
}

// Mark adds key and reports whether it was new.
func (l *Ledger) Mark(key string) bool {
	if l.Has(key) {
		return false
	}
	l.keys[key] = struct{}{}
	l.dirty = true
	return true
}

// Dirty reports whether keys were added since the ledger was loaded.
func (l *Ledger) Dirty() bool {
	return l.dirty
}

// Len returns the number of keys.
func (l *Ledger) Len() int {
	return len(l.keys)
}

// Keys returns all keys sorted.
func (l *Ledger) Keys() []string {
	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load reads the ledger from store. A missing or unreadable ledger is a cold start, never an error.
func Load(ctx context.Context, store Store, logger zerolog.Logger) *Ledger {
	if store == nil {
		return New(nil)
	}
	keys, err := store.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("ledger unreadable; starting with an empty ledger")
		return New(nil)
	}
	return New(keys)
}

// Save persists the full key set.
func Save(ctx context.Context, store Store, l *Ledger) error {
	if store == nil {
		return nil
	}
	if err := store.Save(ctx, l.Keys()); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	l.dirty = false
	return nil
}
