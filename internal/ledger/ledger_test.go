package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkIsIdempotent(t *testing.T) {
	l := New(nil)
	key := Key("offer1", "email", "a@example.com")
	assert.Equal(t, "offer1:email:a@example.com", key)

	assert.True(t, l.Mark(key))
	assert.False(t, l.Mark(key))
	assert.True(t, l.Has(key))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Dirty())
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state", "sent.json"))

	l := Load(ctx, store, zerolog.Nop())
	assert.Equal(t, 0, l.Len())
	l.Mark("a:email:x")
	l.Mark("b:telegram:y")
	require.NoError(t, Save(ctx, store, l))
	assert.False(t, l.Dirty())

	reloaded := Load(ctx, store, zerolog.Nop())
	assert.Equal(t, l.Keys(), reloaded.Keys())

	payload, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"a:email:x": 1`)
}

func TestFileStoreCorruptIsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileStore(path)
	_, err := store.Load(context.Background())
	require.Error(t, err)

	l := Load(context.Background(), store, zerolog.Nop())
	assert.Equal(t, 0, l.Len())
}

func TestFileStoreSaveUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewFileStore(filepath.Join(blocker, "sent.json"))
	l := New([]string{"k"})
	require.Error(t, Save(context.Background(), store, l))
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	store := NewRedisStore(RedisOptions{Addr: mr.Addr(), Key: "test:sent"})
	defer store.Close()

	l := Load(ctx, store, zerolog.Nop())
	assert.Equal(t, 0, l.Len())
	l.Mark("a:email:x")
	l.Mark("b:telegram:y")
	require.NoError(t, Save(ctx, store, l))

	reloaded := Load(ctx, store, zerolog.Nop())
	assert.Equal(t, l.Keys(), reloaded.Keys())

	members, err := mr.Members("test:sent")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}
