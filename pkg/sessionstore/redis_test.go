package sessionstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
)

// setupStore creates a test store backed by miniredis.
func setupStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	keys := sessionkeys.NewManager("rtvoice", "test")
	store := NewRedisStore(client, keys, nil, opts...)
	return store, mr
}

func TestGetNotFound(t *testing.T) {
	store, _ := setupStore(t)
	_, err := store.Get(context.Background(), "rtvoice:test:conversation:missing:session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetGetDelete(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	key := "rtvoice:test:conversation:call-1:session"

	require.NoError(t, store.Set(ctx, key, []byte(`{"a":1}`), 2*time.Hour))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)
	assert.InDelta(t, (2 * time.Hour).Seconds(), mr.TTL(key).Seconds(), 1)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMultiWritesAllEntriesWithOneTTL(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	entries := map[string][]byte{
		"rtvoice:test:conversation:call-1:session": []byte(`{"a":1}`),
		"rtvoice:test:conversation:call-1:context": []byte(`{"b":2}`),
		"rtvoice:test:conversation:call-1:history": []byte(`[]`),
	}
	require.NoError(t, store.SetMulti(ctx, entries, time.Hour))

	for key, want := range entries {
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.InDelta(t, time.Hour.Seconds(), mr.TTL(key).Seconds(), 1)
	}
}

func TestScanIsFiniteAndRestartable(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("rtvoice:test:call:call-1:recording", "x")
	mr.Set("rtvoice:test:call:call-1:transfer", "y")
	mr.Set("rtvoice:test:call:call-2:recording", "z")

	keys, err := store.Scan(ctx, "rtvoice:test:call:call-1:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// A second call starts a fresh enumeration and sees the same set.
	again, err := store.Scan(ctx, "rtvoice:test:call:call-1:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, again)
}

func TestLoadOrMigrateNotFound(t *testing.T) {
	store, _ := setupStore(t)
	_, err := store.LoadOrMigrate(context.Background(), "call-42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadOrMigrateStructuredHit(t *testing.T) {
	store, mr := setupStore(t)
	mr.Set("rtvoice:test:conversation:call-42:session", `{"context":{"a":1},"history":[]}`)

	data, err := store.LoadOrMigrate(context.Background(), "call-42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":{"a":1},"history":[]}`, string(data))
}

func TestLoadOrMigrateLegacyKey(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("session:call-42", `{"context":{"a":1}}`)

	data, err := store.LoadOrMigrate(ctx, "call-42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":{"a":1}}`, string(data))

	// Value now lives under the structured key, legacy key is gone.
	structured, err := store.Get(ctx, "rtvoice:test:conversation:call-42:session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":{"a":1}}`, string(structured))
	assert.False(t, mr.Exists("session:call-42"))

	// Structured key got the conversation default TTL.
	assert.Greater(t, mr.TTL("rtvoice:test:conversation:call-42:session"), time.Duration(0))
}

func TestLoadOrMigrateIdempotent(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("session:call-42", `{"context":{"a":1}}`)

	first, err := store.LoadOrMigrate(ctx, "call-42")
	require.NoError(t, err)
	second, err := store.LoadOrMigrate(ctx, "call-42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.False(t, mr.Exists("session:call-42"))
	// The advisory marker does not linger.
	assert.False(t, mr.Exists("rtvoice:test:cache:call-42:migrating"))
}

func TestLoadOrMigrateAlsoMovesLegacyHistory(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("session:call-42", `{"context":{}}`)
	mr.Set("call-42:hist", `[{"role":"user","text":"hi"}]`)

	_, err := store.LoadOrMigrate(ctx, "call-42")
	require.NoError(t, err)

	hist, err := store.Get(ctx, "rtvoice:test:conversation:call-42:history")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","text":"hi"}]`, string(hist))
	assert.False(t, mr.Exists("call-42:hist"))
}

func TestLoadOrMigrateConcurrentCallersMigrateOnce(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("session:call-42", `{"context":{"a":1}}`)

	const callers = 8
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.LoadOrMigrate(ctx, "call-42")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"context":{"a":1}}`, string(results[i]))
	}
	assert.False(t, mr.Exists("session:call-42"))
}

func TestSweepLegacyKeys(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	mr.Set("call:call-7:recording", `{"url":"https://rec"}`)
	mr.Set("call:call-7:transfer", `{"to":"+15550100"}`)
	mr.Set("unrelated", "keep")

	migrated, err := store.SweepLegacyKeys(ctx, "call:*")
	require.NoError(t, err)
	assert.Equal(t, 2, migrated)

	got, err := store.Get(ctx, "rtvoice:test:call:call-7:recording")
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://rec"}`, string(got))
	assert.False(t, mr.Exists("call:call-7:recording"))
	assert.True(t, mr.Exists("unrelated"))
}
