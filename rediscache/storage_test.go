package rediscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/inmemory"
	"github.com/mentatsync/mentatsync/internal/storagetest"
)

// mockCache is an in-process stand-in for Redis. With fail set, every
// call errors, exercising the degraded path.
type mockCache struct {
	mu   sync.Mutex
	kv   map[string]string
	fail bool
}

func newMockCache() *mockCache {
	return &mockCache{kv: make(map[string]string)}
}

var errCacheDown = errors.New("cache down")

func (m *mockCache) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, "", errCacheDown
	}
	v, ok := m.kv[key]
	return ok, v, nil
}

func (m *mockCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errCacheDown
	}
	m.kv[key] = value
	return nil
}

func (m *mockCache) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errCacheDown
	}
	n := int64(1)
	if v, ok := m.kv[key]; ok {
		var cur int64
		for _, r := range v {
			cur = cur*10 + int64(r-'0')
		}
		n = cur + 1
	}
	m.kv[key] = itoa(n)
	return n, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) mentatsync.Storage {
		return NewWithCache(inmemory.New(), newMockCache(), DefaultOptions())
	})
}

func TestReadThroughServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.New()
	store := NewWithCache(inner, newMockCache(), DefaultOptions())

	u := uuid.NewString()
	t1 := uuid.NewString()
	require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))
	require.NoError(t, store.CreateTransaction(ctx, u, t1, mentatsync.RootTransaction, []string{"aa"}))

	// Fill the cache.
	rec, err := store.GetTransaction(ctx, u, t1)
	require.NoError(t, err)
	_, err = store.GetChunk(ctx, u, "aa")
	require.NoError(t, err)

	// Clear the inner storage behind the wrapper's back: reads must now
	// come from the cache.
	require.NoError(t, inner.Reset(ctx, u))
	cached, err := store.GetTransaction(ctx, u, t1)
	require.NoError(t, err)
	assert.Equal(t, rec, cached)
}

func TestDegradesWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	cache := newMockCache()
	cache.fail = true
	store := NewWithCache(inmemory.New(), cache, DefaultOptions())

	u := uuid.NewString()
	t1 := uuid.NewString()
	require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))
	require.NoError(t, store.CreateTransaction(ctx, u, t1, mentatsync.RootTransaction, []string{"aa"}))

	rec, err := store.GetTransaction(ctx, u, t1)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa"}, rec.Chunks)

	payload, err := store.GetChunk(ctx, u, "aa")
	require.NoError(t, err)
	assert.Equal(t, []byte("AY"), payload)
}

func TestResetInvalidatesCachedEntries(t *testing.T) {
	ctx := context.Background()
	store := NewWithCache(inmemory.New(), newMockCache(), DefaultOptions())

	u := uuid.NewString()
	t1 := uuid.NewString()
	require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))
	require.NoError(t, store.CreateTransaction(ctx, u, t1, mentatsync.RootTransaction, []string{"aa"}))
	_, err := store.GetTransaction(ctx, u, t1)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, u))
	_, err = store.GetTransaction(ctx, u, t1)
	assert.ErrorIs(t, err, mentatsync.ErrTransactionNotFound)
}

func TestResetFailsWhenInvalidationFails(t *testing.T) {
	ctx := context.Background()
	cache := newMockCache()
	store := NewWithCache(inmemory.New(), cache, DefaultOptions())

	u := uuid.NewString()
	require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))

	cache.fail = true
	err := store.Reset(ctx, u)
	var be *mentatsync.BackendError
	assert.ErrorAs(t, err, &be)
}
