package s3chunks

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/inmemory"
	"github.com/mentatsync/mentatsync/internal/storagetest"
)

// mockObjectStore is an in-process stand-in for the S3 bucket.
type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Put(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), payload...)
	return nil
}

func (m *mockObjectStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.objects[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) mentatsync.Storage {
		return NewWithObjectStore(inmemory.New(), newMockObjectStore())
	})
}

func TestPayloadLivesInBucket(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.New()
	objects := newMockObjectStore()
	store := NewWithObjectStore(inner, objects)

	u := uuid.NewString()
	require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))

	// The bucket has the bytes; the inner row is just a marker.
	payload, found, err := objects.Get(ctx, u+"/aa")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("AY"), payload)

	marker, err := inner.GetChunk(ctx, u, "aa")
	require.NoError(t, err)
	assert.Empty(t, marker)

	// And the graph's chunk-existence check still works off the marker.
	t1 := uuid.NewString()
	require.NoError(t, store.CreateTransaction(ctx, u, t1, mentatsync.RootTransaction, []string{"aa"}))
}

func TestMissingObjectIsBackendError(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.New()
	store := NewWithObjectStore(inner, newMockObjectStore())

	u := uuid.NewString()
	// An existence row without a bucket object means the two stores have
	// diverged; that's an engine fault, not a missing chunk.
	require.NoError(t, inner.CreateChunk(ctx, u, "aa", []byte{}))
	_, err := store.GetChunk(ctx, u, "aa")
	var be *mentatsync.BackendError
	assert.ErrorAs(t, err, &be)
}
