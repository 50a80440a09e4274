package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/internal/storagetest"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "mentatsync.db") +
		"?_journal_mode=WAL&_busy_timeout=5000"
	s, err := New(mentatsync.DatabaseOptions{
		Driver:       "sqlite3",
		DSN:          dsn,
		CreateTables: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) mentatsync.Storage {
		return newTestStorage(t)
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "mentatsync.db") +
		"?_journal_mode=WAL&_busy_timeout=5000"
	opts := mentatsync.DatabaseOptions{Driver: "sqlite3", DSN: dsn, CreateTables: true}

	u := uuid.NewString()
	t1 := uuid.NewString()

	s, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.CreateChunk(ctx, u, "aa", []byte("AY")))
	require.NoError(t, s.CreateTransaction(ctx, u, t1, mentatsync.RootTransaction, []string{"aa"}))
	require.NoError(t, s.SetHead(ctx, u, t1))
	require.NoError(t, s.Close())

	s, err = New(opts)
	require.NoError(t, err)
	defer s.Close()

	head, err := s.GetHead(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, t1, head)
	payload, err := s.GetChunk(ctx, u, "aa")
	require.NoError(t, err)
	assert.Equal(t, []byte("AY"), payload)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(mentatsync.DatabaseOptions{Driver: "postgres", DSN: "whatever"})
	assert.Error(t, err)
}
