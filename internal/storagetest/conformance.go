// Package storagetest holds the conformance suite every storage backend
// must pass. The wrappers (cache, chunk offload) run it too, proving they
// preserve the contract of whatever they decorate.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentatsync/mentatsync"
)

// Factory returns a fresh, empty storage for one subtest.
type Factory func(t *testing.T) mentatsync.Storage

const root = mentatsync.RootTransaction

// Run exercises the storage contract end to end against the backend the
// factory produces.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("EmptyHead", func(t *testing.T) {
		store := factory(t)
		head, err := store.GetHead(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, root, head)
	})

	t.Run("ChunkRoundTrip", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))
		payload, err := store.GetChunk(ctx, u, "aa")
		require.NoError(t, err)
		assert.Equal(t, []byte("AY"), payload)
	})

	t.Run("ChunkNotFound", func(t *testing.T) {
		store := factory(t)
		_, err := store.GetChunk(ctx, uuid.NewString(), "nope")
		assert.ErrorIs(t, err, mentatsync.ErrChunkNotFound)
		assert.ErrorIs(t, err, mentatsync.ErrNotFound)
	})

	t.Run("DuplicateChunkKeepsFirstPayload", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("first")))
		require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("second")))
		payload, err := store.GetChunk(ctx, u, "aa")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), payload)
	})

	t.Run("HappyPathTwoCommits", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1, t2 := uuid.NewString(), uuid.NewString()

		require.NoError(t, store.CreateChunk(ctx, u, "aa", []byte("AY")))
		require.NoError(t, store.CreateChunk(ctx, u, "bb", []byte("BE")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"bb", "aa"}))
		require.NoError(t, store.CreateChunk(ctx, u, "cc", []byte("SI")))
		require.NoError(t, store.CreateTransaction(ctx, u, t2, t1, []string{"cc"}))
		require.NoError(t, store.SetHead(ctx, u, t2))

		head, err := store.GetHead(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, t2, head)

		trns, err := store.GetTransactions(ctx, u, root, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{t1, t2}, trns)

		trns, err = store.GetTransactions(ctx, u, t1, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{t2}, trns)

		rec, err := store.GetTransaction(ctx, u, t1)
		require.NoError(t, err)
		assert.Equal(t, t1, rec.ID)
		assert.Equal(t, root, rec.Parent)
		assert.Equal(t, int64(1), rec.Seq)
		assert.Equal(t, []string{"bb", "aa"}, rec.Chunks)

		payload, err := store.GetChunk(ctx, u, "bb")
		require.NoError(t, err)
		assert.Equal(t, []byte("BE"), payload)
	})

	t.Run("ConflictingSiblingFromRoot", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1, t2 := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		err := store.CreateTransaction(ctx, u, t2, root, []string{"xx"})
		assert.ErrorIs(t, err, mentatsync.ErrConflict)
	})

	t.Run("ConflictingSiblingUnderParent", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1, t2, t3 := uuid.NewString(), uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		require.NoError(t, store.CreateTransaction(ctx, u, t2, t1, []string{"xx"}))
		err := store.CreateTransaction(ctx, u, t3, t1, []string{"xx"})
		assert.ErrorIs(t, err, mentatsync.ErrConflict)
	})

	t.Run("SkipTheLeafCommitRejected", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1, t2 := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		require.NoError(t, store.CreateTransaction(ctx, u, t2, t1, []string{"xx"}))
		assert.ErrorIs(t, store.SetHead(ctx, u, t1), mentatsync.ErrConflict)
	})

	t.Run("MultiStepCommit", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()}
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		parent := root
		for _, trnid := range ids {
			require.NoError(t, store.CreateTransaction(ctx, u, trnid, parent, []string{"xx"}))
			parent = trnid
		}
		require.NoError(t, store.SetHead(ctx, u, ids[3]))

		head, err := store.GetHead(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, ids[3], head)

		trns, err := store.GetTransactions(ctx, u, root, 100)
		require.NoError(t, err)
		assert.Equal(t, ids, trns)

		for i, trnid := range ids {
			rec, err := store.GetTransaction(ctx, u, trnid)
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), rec.Seq)
		}
	})

	t.Run("MissingChunk", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		err := store.CreateTransaction(ctx, u, uuid.NewString(), root, []string{"no-such"})
		assert.ErrorIs(t, err, mentatsync.ErrChunkNotFound)
		// The failed insert must not leave a pending chain behind.
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		assert.NoError(t, store.CreateTransaction(ctx, u, uuid.NewString(), root, []string{"xx"}))
	})

	t.Run("MissingParent", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		err := store.CreateTransaction(ctx, u, uuid.NewString(), uuid.NewString(), []string{"xx"})
		assert.ErrorIs(t, err, mentatsync.ErrConflict)
	})

	t.Run("DuplicateTransactionID", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1, t2 := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		require.NoError(t, store.CreateTransaction(ctx, u, t2, t1, []string{"xx"}))
		// Same id again, even as a child of the pending leaf, conflicts.
		err := store.CreateTransaction(ctx, u, t1, t2, []string{"xx"})
		assert.ErrorIs(t, err, mentatsync.ErrConflict)
	})

	t.Run("StaleBranchCommitRejected", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		tA, tB := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, tA, root, []string{"xx"}))
		require.NoError(t, store.SetHead(ctx, u, tA))
		// A new branch from ROOT is insertable now that tA's chain is
		// committed, but its frontier is stale so it can never commit.
		require.NoError(t, store.CreateTransaction(ctx, u, tB, root, []string{"xx"}))
		assert.ErrorIs(t, store.SetHead(ctx, u, tB), mentatsync.ErrConflict)
		head, err := store.GetHead(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, tA, head)
	})

	t.Run("RecommitHeadRejected", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1 := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		require.NoError(t, store.SetHead(ctx, u, t1))
		assert.ErrorIs(t, store.SetHead(ctx, u, t1), mentatsync.ErrConflict)
	})

	t.Run("GetTransactionsPaging", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()}
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		parent := root
		for _, trnid := range ids {
			require.NoError(t, store.CreateTransaction(ctx, u, trnid, parent, []string{"xx"}))
			parent = trnid
		}
		require.NoError(t, store.SetHead(ctx, u, ids[3]))

		trns, err := store.GetTransactions(ctx, u, root, 2)
		require.NoError(t, err)
		assert.Equal(t, ids[:2], trns)

		trns, err = store.GetTransactions(ctx, u, ids[1], 2)
		require.NoError(t, err)
		assert.Equal(t, ids[2:], trns)

		trns, err = store.GetTransactions(ctx, u, ids[3], 100)
		require.NoError(t, err)
		assert.Empty(t, trns)
	})

	t.Run("GetTransactionsFromPending", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1 := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		_, err := store.GetTransactions(ctx, u, t1, 100)
		var pe *mentatsync.ProgrammingError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		store := factory(t)
		_, err := store.GetTransaction(ctx, uuid.NewString(), uuid.NewString())
		assert.ErrorIs(t, err, mentatsync.ErrTransactionNotFound)
	})

	t.Run("PendingTransactionReadable", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1 := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, nil))
		rec, err := store.GetTransaction(ctx, u, t1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Seq)
		assert.Empty(t, rec.Chunks)
	})

	t.Run("Reset", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		t1 := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u, t1, root, []string{"xx"}))
		require.NoError(t, store.SetHead(ctx, u, t1))
		require.NoError(t, store.Reset(ctx, u))

		head, err := store.GetHead(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, root, head)
		_, err = store.GetTransaction(ctx, u, t1)
		assert.ErrorIs(t, err, mentatsync.ErrTransactionNotFound)
		// The history restarts from scratch.
		t2 := uuid.NewString()
		require.NoError(t, store.CreateTransaction(ctx, u, t2, root, []string{"xx"}))
		require.NoError(t, store.SetHead(ctx, u, t2))
	})

	t.Run("UsersAreDisjoint", func(t *testing.T) {
		store := factory(t)
		u1, u2 := uuid.NewString(), uuid.NewString()
		t1 := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u1, "xx", []byte("x")))
		require.NoError(t, store.CreateTransaction(ctx, u1, t1, root, []string{"xx"}))

		// u2 sees neither the chunk nor the transaction.
		_, err := store.GetChunk(ctx, u2, "xx")
		assert.ErrorIs(t, err, mentatsync.ErrChunkNotFound)
		err = store.CreateTransaction(ctx, u2, uuid.NewString(), root, []string{"xx"})
		assert.ErrorIs(t, err, mentatsync.ErrChunkNotFound)

		require.NoError(t, store.SetHead(ctx, u1, t1))
		head, err := store.GetHead(ctx, u2)
		require.NoError(t, err)
		assert.Equal(t, root, head)
	})

	t.Run("ConcurrentSiblingCreates", func(t *testing.T) {
		store := factory(t)
		u := uuid.NewString()
		require.NoError(t, store.CreateChunk(ctx, u, "xx", []byte("x")))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.CreateTransaction(ctx, u, uuid.NewString(), root, []string{"xx"})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, mentatsync.ErrConflict)
			}
		}
		assert.Equal(t, 1, wins, "exactly one sibling create may win")
	})
}
