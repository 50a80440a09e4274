// Package inmemory implements the MentatSync storage contract over plain
// in-process maps. It exists for embedding, local development and as the
// reference implementation the wrapper packages are tested against; it
// enforces the same conflict taxonomy as the SQL backend.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/mentatsync/mentatsync"
)

type transaction struct {
	parent    string
	committed bool
	seq       int64
	prevHead  string
	nextHead  string
	chunks    []string
}

type userSpace struct {
	trns   map[string]*transaction
	chunks map[string][]byte
}

// Storage is an in-memory mentatsync.Storage. The zero value is not
// usable; construct with New.
type Storage struct {
	mu    sync.RWMutex
	users map[string]*userSpace
}

var _ mentatsync.Storage = (*Storage)(nil)

// New returns an empty in-memory storage.
func New() *Storage {
	return &Storage{users: make(map[string]*userSpace)}
}

func (s *Storage) user(userid string) *userSpace {
	u, ok := s.users[userid]
	if !ok {
		u = &userSpace{
			trns:   make(map[string]*transaction),
			chunks: make(map[string][]byte),
		}
		s.users[userid] = u
	}
	return u
}

// head returns the committed transaction id with the largest seq, or ROOT.
func (u *userSpace) head() string {
	head := mentatsync.RootTransaction
	var headSeq int64
	for trnid, t := range u.trns {
		if t.committed && t.seq > headSeq {
			head = trnid
			headSeq = t.seq
		}
	}
	return head
}

// Reset discards the user's transactions. Chunks stay behind, as in the
// SQL backend.
func (s *Storage) Reset(ctx context.Context, userid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userid]; ok {
		u.trns = make(map[string]*transaction)
	}
	return nil
}

func (s *Storage) GetHead(ctx context.Context, userid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userid]
	if !ok {
		return mentatsync.RootTransaction, nil
	}
	return u.head(), nil
}

func (s *Storage) SetHead(ctx context.Context, userid, trnid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userid)
	head := u.head()
	// Commit every transaction of the pending chain ending at trnid,
	// provided the chain still hangs off the current head.
	chain := make([]*transaction, 0)
	for _, t := range u.trns {
		if t.nextHead == trnid && t.prevHead == head {
			chain = append(chain, t)
		}
	}
	if len(chain) == 0 {
		return mentatsync.ErrConflict
	}
	for _, t := range chain {
		t.committed = true
	}
	return nil
}

func (s *Storage) CreateTransaction(ctx context.Context, userid, trnid, parent string, chunks []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userid)

	if _, exists := u.trns[trnid]; exists {
		return mentatsync.ErrConflict
	}
	for _, chunk := range chunks {
		if _, ok := u.chunks[chunk]; !ok {
			return mentatsync.ErrChunkNotFound
		}
	}

	t := &transaction{
		parent:   parent,
		nextHead: trnid,
		chunks:   append([]string(nil), chunks...),
	}
	if parent == mentatsync.RootTransaction {
		// At most one pending chain may hang off the empty history.
		for _, other := range u.trns {
			if other.parent == mentatsync.RootTransaction && !other.committed {
				return mentatsync.ErrConflict
			}
		}
		t.seq = 1
		t.prevHead = mentatsync.RootTransaction
	} else {
		p, ok := u.trns[parent]
		if !ok || p.nextHead != parent {
			// Missing parent and parent-with-descendant both conflict.
			return mentatsync.ErrConflict
		}
		t.seq = p.seq + 1
		if p.committed {
			t.prevHead = parent
		} else {
			t.prevHead = p.prevHead
		}
		for _, other := range u.trns {
			if other.nextHead == parent {
				other.nextHead = trnid
			}
		}
	}
	u.trns[trnid] = t
	return nil
}

func (s *Storage) GetTransaction(ctx context.Context, userid, trnid string) (mentatsync.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userid]
	if !ok {
		return mentatsync.TransactionRecord{}, mentatsync.ErrTransactionNotFound
	}
	t, ok := u.trns[trnid]
	if !ok {
		return mentatsync.TransactionRecord{}, mentatsync.ErrTransactionNotFound
	}
	return mentatsync.TransactionRecord{
		ID:     trnid,
		Parent: t.parent,
		Seq:    t.seq,
		Chunks: append(make([]string, 0, len(t.chunks)), t.chunks...),
	}, nil
}

func (s *Storage) GetTransactions(ctx context.Context, userid, from string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userid]
	if !ok {
		u = &userSpace{}
	}

	var fromSeq int64
	if from != mentatsync.RootTransaction {
		f, ok := u.trns[from]
		if !ok || !f.committed {
			return nil, &mentatsync.ProgrammingError{
				Msg: "listing transactions from an uncommitted transaction",
			}
		}
		fromSeq = f.seq
	}

	type entry struct {
		trnid string
		seq   int64
	}
	committed := make([]entry, 0)
	for trnid, t := range u.trns {
		if t.committed && t.seq > fromSeq {
			committed = append(committed, entry{trnid, t.seq})
		}
	}
	sort.Slice(committed, func(i, j int) bool {
		return committed[i].seq < committed[j].seq
	})
	if limit < 0 {
		limit = 0
	}
	if limit < len(committed) {
		committed = committed[:limit]
	}
	out := make([]string, 0, len(committed))
	for _, e := range committed {
		out = append(out, e.trnid)
	}
	return out, nil
}

// CreateChunk is an idempotent insert-if-absent; a re-upload never
// clobbers the stored payload.
func (s *Storage) CreateChunk(ctx context.Context, userid, chunkid string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userid)
	if _, exists := u.chunks[chunkid]; exists {
		return nil
	}
	u.chunks[chunkid] = append([]byte(nil), payload...)
	return nil
}

func (s *Storage) GetChunk(ctx context.Context, userid, chunkid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userid]
	if !ok {
		return nil, mentatsync.ErrChunkNotFound
	}
	payload, ok := u.chunks[chunkid]
	if !ok {
		return nil, mentatsync.ErrChunkNotFound
	}
	return append([]byte(nil), payload...), nil
}
