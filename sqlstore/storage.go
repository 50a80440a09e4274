package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mentatsync/mentatsync"
)

// Storage implements mentatsync.Storage against a SQL database.
type Storage struct {
	dbc *dbConnector
}

var _ mentatsync.Storage = (*Storage)(nil)

// New opens (and optionally initializes) the database described by opts
// and returns the storage facade over it.
func New(opts mentatsync.DatabaseOptions) (*Storage, error) {
	dbc, err := newDBConnector(opts)
	if err != nil {
		return nil, err
	}
	return &Storage{dbc: dbc}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.dbc.close()
}

// Reset discards all transactions and their chunk membership rows for the
// user. Chunk payloads stay behind; orphan collection is an external
// concern.
func (s *Storage) Reset(ctx context.Context, userid string) error {
	return s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		if _, err := ses.exec(ctx, s.dbc.queries.deleteAllTransactionChunks, userid); err != nil {
			return err
		}
		_, err := ses.exec(ctx, s.dbc.queries.deleteAllTransactions, userid)
		return err
	})
}

// GetHead returns the committed transaction with the largest seq, or
// RootTransaction when nothing is committed.
func (s *Storage) GetHead(ctx context.Context, userid string) (string, error) {
	head := mentatsync.RootTransaction
	err := s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		h, err := ses.queryString(ctx, s.dbc.queries.getHead, userid)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		head = h
		return nil
	})
	return head, err
}

// SetHead promotes the pending chain ending at trnid in a single
// conditional UPDATE. Zero affected rows means trnid is missing, is not a
// pending leaf, or the committed head moved since the chain started; all
// of those are ErrConflict.
func (s *Storage) SetHead(ctx context.Context, userid, trnid string) error {
	return s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		n, err := ses.exec(ctx, s.dbc.queries.commitPendingChain,
			userid, trnid, userid, mentatsync.RootTransaction)
		if err != nil {
			return err
		}
		if n == 0 {
			return mentatsync.ErrConflict
		}
		return nil
	})
}

// CreateTransaction inserts a pending transaction and its ordered chunk
// references atomically.
func (s *Storage) CreateTransaction(ctx context.Context, userid, trnid, parent string, chunks []string) error {
	q := s.dbc.queries
	return s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		if parent == mentatsync.RootTransaction {
			n, err := ses.exec(ctx, q.createPendingFromRoot,
				userid, trnid, mentatsync.RootTransaction,
				mentatsync.RootTransaction, trnid,
				userid, mentatsync.RootTransaction)
			if err != nil {
				if isDuplicateKey(err) {
					return mentatsync.ErrConflict
				}
				return err
			}
			if n == 0 {
				// ROOT already has a pending descendant.
				return mentatsync.ErrConflict
			}
		} else {
			n, err := ses.exec(ctx, q.createPending,
				userid, trnid, trnid, parent,
				userid, parent, parent)
			if err != nil {
				if isDuplicateKey(err) {
					return mentatsync.ErrConflict
				}
				return err
			}
			if n == 0 {
				// Either parent doesn't exist, or it already has a
				// pending descendant. We could differentiate, but both
				// are conflicts to the caller.
				return mentatsync.ErrConflict
			}
			n, err = ses.exec(ctx, q.bumpPendingAncestors, trnid, userid, parent)
			if err != nil {
				return err
			}
			if n == 0 {
				// The insert above just matched a parent row with
				// next_head = parent, so at least that row must bump.
				return &mentatsync.ProgrammingError{
					Msg: "pending ancestor update affected no rows",
				}
			}
		}
		for idx, chunk := range chunks {
			n, err := ses.exec(ctx, q.addTransactionChunk,
				userid, trnid, idx, userid, chunk)
			if err != nil {
				return err
			}
			if n == 0 {
				return mentatsync.ErrChunkNotFound
			}
		}
		return nil
	})
}

// GetTransaction returns a transaction's metadata and ordered chunk list,
// pending or committed indifferently.
func (s *Storage) GetTransaction(ctx context.Context, userid, trnid string) (mentatsync.TransactionRecord, error) {
	var rec mentatsync.TransactionRecord
	err := s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		row := ses.tx.QueryRowContext(ctx, s.dbc.queries.getTransaction, userid, trnid)
		if err := row.Scan(&rec.ID, &rec.Parent, &rec.Seq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return mentatsync.ErrTransactionNotFound
			}
			return err
		}
		chunks, err := ses.queryStrings(ctx, s.dbc.queries.getTransactionChunks, userid, trnid)
		if err != nil {
			return err
		}
		rec.Chunks = chunks
		return nil
	})
	if err != nil {
		return mentatsync.TransactionRecord{}, err
	}
	return rec, nil
}

// GetTransactions lists committed transaction ids in ascending seq order,
// strictly after from, up to limit entries.
func (s *Storage) GetTransactions(ctx context.Context, userid, from string, limit int) ([]string, error) {
	var trns []string
	err := s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		if from == mentatsync.RootTransaction {
			out, err := ses.queryStrings(ctx, s.dbc.queries.getTransactionsFromRoot, userid, limit)
			if err != nil {
				return err
			}
			trns = out
			return nil
		}
		// The range query starts at from itself; verifying the first
		// returned id equals from proves from is committed for this user.
		out, err := ses.queryStrings(ctx, s.dbc.queries.getTransactions,
			userid, userid, from, limit+1)
		if err != nil {
			return err
		}
		if len(out) == 0 || out[0] != from {
			return &mentatsync.ProgrammingError{
				Msg: "listing transactions from an uncommitted transaction",
			}
		}
		trns = out[1:]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trns, nil
}

// CreateChunk stores the payload under (userid, chunkid). Duplicate chunk
// ids are ignored; the first stored payload wins.
func (s *Storage) CreateChunk(ctx context.Context, userid, chunkid string, payload []byte) error {
	if payload == nil {
		// A nil slice would bind as SQL NULL; the column is NOT NULL.
		payload = []byte{}
	}
	return s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		_, err := ses.exec(ctx, s.dbc.queries.createChunk, userid, chunkid, payload)
		return err
	})
}

// GetChunk returns the payload stored under (userid, chunkid).
func (s *Storage) GetChunk(ctx context.Context, userid, chunkid string) ([]byte, error) {
	var payload []byte
	err := s.dbc.withSession(ctx, func(ctx context.Context, ses *session) error {
		row := ses.tx.QueryRowContext(ctx, s.dbc.queries.getChunkPayload, userid, chunkid)
		if err := row.Scan(&payload); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return mentatsync.ErrChunkNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}
