package mentatsync

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RootTransaction is the sentinel transaction id representing the empty
// history. It is the conceptual parent of the first transaction of every
// user and is what GetHead returns when nothing has been committed yet.
const RootTransaction = "00000000-0000-0000-0000-000000000000"

// DefaultTransactionLimit is the page size used by callers of
// GetTransactions that do not specify their own limit.
const DefaultTransactionLimit = 100

var chunkIDRegex = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// ValidTrnID reports whether id is a well-formed transaction (or user) id:
// a 36-character lowercase hex-and-dash UUID.
func ValidTrnID(id string) bool {
	if len(id) != 36 || id != strings.ToLower(id) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidChunkID reports whether id is a well-formed chunk id.
func ValidChunkID(id string) bool {
	return chunkIDRegex.MatchString(id)
}

// TransactionRecord is the metadata of a single transaction, pending or
// committed, as returned by Storage.GetTransaction.
type TransactionRecord struct {
	// ID is the transaction's id.
	ID string `json:"id"`
	// Parent is the id of the transaction this one extends, or
	// RootTransaction if it extends the empty history.
	Parent string `json:"parent"`
	// Seq is the position this transaction occupies (or would occupy)
	// in the committed history, starting at 1.
	Seq int64 `json:"seq"`
	// Chunks lists the transaction's chunk ids in upload order.
	Chunks []string `json:"chunks"`
}

// Storage is the capability set exposed by every MentatSync backend.
// Distinct userids are disjoint namespaces. Every operation applies
// atomically: either all of its effects become visible or none do.
type Storage interface {
	// Reset discards all transactions (and their chunk membership rows)
	// for the given user. Chunk payloads may be left behind for an
	// external garbage collector. After Reset, GetHead returns
	// RootTransaction.
	Reset(ctx context.Context, userid string) error

	// GetHead returns the id of the committed transaction with the
	// largest seq, or RootTransaction if nothing is committed.
	GetHead(ctx context.Context, userid string) (string, error)

	// SetHead promotes the pending chain ending at trnid to committed,
	// making trnid the new head. It fails with ErrConflict unless trnid
	// is a pending leaf whose chain hangs off the current committed head.
	SetHead(ctx context.Context, userid, trnid string) error

	// CreateTransaction inserts a pending transaction extending parent
	// (which may be RootTransaction) with the given ordered chunk list.
	// It fails with ErrConflict if trnid already exists, if parent does
	// not exist, or if parent already has a pending descendant; and with
	// ErrChunkNotFound if any referenced chunk is missing.
	CreateTransaction(ctx context.Context, userid, trnid, parent string, chunks []string) error

	// GetTransaction returns the metadata and ordered chunk list of a
	// transaction, pending or committed. Fails with ErrTransactionNotFound.
	GetTransaction(ctx context.Context, userid, trnid string) (TransactionRecord, error)

	// GetTransactions returns up to limit committed transaction ids in
	// ascending seq order, starting strictly after from. With
	// from == RootTransaction the listing starts at seq 1. Querying from
	// a transaction that is not committed for this user is a programming
	// error and fails with a ProgrammingError.
	GetTransactions(ctx context.Context, userid, from string, limit int) ([]string, error)

	// CreateChunk stores an opaque payload under (userid, chunkid).
	// Re-uploading an existing chunk id is a no-op; the stored payload
	// is never clobbered.
	CreateChunk(ctx context.Context, userid, chunkid string, payload []byte) error

	// GetChunk returns the payload stored under (userid, chunkid).
	// Fails with ErrChunkNotFound.
	GetChunk(ctx context.Context, userid, chunkid string) ([]byte, error)
}
