package mentatsync

import (
	"errors"
	"fmt"
)

// Error taxonomy of the storage contract. The HTTP surface maps these to
// status codes (404 / 409 / 500); backends classify engine errors into
// BackendError and surface everything else as one of the sentinels below.
var (
	// ErrNotFound is the base of the not-found family. errors.Is against
	// it matches both ErrTransactionNotFound and ErrChunkNotFound.
	ErrNotFound = errors.New("not found")

	// ErrTransactionNotFound signals a lookup of a missing transaction.
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	// ErrChunkNotFound signals a lookup of a missing chunk, including a
	// missing chunk referenced while building a transaction.
	ErrChunkNotFound = fmt.Errorf("chunk %w", ErrNotFound)

	// ErrConflict signals an optimistic-concurrency failure: duplicate
	// transaction id, parent missing or not a pending leaf, or the
	// committed head moved out from under a commit.
	ErrConflict = errors.New("conflict")
)

// BackendError wraps an operational storage-engine failure that survived
// the retry budget. The original cause is preserved for logging; callers
// should treat the operation's outcome as unknown.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %v", e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ProgrammingError signals an invariant breach that is impossible under a
// correct client, e.g. listing committed transactions from an uncommitted
// starting point. It is surfaced loudly and never retried.
type ProgrammingError struct {
	Msg string
}

func (e *ProgrammingError) Error() string {
	return "programming error: " + e.Msg
}
