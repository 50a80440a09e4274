// Package mentatsync defines the storage contract for a per-user,
// append-only chain of transactions referencing content-addressed chunks.
//
// Clients upload chunk payloads, assemble them into ordered transactions
// extending a per-user chain of pending transactions, and finally advance
// the user's committed head to promote a pending chain to the committed
// history. Other clients pull the committed history forward from their
// last-known transaction.
//
// The committed history is strictly linear. Concurrent writers race on
// optimistic-concurrency terms: at most one pending chain may hang off any
// committed transaction, and a commit is valid only if the committed head
// has not moved since the chain was started. Losers get ErrConflict.
//
// Backends implementing Storage live in their own packages: sqlstore is
// the SQL-backed production implementation, inmemory is a reference
// implementation for embedding and tests. rediscache layers a read-through
// cache over another Storage, and s3chunks offloads chunk payloads to an
// S3 bucket.
package mentatsync
