// Package sqlstore implements the MentatSync storage contract on top of a
// relational database via database/sql. SQLite and MySQL are supported.
//
// Every facade operation runs inside exactly one engine-level transaction.
// The graph preconditions are fused into the WHERE clauses of conditional
// INSERT/UPDATE statements, so two racing writers cannot both observe a
// precondition as satisfied and then write: the loser's statement affects
// zero rows and the operation fails with ErrConflict.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/sync/semaphore"

	"github.com/mentatsync/mentatsync"
)

// Default pool limits. SQLite gets a single writer connection; see the
// driver notes on write serialization.
const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultMaxWaiters   = 100
	defaultMaxRetries   = 3
)

// errPoolSaturated is returned without queueing when the connection pool
// and its waiter backlog are both full, so a stalled engine cannot wedge
// every caller behind it.
var errPoolSaturated = errors.New("sqlstore: connection pool backlog is full")

// dbConnector owns the connection pool and the per-operation transaction
// plumbing: acquisition gating, retry of known-empty transactions, and
// engine error classification.
type dbConnector struct {
	db         *sql.DB
	queries    queries
	gate       *semaphore.Weighted
	maxRetries uint64
}

func newDBConnector(opts mentatsync.DatabaseOptions) (*dbConnector, error) {
	q, err := queriesFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
		if opts.Driver == driverSQLite {
			// SQLite only supports one writer at a time.
			maxOpen = 1
		}
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
		if maxIdle > maxOpen {
			maxIdle = maxOpen
		}
	}
	maxWaiters := opts.MaxWaiters
	if maxWaiters <= 0 {
		maxWaiters = defaultMaxWaiters
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	c := &dbConnector{
		db:      db,
		queries: q,
		// The gate admits the pool's worth of holders plus a bounded
		// backlog of waiters; anyone past that fails fast.
		gate:       semaphore.NewWeighted(int64(maxOpen + maxWaiters)),
		maxRetries: defaultMaxRetries,
	}

	if opts.CreateTables {
		if err := c.createTables(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *dbConnector) createTables(ctx context.Context) error {
	for _, ddl := range c.queries.schema {
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (c *dbConnector) close() error {
	return c.db.Close()
}

// session is the statement surface handed to operation closures. It tracks
// whether any statement has succeeded yet: once one has, the transaction
// is no longer known to be empty on the server and must not be retried.
type session struct {
	tx    *sql.Tx
	dirty bool
}

// exec runs a statement and returns the number of affected rows.
func (s *session) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	s.dirty = true
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// queryString runs a single-row, single-string-column query.
// Returns sql.ErrNoRows when the row is absent.
func (s *session) queryString(ctx context.Context, query string, args ...any) (string, error) {
	var v string
	err := s.tx.QueryRowContext(ctx, query, args...).Scan(&v)
	if err != nil {
		return "", err
	}
	s.dirty = true
	return v, nil
}

// queryStrings runs a query yielding a single string column and collects
// the values in order.
func (s *session) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.dirty = true
	return out, nil
}

// withSession runs fn inside one engine-level transaction: rollback on
// error, commit on success. Transient engine errors are retried with
// backoff, but only while the transaction is known to be empty on the
// server, preserving at-most-once application of writes. Engine errors
// that survive the retry budget surface as *mentatsync.BackendError.
func (c *dbConnector) withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	if !c.gate.TryAcquire(1) {
		log.Error("storage backend saturated", "error", errPoolSaturated)
		return &mentatsync.BackendError{Err: errPoolSaturated}
	}
	defer c.gate.Release(1)

	err := mentatsync.Retry(ctx, c.maxRetries, func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			if isRetryable(err) {
				return mentatsync.RetryableError(err)
			}
			return err
		}
		s := &session{tx: tx}
		if err := fn(ctx, s); err != nil {
			tx.Rollback()
			if isRetryable(err) && !s.dirty {
				return mentatsync.RetryableError(err)
			}
			return err
		}
		return tx.Commit()
	})
	if err == nil {
		return nil
	}
	if isStorageContractError(err) {
		return err
	}
	log.Error("storage backend failure", "error", err)
	return &mentatsync.BackendError{Err: err}
}

// isStorageContractError reports whether err is part of the storage
// contract's taxonomy rather than an engine failure.
func isStorageContractError(err error) bool {
	if errors.Is(err, mentatsync.ErrConflict) || errors.Is(err, mentatsync.ErrNotFound) {
		return true
	}
	var pe *mentatsync.ProgrammingError
	return errors.As(err, &pe)
}

// isRetryable classifies engine errors: connection invalidation, deadlock
// detection and lock-wait timeouts are transient; everything else is fatal.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205: // lock wait timeout
			return true
		case 1213: // deadlock detected
			return true
		}
	}
	return false
}

// isDuplicateKey reports whether err is a primary-key/unique violation.
func isDuplicateKey(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}
