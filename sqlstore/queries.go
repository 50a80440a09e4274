package sqlstore

import "fmt"

// Supported database/sql driver names.
const (
	driverSQLite = "sqlite3"
	driverMySQL  = "mysql"
)

// queries holds the pre-built statements for one SQL dialect. The graph
// preconditions live inside the statements themselves: a conditional
// INSERT...SELECT or UPDATE...WHERE that affects zero rows means the
// precondition did not hold at execution time.
type queries struct {
	getHead                    string
	getTransactions            string
	getTransactionsFromRoot    string
	deleteAllTransactions      string
	deleteAllTransactionChunks string
	getTransaction             string
	getTransactionChunks       string
	createPendingFromRoot      string
	createPending              string
	bumpPendingAncestors       string
	commitPendingChain         string
	addTransactionChunk        string
	getChunkPayload            string
	createChunk                string
	schema                     []string
}

func queriesFor(driver string) (queries, error) {
	switch driver {
	case driverSQLite:
		return sqliteQueries, nil
	case driverMySQL:
		return mysqlQueries, nil
	default:
		return queries{}, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

const getHead = `
	SELECT trnid
	FROM transactions
	WHERE userid = ?
	AND committed = 1
	ORDER BY seq DESC LIMIT 1
`

// getTransactions selects from the starting transaction itself onward.
// The caller verifies that the first returned id is the starting id (and
// therefore committed) before yielding the rest.
const getTransactions = `
	SELECT trnid
	FROM transactions
	WHERE userid = ?
	AND seq >= (
		SELECT seq FROM transactions WHERE userid = ? AND trnid = ?
	)
	AND committed = 1
	ORDER BY seq ASC
	LIMIT ?
`

const getTransactionsFromRoot = `
	SELECT trnid
	FROM transactions
	WHERE userid = ?
	AND committed = 1
	ORDER BY seq ASC
	LIMIT ?
`

const deleteAllTransactions = `
	DELETE FROM transactions
	WHERE userid = ?
`

const deleteAllTransactionChunks = `
	DELETE FROM transaction_chunks
	WHERE userid = ?
`

const getTransaction = `
	SELECT trnid, parent, seq
	FROM transactions
	WHERE userid = ? AND trnid = ?
`

const getTransactionChunks = `
	SELECT chunk
	FROM transaction_chunks
	WHERE userid = ? AND trnid = ?
	ORDER BY idx
`

// createPendingFromRoot inserts the first transaction of a pending chain
// hanging directly off the empty history. The NOT EXISTS guard enforces
// that at most one pending chain hangs off ROOT at a time, mirroring the
// next_head leaf check applied to real parents.
// Binds: userid, trnid, ROOT, ROOT, trnid, userid, ROOT.
const createPendingFromRoot = `
	INSERT INTO transactions
		(userid, trnid, parent, committed, seq, prev_head, next_head)
	SELECT ?, ?, ?, 0, 1, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM transactions
		WHERE userid = ? AND parent = ? AND committed = 0
	)
`

// createPending inserts a pending transaction under an existing parent.
// The parent-is-a-leaf precondition is fused into the WHERE clause
// (tprev.next_head = parent); prev_head is inherited from a pending
// parent or set to the parent itself when the parent is committed.
// Binds: userid, trnid, trnid, parent, userid, parent, parent.
const createPending = `
	INSERT INTO transactions
		(userid, trnid, parent, committed, seq, next_head, prev_head)
	SELECT ?, ?, tprev.trnid, 0, tprev.seq + 1, ?,
		CASE WHEN tprev.committed = 1 THEN ? ELSE tprev.prev_head END
	FROM transactions AS tprev
	WHERE tprev.userid = ? AND tprev.trnid = ? AND tprev.next_head = ?
`

// bumpPendingAncestors repoints the whole pending chain (and the committed
// frontier row) at the freshly inserted leaf.
// Binds: trnid, userid, parent.
const bumpPendingAncestors = `
	UPDATE transactions
	SET next_head = ?
	WHERE userid = ? AND next_head = ?
`

// commitPendingChain promotes the entire pending chain ending at trnid in
// one statement. The current-head check is fused into the WHERE clause;
// the derived-table wrapper around the head lookup keeps MySQL happy about
// reading the table being updated.
// Binds: userid, trnid, userid, ROOT.
const commitPendingChain = `
	UPDATE transactions
	SET committed = 1
	WHERE userid = ?
	AND next_head = ?
	AND prev_head = COALESCE((
		SELECT trnid FROM (
			SELECT trnid FROM transactions
			WHERE userid = ? AND committed = 1
			ORDER BY seq DESC LIMIT 1
		) AS current_head
	), ?)
`

// addTransactionChunk records ordered chunk membership, conditional on the
// chunk already existing for this user.
// Binds: userid, trnid, idx, userid, chunk.
const addTransactionChunk = `
	INSERT INTO transaction_chunks (userid, trnid, idx, chunk)
	SELECT ?, ?, ?, c.chunk
	FROM chunks AS c
	WHERE c.userid = ? AND c.chunk = ?
`

const getChunkPayload = `
	SELECT payload FROM chunks WHERE userid = ? AND chunk = ?
`

var sqliteQueries = queries{
	getHead:                    getHead,
	getTransactions:            getTransactions,
	getTransactionsFromRoot:    getTransactionsFromRoot,
	deleteAllTransactions:      deleteAllTransactions,
	deleteAllTransactionChunks: deleteAllTransactionChunks,
	getTransaction:             getTransaction,
	getTransactionChunks:       getTransactionChunks,
	createPendingFromRoot:      createPendingFromRoot,
	createPending:              createPending,
	bumpPendingAncestors:       bumpPendingAncestors,
	commitPendingChain:         commitPendingChain,
	addTransactionChunk:        addTransactionChunk,
	getChunkPayload:            getChunkPayload,
	createChunk: `
		INSERT OR IGNORE INTO chunks (userid, chunk, payload)
		VALUES (?, ?, ?)
	`,
	schema: sqliteSchema,
}

var mysqlQueries = queries{
	getHead:                    getHead,
	getTransactions:            getTransactions,
	getTransactionsFromRoot:    getTransactionsFromRoot,
	deleteAllTransactions:      deleteAllTransactions,
	deleteAllTransactionChunks: deleteAllTransactionChunks,
	getTransaction:             getTransaction,
	getTransactionChunks:       getTransactionChunks,
	// MySQL needs FROM DUAL for a WHERE on a SELECT without tables, and a
	// derived table to read the table being inserted into.
	createPendingFromRoot: `
		INSERT INTO transactions
			(userid, trnid, parent, committed, seq, prev_head, next_head)
		SELECT ?, ?, ?, 0, 1, ?, ?
		FROM DUAL
		WHERE NOT EXISTS (
			SELECT 1 FROM (
				SELECT 1 FROM transactions
				WHERE userid = ? AND parent = ? AND committed = 0
			) AS pending_root
		)
	`,
	createPending:        createPending,
	bumpPendingAncestors: bumpPendingAncestors,
	commitPendingChain:   commitPendingChain,
	addTransactionChunk:  addTransactionChunk,
	getChunkPayload:      getChunkPayload,
	createChunk: `
		INSERT IGNORE INTO chunks (userid, chunk, payload)
		VALUES (?, ?, ?)
	`,
	schema: mysqlSchema,
}
