package sqlstore

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/mentatsync/mentatsync"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(errors.New("boom")))

	assert.True(t, isRetryable(driver.ErrBadConn))
	assert.True(t, isRetryable(mysql.ErrInvalidConn))
	assert.True(t, isRetryable(fmt.Errorf("exec: %w", driver.ErrBadConn)))

	assert.True(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint}))

	assert.True(t, isRetryable(&mysql.MySQLError{Number: 1205}))
	assert.True(t, isRetryable(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isRetryable(&mysql.MySQLError{Number: 1062}))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.True(t, isDuplicateKey(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isDuplicateKey(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicateKey(errors.New("boom")))
}

func TestIsStorageContractError(t *testing.T) {
	assert.True(t, isStorageContractError(mentatsync.ErrConflict))
	assert.True(t, isStorageContractError(mentatsync.ErrChunkNotFound))
	assert.True(t, isStorageContractError(mentatsync.ErrTransactionNotFound))
	assert.True(t, isStorageContractError(&mentatsync.ProgrammingError{Msg: "oops"}))
	assert.False(t, isStorageContractError(errors.New("engine exploded")))
}
