// Package kv describes the ordered key/value stores a container can be kept
// in. Implementations are in packages boltdb and leveldb.
package kv

import (
	"github.com/pkg/errors"
)

var (
	// ErrTxClosed is returned when a transaction is used after Commit or
	// Rollback.
	ErrTxClosed = errors.New("transaction closed")

	// ErrReadOnly is returned by writes on a transaction opened with
	// writable false.
	ErrReadOnly = errors.New("transaction is read-only")
)

// DB is an ordered key/value store.
type DB interface {
	// Begin starts a transaction. Only one writable transaction may be open
	// at a time.
	Begin(writable bool) (Txn, error)
	Close() error
}

// Txn is a transaction on a DB. A writable transaction sees its own writes.
type Txn interface {
	// Get returns nil and no error if key isn't present.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Scan calls fn for every key beginning with prefix, in key order. The
	// slices passed to fn are only valid during the call, and fn must not
	// modify the store. An error from fn stops the scan and is returned.
	Scan(prefix []byte, fn func(key, value []byte) error) error

	Commit() error
	Rollback() error
}

// Update runs fn in a writable transaction which is committed if fn succeeds
// and rolled back otherwise.
func Update(db DB, fn func(Txn) error) error {
	tx, err := db.Begin(true)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing")
}

// View runs fn in a read-only transaction.
func View(db DB, fn func(Txn) error) error {
	tx, err := db.Begin(false)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

// Keys returns a copy of every key beginning with prefix, in order. It's
// useful for deleting a range, which can't be done from inside Scan.
func Keys(tx Txn, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := tx.Scan(prefix, func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	return keys, err
}
