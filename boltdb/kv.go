// Package boltdb provides a kv.DB which keeps a container in a single boltdb
// file. All keys live in one root bucket.
package boltdb

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

var rootBucket = []byte("gpkg")

var _ kv.DB = &DB{}

// DB is a kv.DB stored in a boltdb file.
type DB struct {
	Db *bolt.DB
}

// Open opens or creates the boltdb file at filename.
func Open(filename string) (*DB, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second, NoGrowSync: true})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return errors.Wrap(err, "creating root bucket")
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &DB{Db: db}, nil
}

// Close syncs and closes the underlying boltdb.
func (d *DB) Close() error {
	err := d.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return d.Db.Close()
}

// Begin implements kv.DB.
func (d *DB) Begin(writable bool) (kv.Txn, error) {
	tx, err := d.Db.Begin(writable)
	if err != nil {
		return nil, errors.Wrap(err, "beginning bolt transaction")
	}
	return &txn{tx: tx, b: tx.Bucket(rootBucket)}, nil
}

type txn struct {
	tx     *bolt.Tx
	b      *bolt.Bucket
	closed bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}
	v := t.b.Get(key)
	if v == nil {
		return nil, nil
	}
	// bolt's slice is only valid for the life of the transaction
	return append([]byte(nil), v...), nil
}

func (t *txn) Put(key, value []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	if !t.tx.Writable() {
		return kv.ErrReadOnly
	}
	return errors.Wrap(t.b.Put(key, value), "putting")
}

func (t *txn) Delete(key []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	if !t.tx.Writable() {
		return kv.ErrReadOnly
	}
	return errors.Wrap(t.b.Delete(key), "deleting")
}

func (t *txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	c := t.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Commit() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	return errors.Wrap(t.tx.Commit(), "committing bolt transaction")
}

func (t *txn) Rollback() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	return t.tx.Rollback()
}
