// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package leveldb provides a kv.DB which keeps a container in a leveldb
// directory. Writes go through leveldb transactions and reads through
// snapshots.
package leveldb

import (
	"os"

	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ kv.DB = &DB{}

// DB is a kv.DB stored in a leveldb directory.
type DB struct {
	Db *leveldb.DB
}

// Open opens or creates the leveldb at dirname.
func Open(dirname string) (*DB, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrapf(err, "making directory %v", dirname)
	}
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &DB{Db: db}, nil
}

// OpenStorage opens or creates a leveldb kept in stor, such as
// storage.NewMemStorage(). Closing the DB doesn't close stor.
func OpenStorage(stor storage.Storage) (*DB, error) {
	db, err := leveldb.Open(stor, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb")
	}
	return &DB{Db: db}, nil
}

// Close closes the underlying leveldb.
func (d *DB) Close() error {
	return d.Db.Close()
}

// Begin implements kv.DB. Only one writable transaction may be open at a
// time; a second one blocks until the first ends.
func (d *DB) Begin(writable bool) (kv.Txn, error) {
	if writable {
		tr, err := d.Db.OpenTransaction()
		if err != nil {
			return nil, errors.Wrap(err, "opening leveldb transaction")
		}
		return &writeTxn{tr: tr}, nil
	}
	snap, err := d.Db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "getting leveldb snapshot")
	}
	return &readTxn{snap: snap}, nil
}

type writeTxn struct {
	tr     *leveldb.Transaction
	closed bool
}

func (t *writeTxn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}
	v, err := t.tr.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, errors.Wrap(err, "getting")
}

func (t *writeTxn) Put(key, value []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	return errors.Wrap(t.tr.Put(key, value, nil), "putting")
}

func (t *writeTxn) Delete(key []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	return errors.Wrap(t.tr.Delete(key, nil), "deleting")
}

func (t *writeTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	return scan(t.tr.NewIterator(util.BytesPrefix(prefix), nil), fn)
}

func (t *writeTxn) Commit() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	if err := t.tr.Commit(); err != nil {
		// leveldb keeps the write lock after a failed commit until the
		// transaction is discarded
		t.tr.Discard()
		return errors.Wrap(err, "committing leveldb transaction")
	}
	return nil
}

func (t *writeTxn) Rollback() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	t.tr.Discard()
	return nil
}

type readTxn struct {
	snap   *leveldb.Snapshot
	closed bool
}

func (t *readTxn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}
	v, err := t.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, errors.Wrap(err, "getting")
}

func (t *readTxn) Put(key, value []byte) error { return kv.ErrReadOnly }

func (t *readTxn) Delete(key []byte) error { return kv.ErrReadOnly }

func (t *readTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	return scan(t.snap.NewIterator(util.BytesPrefix(prefix), nil), fn)
}

func (t *readTxn) Commit() error { return t.Rollback() }

func (t *readTxn) Rollback() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	t.snap.Release()
	return nil
}

type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func scan(it iterator, fn func(key, value []byte) error) error {
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return errors.Wrap(it.Error(), "iterating")
}
