// Package kvtest checks that a kv.DB behaves the way package gpkg expects.
package kvtest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

// Opener opens the same store again after it has been closed.
type Opener func(t *testing.T) kv.DB

// Run runs every check against stores from open.
func Run(t *testing.T, open Opener) {
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, open) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open) })
	t.Run("Scan", func(t *testing.T) { testScan(t, open) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, open) })
	t.Run("ReadOnly", func(t *testing.T) { testReadOnly(t, open) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
}

func testReadYourWrites(t *testing.T, open Opener) {
	db := open(t)
	defer db.Close()
	tx, err := db.Begin(true)
	if err != nil {
		t.Fatalf("beginning: %v", err)
	}
	defer tx.Rollback()
	if err := tx.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("putting: %v", err)
	}
	v, err := tx.Get([]byte("a"))
	if err != nil || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("unexpected get inside transaction: %q, %v", v, err)
	}
	v, err = tx.Get([]byte("missing"))
	if err != nil || v != nil {
		t.Fatalf("expected nil for a missing key, got %q, %v", v, err)
	}
	if err := tx.Delete([]byte("a")); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if v, _ = tx.Get([]byte("a")); v != nil {
		t.Fatalf("deleted key still there: %q", v)
	}
}

func testRollback(t *testing.T, open Opener) {
	db := open(t)
	defer db.Close()
	err := kv.Update(db, func(tx kv.Txn) error {
		return tx.Put([]byte("kept"), []byte("1"))
	})
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	err = kv.Update(db, func(tx kv.Txn) error {
		if err := tx.Put([]byte("dropped"), []byte("1")); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("expected the abort error, got %v", err)
	}
	err = kv.View(db, func(tx kv.Txn) error {
		if v, _ := tx.Get([]byte("kept")); v == nil {
			t.Errorf("committed key missing")
		}
		if v, _ := tx.Get([]byte("dropped")); v != nil {
			t.Errorf("rolled back key present")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("viewing: %v", err)
	}
}

func testScan(t *testing.T, open Opener) {
	db := open(t)
	defer db.Close()
	err := kv.Update(db, func(tx kv.Txn) error {
		for _, k := range []string{"p/3", "p/1", "q/1", "o/9", "p/2"} {
			if err := tx.Put([]byte(k), []byte("v"+k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	var got []string
	err = kv.View(db, func(tx kv.Txn) error {
		return tx.Scan([]byte("p/"), func(k, v []byte) error {
			got = append(got, fmt.Sprintf("%s=%s", k, v))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("scanning: %v", err)
	}
	exp := []string{"p/1=vp/1", "p/2=vp/2", "p/3=vp/3"}
	if fmt.Sprint(got) != fmt.Sprint(exp) {
		t.Fatalf("unexpected scan: %v", got)
	}

	stop := errors.New("stop")
	n := 0
	err = kv.View(db, func(tx kv.Txn) error {
		return tx.Scan([]byte("p/"), func(k, v []byte) error {
			n++
			return stop
		})
	})
	if err != stop || n != 1 {
		t.Fatalf("scan didn't stop on error: %v after %d", err, n)
	}

	err = kv.Update(db, func(tx kv.Txn) error {
		keys, err := kv.Keys(tx, []byte("p/"))
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		keys, err = kv.Keys(tx, []byte("p/"))
		if len(keys) != 0 {
			t.Errorf("keys left after deleting: %q", keys)
		}
		return err
	})
	if err != nil {
		t.Fatalf("deleting range: %v", err)
	}
}

func testClosed(t *testing.T, open Opener) {
	db := open(t)
	defer db.Close()
	tx, err := db.Begin(true)
	if err != nil {
		t.Fatalf("beginning: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("committing: %v", err)
	}
	if err := tx.Put([]byte("a"), []byte("1")); err != kv.ErrTxClosed {
		t.Fatalf("expected ErrTxClosed from put, got %v", err)
	}
	if err := tx.Commit(); err != kv.ErrTxClosed {
		t.Fatalf("expected ErrTxClosed from second commit, got %v", err)
	}
	if err := tx.Rollback(); err != kv.ErrTxClosed {
		t.Fatalf("expected ErrTxClosed from rollback, got %v", err)
	}
}

func testReadOnly(t *testing.T, open Opener) {
	db := open(t)
	defer db.Close()
	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("beginning: %v", err)
	}
	defer tx.Rollback()
	if err := tx.Put([]byte("a"), []byte("1")); err != kv.ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func testReopen(t *testing.T, open Opener) {
	db := open(t)
	err := kv.Update(db, func(tx kv.Txn) error {
		return tx.Put([]byte("durable"), []byte("yes"))
	})
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	db = open(t)
	defer db.Close()
	err = kv.View(db, func(tx kv.Txn) error {
		v, err := tx.Get([]byte("durable"))
		if !bytes.Equal(v, []byte("yes")) {
			t.Errorf("after reopen, unexpected value %q", v)
		}
		return err
	})
	if err != nil {
		t.Fatalf("viewing: %v", err)
	}
}
