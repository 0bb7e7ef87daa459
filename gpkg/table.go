package gpkg

import (
	"encoding/binary"

	"github.com/paulmach/orb"
	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

// Feature is a stored row of a feature table.
type Feature struct {
	FID        int64
	ID         string
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

func encodeFeature(fid int64, row *harvest.Row, srsID int32) ([]byte, error) {
	geom, err := EncodeGeometry(row.Geometry, srsID)
	if err != nil {
		return nil, err
	}
	props := make(map[string]interface{}, len(row.Properties))
	for k, v := range row.Properties {
		switch v := v.(type) {
		case nil:
			props[k] = nil
		case bool:
			props[k] = nullable("boolean", v)
		case float64:
			props[k] = nullable("double", v)
		case string:
			props[k] = nullable("string", v)
		default:
			return nil, errors.Errorf("property '%s' has unsupported value of type %T", k, v)
		}
	}
	rec := map[string]interface{}{
		"fid":        fid,
		"id":         row.FeatureID,
		"geom":       nil,
		"properties": props,
	}
	if geom != nil {
		rec["geom"] = nullable("bytes", geom)
	}
	val, err := encode(featureCodec, rec)
	return val, errors.Wrap(err, "encoding row")
}

func decodeFeature(data []byte) (*Feature, error) {
	rec, err := decode(featureCodec, data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding row")
	}
	f := &Feature{
		FID: int64Of(rec["fid"]),
		ID:  str(rec["id"]),
	}
	if geom, ok := branch(rec["geom"]).([]byte); ok {
		f.Geometry, _, err = DecodeGeometry(geom)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding geometry of fid %d", f.FID)
		}
	}
	props, _ := rec["properties"].(map[string]interface{})
	f.Properties = make(map[string]interface{}, len(props))
	for k, v := range props {
		f.Properties[k] = branch(v)
	}
	return f, nil
}

func featureKey(table string, fid int64) []byte {
	return appendFID(key(featuresPrefix, table, "/"), fid)
}

func getFeature(tx kv.Txn, table string, fid int64) (*Feature, error) {
	v, err := tx.Get(featureKey(table, fid))
	if err != nil || v == nil {
		return nil, err
	}
	return decodeFeature(v)
}

// Feature gets a row by fid, or nil if there is none.
func (c *Container) Feature(table string, fid int64) (*Feature, error) {
	var f *Feature
	err := kv.View(c.db, func(tx kv.Txn) (err error) {
		f, err = getFeature(tx, table, fid)
		return err
	})
	return f, err
}

// Rows calls fn for every row of a table in fid order.
func (c *Container) Rows(table string, fn func(Feature) error) error {
	return kv.View(c.db, func(tx kv.Txn) error {
		if _, err := getContents(tx, table); err != nil {
			return err
		}
		return tx.Scan(key(featuresPrefix, table, "/"), func(_, v []byte) error {
			f, err := decodeFeature(v)
			if err != nil {
				return err
			}
			return fn(*f)
		})
	})
}

// Count returns the number of rows in a table.
func (c *Container) Count(table string) (int, error) {
	n := 0
	err := kv.View(c.db, func(tx kv.Txn) error {
		if _, err := getContents(tx, table); err != nil {
			return err
		}
		return tx.Scan(key(featuresPrefix, table, "/"), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

var _ harvest.Table = &Table{}

// Table is a feature table which harvested features are written to.
type Table struct {
	c     *Container
	name  string
	srsID int32
}

// Table gets an existing feature table.
func (c *Container) Table(name string) (*Table, error) {
	ct, err := c.Contents(name)
	if err != nil {
		return nil, err
	}
	if ct.DataType != DataTypeFeatures {
		return nil, errors.Errorf("table '%s' holds %s, not features", name, ct.DataType)
	}
	return &Table{c: c, name: name, srsID: ct.SRSID}, nil
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// Begin implements harvest.Table.
func (t *Table) Begin() (harvest.Tx, error) {
	x := &tx{t: t}
	if err := x.begin(); err != nil {
		return nil, err
	}
	return x, nil
}

// tx is a harvest.Tx over a sequence of kv transactions: every Checkpoint
// commits the current one and begins the next.
type tx struct {
	t   *Table
	kt  kv.Txn
	ix  *index
	fid int64

	// bound of the geometries inserted since the last checkpoint
	bound   *orb.Bound
	changed bool

	// invalid is set once kt can't be used anymore
	invalid error
}

func (x *tx) begin() error {
	kt, err := x.t.c.db.Begin(true)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	x.kt = kt
	if _, err := getContents(kt, x.t.name); err != nil {
		x.abort(err)
		return err
	}
	if x.ix, err = getIndex(kt, x.t.name); err != nil {
		x.abort(err)
		return err
	}
	v, err := kt.Get(key(seqPrefix, featuresPrefix, x.t.name))
	if err != nil {
		x.abort(err)
		return errors.Wrap(err, "getting fid sequence")
	}
	if len(v) == 8 {
		x.fid = int64(binary.BigEndian.Uint64(v))
	}
	return nil
}

func (x *tx) abort(err error) {
	if x.kt != nil {
		_ = x.kt.Rollback()
		x.kt = nil
	}
	if x.invalid == nil {
		x.invalid = err
	}
}

func (x *tx) check() error {
	if x.invalid != nil {
		return errors.Wrapf(harvest.ErrTxInvalid, "%v", x.invalid)
	}
	if x.kt == nil {
		return errors.Wrap(harvest.ErrTxInvalid, "transaction ended")
	}
	return nil
}

// Insert implements harvest.Tx. Rows which can't be encoded are refused
// without affecting the transaction.
func (x *tx) Insert(row *harvest.Row) error {
	if err := x.check(); err != nil {
		return err
	}
	fid := x.fid + 1
	val, err := encodeFeature(fid, row, x.t.srsID)
	if err != nil {
		return err
	}
	if err := x.kt.Put(featureKey(x.t.name, fid), val); err != nil {
		x.abort(err)
		return errors.Wrapf(harvest.ErrTxInvalid, "putting row: %v", err)
	}
	if x.ix != nil {
		if h := x.ix.hash(row.Geometry); h != "" {
			if err := x.kt.Put(indexKey(x.t.name, h, fid), fidBytes(fid)); err != nil {
				x.abort(err)
				return errors.Wrapf(harvest.ErrTxInvalid, "putting index entry: %v", err)
			}
		}
	}
	x.fid = fid
	x.changed = true
	if row.Geometry != nil && !isEmpty(row.Geometry) {
		b := row.Geometry.Bound()
		if x.bound == nil {
			x.bound = &b
		} else {
			u := x.bound.Union(b)
			x.bound = &u
		}
	}
	return nil
}

// flush writes the fid sequence and contents, then commits kt.
func (x *tx) flush() error {
	if x.changed {
		if err := x.kt.Put(key(seqPrefix, featuresPrefix, x.t.name), fidBytes(x.fid)); err != nil {
			return err
		}
		ct, err := getContents(x.kt, x.t.name)
		if err != nil {
			return err
		}
		if x.bound != nil {
			if ct.Bound == nil {
				ct.Bound = x.bound
			} else {
				u := ct.Bound.Union(*x.bound)
				ct.Bound = &u
			}
		}
		ct.LastChange = x.t.c.timestamp()
		if err := putContents(x.kt, *ct); err != nil {
			return err
		}
	}
	kt := x.kt
	x.kt = nil
	if err := kt.Commit(); err != nil {
		return err
	}
	x.bound = nil
	x.changed = false
	return nil
}

// Checkpoint implements harvest.Tx.
func (x *tx) Checkpoint() error {
	if err := x.check(); err != nil {
		return err
	}
	if err := x.flush(); err != nil {
		x.abort(err)
		return errors.Wrapf(harvest.ErrTxInvalid, "checkpointing: %v", err)
	}
	if err := x.begin(); err != nil {
		// the checkpoint itself succeeded; the next Insert or Commit fails
		if x.invalid == nil {
			x.invalid = errors.Wrap(err, "continuing after checkpoint")
		}
	}
	return nil
}

// Commit implements harvest.Tx.
func (x *tx) Commit() error {
	if err := x.check(); err != nil {
		return err
	}
	if err := x.flush(); err != nil {
		x.abort(err)
		return errors.Wrapf(harvest.ErrTxInvalid, "committing: %v", err)
	}
	x.invalid = errors.New("transaction committed")
	return nil
}

// Rollback implements harvest.Tx. Rows inserted since the last checkpoint
// are discarded.
func (x *tx) Rollback() error {
	if x.kt == nil {
		return nil
	}
	kt := x.kt
	x.kt = nil
	if x.invalid == nil {
		x.invalid = errors.New("transaction rolled back")
	}
	return kt.Rollback()
}
