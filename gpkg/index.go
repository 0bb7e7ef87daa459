package gpkg

import (
	"encoding/binary"
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

// MaxGeohashPrecision is the longest geohash which can be indexed.
const MaxGeohashPrecision = 12

type index struct {
	column    string
	precision uint
}

func createIndex(tx kv.Txn, table, column string, precision uint) error {
	if precision > MaxGeohashPrecision {
		return errors.Errorf("geohash precision %d is more than %d", precision, MaxGeohashPrecision)
	}
	val, err := encode(indexCodec, map[string]interface{}{
		"column_name": column,
		"precision":   int32(precision),
	})
	if err != nil {
		return errors.Wrap(err, "encoding index")
	}
	if err := tx.Put(key(indexPrefix, table), val); err != nil {
		return err
	}
	return putExtension(tx, Extension{
		TableName:     table,
		ColumnName:    column,
		ExtensionName: ExtensionGeohashIndex,
		Definition:    geohashIndexDefinition,
		Scope:         ExtensionScopeWriteOnly,
	})
}

// getIndex returns nil if table isn't indexed.
func getIndex(tx kv.Txn, table string) (*index, error) {
	v, err := tx.Get(key(indexPrefix, table))
	if err != nil || v == nil {
		return nil, err
	}
	rec, err := decode(indexCodec, v)
	if err != nil {
		return nil, errors.Wrap(err, "decoding index")
	}
	return &index{column: str(rec["column_name"]), precision: uint(int32Of(rec["precision"]))}, nil
}

// hash returns the geohash of the center of g's bounding box, or "" for
// geometries which can't be indexed.
func (ix *index) hash(g orb.Geometry) string {
	if g == nil || isEmpty(g) {
		return ""
	}
	c := g.Bound().Center()
	if c[1] < -90 || c[1] > 90 || c[0] < -180 || c[0] > 180 {
		return ""
	}
	return geohash.EncodeWithPrecision(c[1], c[0], ix.precision)
}

func indexKey(table, hash string, fid int64) []byte {
	return appendFID(key(geohashPrefix, table, "/", hash), fid)
}

// Near returns the features of an indexed table whose bounding box center
// is in the geohash cell of the given point, or in one of the eight cells
// around it. chars is the length of the cells, at most the precision of the
// index; 0 means the precision of the index. Features are in fid order.
func (c *Container) Near(table string, lat, lon float64, chars uint) ([]Feature, error) {
	var features []Feature
	err := kv.View(c.db, func(tx kv.Txn) error {
		if _, err := getContents(tx, table); err != nil {
			return err
		}
		ix, err := getIndex(tx, table)
		if err != nil {
			return err
		}
		if ix == nil {
			return errors.Errorf("table '%s' has no geohash index", table)
		}
		if chars == 0 || chars > ix.precision {
			chars = ix.precision
		}

		center := geohash.EncodeWithPrecision(lat, lon, chars)
		cells := map[string]struct{}{center: {}}
		for _, n := range geohash.Neighbors(center) {
			cells[n] = struct{}{}
		}
		fids := make(map[int64]struct{})
		for cell := range cells {
			err := tx.Scan(key(geohashPrefix, table, "/", cell), func(k, _ []byte) error {
				fids[int64(binary.BigEndian.Uint64(k[len(k)-8:]))] = struct{}{}
				return nil
			})
			if err != nil {
				return errors.Wrap(err, "scanning index")
			}
		}

		sorted := make([]int64, 0, len(fids))
		for fid := range fids {
			sorted = append(sorted, fid)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, fid := range sorted {
			f, err := getFeature(tx, table, fid)
			if err != nil {
				return err
			}
			if f != nil {
				features = append(features, *f)
			}
		}
		return nil
	})
	return features, err
}
