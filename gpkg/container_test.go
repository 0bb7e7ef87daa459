package gpkg_test

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/boltdb"
	"github.com/pilosa/harvest/gpkg"
	"github.com/pilosa/harvest/kv"
	"github.com/pilosa/harvest/leveldb"
	"github.com/pilosa/harvest/proj"
	"github.com/pilosa/harvest/test"
	"github.com/pkg/errors"
)

type backend struct {
	name string
	open func(t *testing.T) kv.DB
}

var backends = []backend{
	{"boltdb", func(t *testing.T) kv.DB {
		db, err := boltdb.Open(t.TempDir() + "/container.db")
		test.ErrNil(t, err, "opening boltdb")
		return db
	}},
	{"leveldb", func(t *testing.T) kv.DB {
		db, err := leveldb.Open(t.TempDir() + "/container")
		test.ErrNil(t, err, "opening leveldb")
		return db
	}},
}

// forEachBackend runs fn with a fresh container from each backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, c *gpkg.Container)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			c, err := gpkg.Open(b.open(t))
			test.ErrNil(t, err, "opening container")
			defer c.Close()
			fn(t, c)
		})
	}
}

func mustProj(t *testing.T, crs string) *proj.Projection {
	p, err := proj.Parse(crs)
	test.ErrNil(t, err, "parsing "+crs)
	return p
}

func TestOpenAddsRequiredSRS(t *testing.T) {
	db, err := boltdb.Open(t.TempDir() + "/container.db")
	test.ErrNil(t, err, "opening boltdb")
	c, err := gpkg.Open(db)
	test.ErrNil(t, err, "opening container")
	defer c.Close()

	// opening again must not add anything
	c, err = gpkg.Open(db)
	test.ErrNil(t, err, "opening container again")

	list, err := c.SpatialRefSystems()
	test.ErrNil(t, err, "listing srs")
	var ids []int32
	for _, srs := range list {
		ids = append(ids, srs.ID)
	}
	test.MustBe(t, ids, []int32{-1, 0, 4326})

	srs, err := c.SpatialRefSysByID(4326)
	test.ErrNil(t, err, "getting 4326")
	if srs == nil || srs.Organization != "EPSG" || srs.OrganizationCoordsysID != 4326 || srs.Definition == proj.Undefined {
		t.Fatalf("unexpected 4326 row: %+v", srs)
	}
	srs, err = c.SpatialRefSysByID(3857)
	test.ErrNil(t, err, "getting 3857")
	if srs != nil {
		t.Fatalf("3857 shouldn't be there yet: %+v", srs)
	}
}

func TestCreateFeatureTable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		err := c.CreateFeatureTable(gpkg.FeatureTable{
			Name:             "lakes",
			Description:      "big lakes",
			Projection:       mustProj(t, "EPSG:4326"),
			GeohashPrecision: 6,
		})
		test.ErrNil(t, err, "creating lakes")

		ok, err := c.HasTable("lakes")
		test.ErrNil(t, err, "HasTable")
		test.MustBe(t, ok, true, "has lakes")

		ct, err := c.Contents("lakes")
		test.ErrNil(t, err, "Contents")
		test.MustBe(t, ct.DataType, gpkg.DataTypeFeatures)
		test.MustBe(t, ct.Identifier, "lakes")
		test.MustBe(t, ct.Description, "big lakes")
		test.MustBe(t, ct.SRSID, int32(4326))
		if ct.Bound != nil {
			t.Fatalf("empty table has a bound: %v", ct.Bound)
		}
		if _, err := ct.LastChangeTime(); err != nil {
			t.Fatalf("bad last change '%s': %v", ct.LastChange, err)
		}

		gc, err := c.GeometryColumn("lakes")
		test.ErrNil(t, err, "GeometryColumn")
		test.MustBe(t, *gc, gpkg.GeometryColumn{TableName: "lakes", ColumnName: "geom", GeometryTypeName: "GEOMETRY", SRSID: 4326})

		exts, err := c.Extensions("lakes")
		test.ErrNil(t, err, "Extensions")
		if len(exts) != 1 || exts[0].ExtensionName != gpkg.ExtensionGeohashIndex || exts[0].ColumnName != "geom" {
			t.Fatalf("unexpected extensions: %+v", exts)
		}

		err = c.CreateFeatureTable(gpkg.FeatureTable{Name: "lakes"})
		test.ErrIs(t, err, gpkg.ErrTableExists, "creating lakes again")

		tables, err := c.Tables()
		test.ErrNil(t, err, "Tables")
		test.MustBe(t, tables, []string{"lakes"})
	})
}

func TestCreateFeatureTableProjections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		err := c.CreateFeatureTable(gpkg.FeatureTable{Name: "crs84", Projection: mustProj(t, "OGC:CRS84"), GeohashPrecision: 5})
		test.ErrNil(t, err, "creating crs84")
		err = c.CreateFeatureTable(gpkg.FeatureTable{Name: "merc", Projection: mustProj(t, "EPSG:3857"), GeohashPrecision: 5})
		test.ErrNil(t, err, "creating merc")

		ct, err := c.Contents("crs84")
		test.ErrNil(t, err, "Contents crs84")
		test.MustBe(t, ct.SRSID, int32(4326), "crs84 srs")

		ct, err = c.Contents("merc")
		test.ErrNil(t, err, "Contents merc")
		test.MustBe(t, ct.SRSID, int32(3857), "merc srs")

		srs, err := c.SpatialRefSysByID(3857)
		test.ErrNil(t, err, "getting 3857")
		if srs == nil || srs.OrganizationCoordsysID != 3857 {
			t.Fatalf("3857 not added: %+v", srs)
		}
		list, err := c.SpatialRefSystems()
		test.ErrNil(t, err, "listing srs")
		test.MustBe(t, len(list), 4, "number of srs")

		// projected tables aren't indexed
		ok, err := c.HasExtension(gpkg.ExtensionGeohashIndex, "merc")
		test.ErrNil(t, err, "HasExtension merc")
		test.MustBe(t, ok, false, "merc indexed")
		ok, err = c.HasExtension(gpkg.ExtensionGeohashIndex, "crs84")
		test.ErrNil(t, err, "HasExtension crs84")
		test.MustBe(t, ok, true, "crs84 indexed")
	})
}

func TestValidateTableName(t *testing.T) {
	for _, name := range []string{"", "a/b", "gpkg_contents", "GPKG_x"} {
		if err := gpkg.ValidateTableName(name); err == nil {
			t.Errorf("expected '%s' to be refused", name)
		}
	}
	for _, name := range []string{"lakes", "buildings-2020", "a.b"} {
		if err := gpkg.ValidateTableName(name); err != nil {
			t.Errorf("unexpected error for '%s': %v", name, err)
		}
	}
}

func row(id string, g orb.Geometry, props map[string]interface{}) *harvest.Row {
	return &harvest.Row{FeatureID: id, Geometry: g, Properties: props}
}

func TestTableTx(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "points", GeohashPrecision: 4}), "creating table")
		tbl, err := c.Table("points")
		test.ErrNil(t, err, "Table")
		test.MustBe(t, tbl.Name(), "points")

		tx, err := tbl.Begin()
		test.ErrNil(t, err, "Begin")
		test.ErrNil(t, tx.Insert(row("a", orb.Point{1, 2}, map[string]interface{}{"n": 1.5, "s": "x", "b": true, "z": nil})), "insert a")
		test.ErrNil(t, tx.Insert(row("b", orb.Point{3, 4}, nil)), "insert b")
		test.ErrNil(t, tx.Checkpoint(), "Checkpoint")
		test.ErrNil(t, tx.Insert(row("c", orb.Point{50, 60}, nil)), "insert c")
		test.ErrNil(t, tx.Rollback(), "Rollback")

		n, err := c.Count("points")
		test.ErrNil(t, err, "Count")
		test.MustBe(t, n, 2, "rows after rollback")

		ct, err := c.Contents("points")
		test.ErrNil(t, err, "Contents")
		test.MustBe(t, *ct.Bound, orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}, "bound")

		f, err := c.Feature("points", 1)
		test.ErrNil(t, err, "Feature 1")
		test.MustBe(t, f.ID, "a")
		test.MustBe(t, f.Geometry, orb.Geometry(orb.Point{1, 2}))
		test.MustBe(t, f.Properties, map[string]interface{}{"n": 1.5, "s": "x", "b": true, "z": nil})

		// fids carry on from the last committed one
		tx, err = tbl.Begin()
		test.ErrNil(t, err, "Begin again")
		test.ErrNil(t, tx.Insert(row("d", nil, nil)), "insert d")
		test.ErrNil(t, tx.Commit(), "Commit")
		test.ErrIs(t, tx.Insert(row("e", nil, nil)), harvest.ErrTxInvalid, "insert after commit")

		var fids []int64
		var ids []string
		err = c.Rows("points", func(f gpkg.Feature) error {
			fids = append(fids, f.FID)
			ids = append(ids, f.ID)
			return nil
		})
		test.ErrNil(t, err, "Rows")
		test.MustBe(t, fids, []int64{1, 2, 3})
		test.MustBe(t, ids, []string{"a", "b", "d"})

		f, err = c.Feature("points", 3)
		test.ErrNil(t, err, "Feature 3")
		if f.Geometry != nil {
			t.Fatalf("expected no geometry, got %v", f.Geometry)
		}
	})
}

func TestTableTxRefusesBadRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "t"}), "creating table")
		tbl, err := c.Table("t")
		test.ErrNil(t, err, "Table")
		tx, err := tbl.Begin()
		test.ErrNil(t, err, "Begin")

		err = tx.Insert(row("bad", nil, map[string]interface{}{"p": []int{1}}))
		if err == nil || harvestInvalid(err) {
			t.Fatalf("expected a row error, got %v", err)
		}
		test.ErrNil(t, tx.Insert(row("good", nil, nil)), "insert after refused row")
		test.ErrNil(t, tx.Commit(), "Commit")
		n, err := c.Count("t")
		test.ErrNil(t, err, "Count")
		test.MustBe(t, n, 1)
	})
}

func harvestInvalid(err error) bool {
	return errors.Is(err, harvest.ErrTxInvalid)
}

func TestTableMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		_, err := c.Table("nope")
		test.ErrIs(t, err, gpkg.ErrNoTable, "Table")
		_, err = c.Count("nope")
		test.ErrIs(t, err, gpkg.ErrNoTable, "Count")
		err = c.DeleteTable("nope")
		test.ErrIs(t, err, gpkg.ErrNoTable, "DeleteTable")
		_, err = c.AddMetadata(gpkg.Metadata{Metadata: "{}"}, "nope")
		test.ErrIs(t, err, gpkg.ErrNoTable, "AddMetadata")
	})
}

func TestNear(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "cities", GeohashPrecision: 6}), "creating table")
		tbl, err := c.Table("cities")
		test.ErrNil(t, err, "Table")
		tx, err := tbl.Begin()
		test.ErrNil(t, err, "Begin")
		test.ErrNil(t, tx.Insert(row("paris", orb.Point{2.3522, 48.8566}, nil)), "insert paris")
		test.ErrNil(t, tx.Insert(row("versailles", orb.Point{2.1301, 48.8049}, nil)), "insert versailles")
		test.ErrNil(t, tx.Insert(row("tokyo", orb.Point{139.6917, 35.6895}, nil)), "insert tokyo")
		test.ErrNil(t, tx.Insert(row("nowhere", nil, nil)), "insert nowhere")
		test.ErrNil(t, tx.Commit(), "Commit")

		near, err := c.Near("cities", 48.85, 2.35, 3)
		test.ErrNil(t, err, "Near paris")
		var ids []string
		for _, f := range near {
			ids = append(ids, f.ID)
		}
		test.MustBe(t, ids, []string{"paris", "versailles"})

		near, err = c.Near("cities", 35.6895, 139.6917, 0)
		test.ErrNil(t, err, "Near tokyo")
		if len(near) != 1 || near[0].ID != "tokyo" {
			t.Fatalf("unexpected features near tokyo: %+v", near)
		}

		near, err = c.Near("cities", -33.86, 151.2, 4)
		test.ErrNil(t, err, "Near sydney")
		test.MustBe(t, len(near), 0)
	})
}

func TestNearWithoutIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "plain"}), "creating table")
		if _, err := c.Near("plain", 0, 0, 3); err == nil {
			t.Fatal("expected an error for a table without index")
		}
	})
}

func TestMetadata(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "lakes"}), "creating table")
		id1, err := c.AddMetadata(gpkg.Metadata{MimeType: "application/json", Metadata: `{"id":"lakes"}`}, "lakes")
		test.ErrNil(t, err, "AddMetadata lakes")
		id2, err := c.AddMetadata(gpkg.Metadata{MimeType: "text/plain", Metadata: "whole container"}, "")
		test.ErrNil(t, err, "AddMetadata container")
		test.MustBe(t, []int64{id1, id2}, []int64{1, 2}, "ids")

		mds, err := c.Metadata("lakes")
		test.ErrNil(t, err, "Metadata lakes")
		test.MustBe(t, mds, []gpkg.Metadata{{
			ID:          1,
			Scope:       gpkg.MetadataScopeDataset,
			StandardURI: gpkg.DefaultStandardURI,
			MimeType:    "application/json",
			Metadata:    `{"id":"lakes"}`,
		}})

		refs, err := c.MetadataReferences("lakes")
		test.ErrNil(t, err, "MetadataReferences")
		if len(refs) != 1 || refs[0].ReferenceScope != gpkg.ReferenceScopeTable || refs[0].FileID != 1 {
			t.Fatalf("unexpected references: %+v", refs)
		}
		refs, err = c.MetadataReferences("")
		test.ErrNil(t, err, "container MetadataReferences")
		if len(refs) != 1 || refs[0].ReferenceScope != gpkg.ReferenceScopeGeoPackage || refs[0].FileID != 2 {
			t.Fatalf("unexpected container references: %+v", refs)
		}

		ok, err := c.HasExtension(gpkg.ExtensionMetadata, "gpkg_metadata")
		test.ErrNil(t, err, "HasExtension")
		test.MustBe(t, ok, true, "metadata extension")
	})
}

func TestDeleteTable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		for _, name := range []string{"lakes", "lakes2"} {
			test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: name, GeohashPrecision: 5}), "creating "+name)
			tbl, err := c.Table(name)
			test.ErrNil(t, err, "Table")
			tx, err := tbl.Begin()
			test.ErrNil(t, err, "Begin")
			test.ErrNil(t, tx.Insert(row("x", orb.Point{10, 10}, nil)), "Insert")
			test.ErrNil(t, tx.Commit(), "Commit")
			_, err = c.AddMetadata(gpkg.Metadata{Metadata: name}, name)
			test.ErrNil(t, err, "AddMetadata")
		}

		test.ErrNil(t, c.DeleteTable("lakes"), "DeleteTable")

		ok, err := c.HasTable("lakes")
		test.ErrNil(t, err, "HasTable")
		test.MustBe(t, ok, false, "lakes after delete")
		exts, err := c.Extensions("lakes")
		test.ErrNil(t, err, "Extensions")
		test.MustBe(t, len(exts), 0, "lakes extensions")
		mds, err := c.Metadata("lakes")
		test.ErrNil(t, err, "Metadata")
		test.MustBe(t, len(mds), 0, "lakes metadata")

		// lakes2 shares a prefix and must be untouched
		n, err := c.Count("lakes2")
		test.ErrNil(t, err, "Count lakes2")
		test.MustBe(t, n, 1, "lakes2 rows")
		near, err := c.Near("lakes2", 10, 10, 0)
		test.ErrNil(t, err, "Near lakes2")
		test.MustBe(t, len(near), 1, "lakes2 index")
		mds, err = c.Metadata("lakes2")
		test.ErrNil(t, err, "Metadata lakes2")
		test.MustBe(t, len(mds), 1, "lakes2 metadata")

		// recreated tables start over
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "lakes"}), "recreating")
		tbl, err := c.Table("lakes")
		test.ErrNil(t, err, "Table")
		tx, err := tbl.Begin()
		test.ErrNil(t, err, "Begin")
		test.ErrNil(t, tx.Insert(row("y", nil, nil)), "Insert")
		test.ErrNil(t, tx.Commit(), "Commit")
		f, err := c.Feature("lakes", 1)
		test.ErrNil(t, err, "Feature")
		if f == nil || f.ID != "y" {
			t.Fatalf("unexpected first feature after recreating: %+v", f)
		}
	})
}

func TestSinkIntoTable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *gpkg.Container) {
		test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "pts"}), "creating table")
		tbl, err := c.Table("pts")
		test.ErrNil(t, err, "Table")

		before := time.Now().UTC().Add(-time.Second)
		sum := harvest.NewSink(tbl, 2).Ingest(test.Points(5))
		test.ErrNil(t, sum.Err, "Ingest")
		test.MustBe(t, sum.Inserted, 5)

		n, err := c.Count("pts")
		test.ErrNil(t, err, "Count")
		test.MustBe(t, n, 5)

		ct, err := c.Contents("pts")
		test.ErrNil(t, err, "Contents")
		test.MustBe(t, *ct.Bound, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{4, 0}}, "bound")
		changed, err := ct.LastChangeTime()
		test.ErrNil(t, err, "LastChangeTime")
		if changed.Before(before) {
			t.Fatalf("last change %v not updated", changed)
		}
	})
}

// limitedDB refuses writable transactions once writes reaches 0. A negative
// writes allows any number.
type limitedDB struct {
	kv.DB
	writes int
}

func (d *limitedDB) Begin(writable bool) (kv.Txn, error) {
	if writable && d.writes >= 0 {
		if d.writes == 0 {
			return nil, errors.New("too many open files")
		}
		d.writes--
	}
	return d.DB.Begin(writable)
}

func TestCheckpointCountsCommittedRows(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := &limitedDB{DB: b.open(t), writes: -1}
			c, err := gpkg.Open(db)
			test.ErrNil(t, err, "opening container")
			defer c.Close()
			test.ErrNil(t, c.CreateFeatureTable(gpkg.FeatureTable{Name: "pts"}), "creating table")
			tbl, err := c.Table("pts")
			test.ErrNil(t, err, "Table")

			// the page's transaction begins, then can't continue after the
			// first checkpoint
			db.writes = 1
			sum := harvest.NewSink(tbl, 2).Ingest(test.Points(5))
			var terr *harvest.TransactionError
			if !errors.As(sum.Err, &terr) {
				t.Fatalf("expected *TransactionError, got %v", sum.Err)
			}
			test.MustBe(t, terr.Committed, 2, "committed")
			test.MustBe(t, sum.Inserted, 2, "inserted")

			n, err := c.Count("pts")
			test.ErrNil(t, err, "Count")
			test.MustBe(t, n, 2, "stored")
		})
	}
}
