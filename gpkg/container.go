// Package gpkg keeps features in a container laid out like a GeoPackage: the
// system tables gpkg_spatial_ref_sys, gpkg_contents, gpkg_geometry_columns,
// gpkg_extensions, gpkg_metadata and gpkg_metadata_reference, and one key
// space of rows per feature table, all stored in a kv.DB.
package gpkg

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/kv"
	"github.com/pilosa/harvest/proj"
	"github.com/pkg/errors"
)

// Values written to the system tables.
const (
	DataTypeFeatures = "features"

	DefaultGeometryColumn = "geom"
	GeometryTypeAny       = "GEOMETRY"

	ExtensionScopeReadWrite = "read-write"
	ExtensionScopeWriteOnly = "write-only"

	MetadataScopeDataset = "dataset"
	DefaultStandardURI   = "http://schemas.opengis.net/iso/19139"

	ReferenceScopeGeoPackage = "geopackage"
	ReferenceScopeTable      = "table"

	timestampFormat = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrNoTable is returned for operations on a table which doesn't exist.
	ErrNoTable = errors.New("no such table")
	// ErrTableExists is returned when creating a table which exists.
	ErrTableExists = errors.New("table already exists")
)

// key spaces
const (
	srsPrefix        = "srs/"
	contentsPrefix   = "contents/"
	geomColsPrefix   = "geometry_columns/"
	extensionsPrefix = "extensions/"
	metadataPrefix   = "metadata/"
	mdRefPrefix      = "metadata_reference/"
	indexPrefix      = "index/"
	featuresPrefix   = "f/"
	geohashPrefix    = "geohash/"
	seqPrefix        = "seq/"
)

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, ""))
}

func fidBytes(fid int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(fid))
	return b
}

func appendFID(prefix []byte, fid int64) []byte {
	return append(append([]byte(nil), prefix...), fidBytes(fid)...)
}

// Container is an open container.
type Container struct {
	db  kv.DB
	Log harvest.Logger

	now func() time.Time
}

// Open opens the container stored in db, adding the required spatial
// reference systems if they are missing.
func Open(db kv.DB) (*Container, error) {
	c := &Container{
		db:  db,
		Log: harvest.NopLogger{},
		now: time.Now,
	}
	wgs84, _ := proj.Lookup(proj.AuthorityEPSG, "4326")
	required := []SpatialRefSys{
		{
			Name:                   "Undefined cartesian SRS",
			ID:                     -1,
			Organization:           proj.AuthorityNone,
			OrganizationCoordsysID: -1,
			Definition:             proj.Undefined,
			Description:            "undefined cartesian coordinate reference system",
		},
		{
			Name:                   "Undefined geographic SRS",
			ID:                     0,
			Organization:           proj.AuthorityNone,
			OrganizationCoordsysID: 0,
			Definition:             proj.Undefined,
			Description:            "undefined geographic coordinate reference system",
		},
		{
			Name:                   "WGS 84 geodetic",
			ID:                     proj.EPSGWorldGeodeticSystem,
			Organization:           proj.AuthorityEPSG,
			OrganizationCoordsysID: proj.EPSGWorldGeodeticSystem,
			Definition:             wgs84.Definition,
			Description:            "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid",
		},
	}
	err := kv.Update(db, func(tx kv.Txn) error {
		for _, srs := range required {
			if err := putSRS(tx, srs, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "adding required spatial reference systems")
	}
	return c, nil
}

// Close closes the underlying store.
func (c *Container) Close() error {
	return c.db.Close()
}

func (c *Container) timestamp() string {
	return c.now().UTC().Format(timestampFormat)
}

// SpatialRefSys is a row of gpkg_spatial_ref_sys.
type SpatialRefSys struct {
	Name                   string
	ID                     int32
	Organization           string
	OrganizationCoordsysID int32
	Definition             string
	Description            string
}

func putSRS(tx kv.Txn, srs SpatialRefSys, replace bool) error {
	k := key(srsPrefix, itoa(int64(srs.ID)))
	if !replace {
		v, err := tx.Get(k)
		if err != nil {
			return err
		}
		if v != nil {
			return nil
		}
	}
	val, err := encode(srsCodec, map[string]interface{}{
		"srs_name":                 srs.Name,
		"srs_id":                   srs.ID,
		"organization":             srs.Organization,
		"organization_coordsys_id": srs.OrganizationCoordsysID,
		"definition":               srs.Definition,
		"description":              nullString(srs.Description),
	})
	if err != nil {
		return errors.Wrap(err, "encoding spatial reference system")
	}
	return tx.Put(k, val)
}

func decodeSRS(data []byte) (SpatialRefSys, error) {
	rec, err := decode(srsCodec, data)
	if err != nil {
		return SpatialRefSys{}, errors.Wrap(err, "decoding spatial reference system")
	}
	return SpatialRefSys{
		Name:                   str(rec["srs_name"]),
		ID:                     int32Of(rec["srs_id"]),
		Organization:           str(rec["organization"]),
		OrganizationCoordsysID: int32Of(rec["organization_coordsys_id"]),
		Definition:             str(rec["definition"]),
		Description:            branchString(rec["description"]),
	}, nil
}

// SpatialRefSystems lists gpkg_spatial_ref_sys.
func (c *Container) SpatialRefSystems() ([]SpatialRefSys, error) {
	var list []SpatialRefSys
	err := kv.View(c.db, func(tx kv.Txn) error {
		return tx.Scan([]byte(srsPrefix), func(_, v []byte) error {
			srs, err := decodeSRS(v)
			list = append(list, srs)
			return err
		})
	})
	return list, err
}

// SpatialRefSysByID gets a row of gpkg_spatial_ref_sys, or nil if there is
// none with that id.
func (c *Container) SpatialRefSysByID(id int32) (*SpatialRefSys, error) {
	var srs *SpatialRefSys
	err := kv.View(c.db, func(tx kv.Txn) error {
		v, err := tx.Get(key(srsPrefix, itoa(int64(id))))
		if err != nil || v == nil {
			return err
		}
		s, err := decodeSRS(v)
		srs = &s
		return err
	})
	return srs, err
}

// projectionSRS gets the gpkg_spatial_ref_sys row for p. OGC CRS84 and
// friends are stored as their EPSG equivalent.
func projectionSRS(p *proj.Projection) SpatialRefSys {
	if p.Authority == proj.AuthorityOGC {
		if e, ok := proj.Lookup(proj.AuthorityEPSG, strconv.Itoa(int(p.SRSID))); ok {
			p = e
		}
	}
	code, _ := strconv.ParseInt(p.Code, 10, 32)
	return SpatialRefSys{
		Name:                   p.Name,
		ID:                     p.SRSID,
		Organization:           p.Authority,
		OrganizationCoordsysID: int32(code),
		Definition:             p.Definition,
	}
}

// FeatureTable describes a feature table to create.
type FeatureTable struct {
	Name        string
	Identifier  string
	Description string

	// GeometryColumn defaults to DefaultGeometryColumn.
	GeometryColumn string
	// Projection defaults to EPSG:4326.
	Projection *proj.Projection

	// GeohashPrecision is the number of geohash characters indexed for each
	// geometry. 0 disables the index. It only applies to geographic
	// projections.
	GeohashPrecision uint
}

// ValidateTableName checks that name can be used as a feature table.
func ValidateTableName(name string) error {
	switch {
	case name == "":
		return errors.New("empty table name")
	case strings.Contains(name, "/"):
		return errors.Errorf("table name '%s' contains '/'", name)
	case strings.HasPrefix(strings.ToLower(name), "gpkg_"):
		return errors.Errorf("table name '%s' is reserved", name)
	}
	return nil
}

// CreateFeatureTable creates a feature table along with its rows in
// gpkg_contents, gpkg_geometry_columns and, when indexed,
// gpkg_extensions.
func (c *Container) CreateFeatureTable(ft FeatureTable) error {
	if err := ValidateTableName(ft.Name); err != nil {
		return err
	}
	if ft.GeometryColumn == "" {
		ft.GeometryColumn = DefaultGeometryColumn
	}
	if ft.Identifier == "" {
		ft.Identifier = ft.Name
	}
	if ft.Projection == nil {
		p, _ := proj.Lookup(proj.AuthorityEPSG, "4326")
		ft.Projection = p
	}
	srs := projectionSRS(ft.Projection)

	return kv.Update(c.db, func(tx kv.Txn) error {
		v, err := tx.Get(key(contentsPrefix, ft.Name))
		if err != nil {
			return err
		}
		if v != nil {
			return errors.Wrap(ErrTableExists, ft.Name)
		}
		if err := putSRS(tx, srs, false); err != nil {
			return err
		}
		err = putContents(tx, Contents{
			TableName:   ft.Name,
			DataType:    DataTypeFeatures,
			Identifier:  ft.Identifier,
			Description: ft.Description,
			LastChange:  c.timestamp(),
			SRSID:       srs.ID,
		})
		if err != nil {
			return err
		}
		err = putGeometryColumn(tx, GeometryColumn{
			TableName:        ft.Name,
			ColumnName:       ft.GeometryColumn,
			GeometryTypeName: GeometryTypeAny,
			SRSID:            srs.ID,
		})
		if err != nil {
			return err
		}
		if ft.GeohashPrecision > 0 && ft.Projection.Geographic {
			return createIndex(tx, ft.Name, ft.GeometryColumn, ft.GeohashPrecision)
		}
		return nil
	})
}

// HasTable reports whether a table has a row in gpkg_contents.
func (c *Container) HasTable(name string) (bool, error) {
	var ok bool
	err := kv.View(c.db, func(tx kv.Txn) error {
		v, err := tx.Get(key(contentsPrefix, name))
		ok = v != nil
		return err
	})
	return ok, err
}

// DeleteTable deletes a table's rows and everything describing it: its
// contents, geometry columns, index, extensions and metadata references.
func (c *Container) DeleteTable(name string) error {
	return kv.Update(c.db, func(tx kv.Txn) error {
		v, err := tx.Get(key(contentsPrefix, name))
		if err != nil {
			return err
		}
		if v == nil {
			return errors.Wrap(ErrNoTable, name)
		}
		for _, k := range [][]byte{
			key(contentsPrefix, name),
			key(geomColsPrefix, name),
			key(indexPrefix, name),
			key(seqPrefix, featuresPrefix, name),
		} {
			if err := tx.Delete(k); err != nil {
				return errors.Wrapf(err, "deleting %s", k)
			}
		}
		for _, prefix := range [][]byte{
			key(featuresPrefix, name, "/"),
			key(geohashPrefix, name, "/"),
			key(extensionsPrefix, name, "/"),
			key(mdRefPrefix, name, "/"),
		} {
			if err := deletePrefix(tx, prefix); err != nil {
				return errors.Wrapf(err, "deleting %s", prefix)
			}
		}
		return nil
	})
}

func deletePrefix(tx kv.Txn, prefix []byte) error {
	keys, err := kv.Keys(tx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Contents is a row of gpkg_contents. Bound is nil until the table has a
// geometry.
type Contents struct {
	TableName   string
	DataType    string
	Identifier  string
	Description string
	LastChange  string
	Bound       *orb.Bound
	SRSID       int32
}

// LastChangeTime parses LastChange.
func (ct Contents) LastChangeTime() (time.Time, error) {
	return time.Parse(timestampFormat, ct.LastChange)
}

func putContents(tx kv.Txn, ct Contents) error {
	rec := map[string]interface{}{
		"table_name":  ct.TableName,
		"data_type":   ct.DataType,
		"identifier":  ct.Identifier,
		"description": ct.Description,
		"last_change": ct.LastChange,
		"min_x":       nil,
		"min_y":       nil,
		"max_x":       nil,
		"max_y":       nil,
		"srs_id":      nullable("int", ct.SRSID),
	}
	if b := ct.Bound; b != nil {
		rec["min_x"] = nullable("double", b.Min[0])
		rec["min_y"] = nullable("double", b.Min[1])
		rec["max_x"] = nullable("double", b.Max[0])
		rec["max_y"] = nullable("double", b.Max[1])
	}
	val, err := encode(contentsCodec, rec)
	if err != nil {
		return errors.Wrap(err, "encoding contents")
	}
	return tx.Put(key(contentsPrefix, ct.TableName), val)
}

func getContents(tx kv.Txn, name string) (*Contents, error) {
	v, err := tx.Get(key(contentsPrefix, name))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrap(ErrNoTable, name)
	}
	rec, err := decode(contentsCodec, v)
	if err != nil {
		return nil, errors.Wrap(err, "decoding contents")
	}
	ct := &Contents{
		TableName:   str(rec["table_name"]),
		DataType:    str(rec["data_type"]),
		Identifier:  str(rec["identifier"]),
		Description: str(rec["description"]),
		LastChange:  str(rec["last_change"]),
	}
	if id, ok := branch(rec["srs_id"]).(int32); ok {
		ct.SRSID = id
	}
	minX, ok1 := branch(rec["min_x"]).(float64)
	minY, ok2 := branch(rec["min_y"]).(float64)
	maxX, ok3 := branch(rec["max_x"]).(float64)
	maxY, ok4 := branch(rec["max_y"]).(float64)
	if ok1 && ok2 && ok3 && ok4 {
		ct.Bound = &orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
	}
	return ct, nil
}

// Contents gets the gpkg_contents row of a table.
func (c *Container) Contents(name string) (*Contents, error) {
	var ct *Contents
	err := kv.View(c.db, func(tx kv.Txn) (err error) {
		ct, err = getContents(tx, name)
		return err
	})
	return ct, err
}

// Tables lists the tables in gpkg_contents, in name order.
func (c *Container) Tables() ([]string, error) {
	var names []string
	err := kv.View(c.db, func(tx kv.Txn) error {
		return tx.Scan([]byte(contentsPrefix), func(k, _ []byte) error {
			names = append(names, string(k[len(contentsPrefix):]))
			return nil
		})
	})
	return names, err
}

// GeometryColumn is a row of gpkg_geometry_columns. Z and M are 0
// (prohibited), 1 (mandatory) or 2 (optional).
type GeometryColumn struct {
	TableName        string
	ColumnName       string
	GeometryTypeName string
	SRSID            int32
	Z, M             int32
}

func putGeometryColumn(tx kv.Txn, gc GeometryColumn) error {
	val, err := encode(geometryColumnCodec, map[string]interface{}{
		"table_name":         gc.TableName,
		"column_name":        gc.ColumnName,
		"geometry_type_name": gc.GeometryTypeName,
		"srs_id":             gc.SRSID,
		"z":                  gc.Z,
		"m":                  gc.M,
	})
	if err != nil {
		return errors.Wrap(err, "encoding geometry column")
	}
	return tx.Put(key(geomColsPrefix, gc.TableName), val)
}

// GeometryColumn gets the gpkg_geometry_columns row of a table.
func (c *Container) GeometryColumn(name string) (*GeometryColumn, error) {
	var gc *GeometryColumn
	err := kv.View(c.db, func(tx kv.Txn) error {
		v, err := tx.Get(key(geomColsPrefix, name))
		if err != nil {
			return err
		}
		if v == nil {
			return errors.Wrap(ErrNoTable, name)
		}
		rec, err := decode(geometryColumnCodec, v)
		if err != nil {
			return errors.Wrap(err, "decoding geometry column")
		}
		gc = &GeometryColumn{
			TableName:        str(rec["table_name"]),
			ColumnName:       str(rec["column_name"]),
			GeometryTypeName: str(rec["geometry_type_name"]),
			SRSID:            int32Of(rec["srs_id"]),
			Z:                int32Of(rec["z"]),
			M:                int32Of(rec["m"]),
		}
		return nil
	})
	return gc, err
}

func errUnexpected(v interface{}) error {
	return errors.Errorf("unexpected decoded value of type %T", v)
}

// itoa zero pads ids so that keys sort numerically.
func itoa(i int64) string {
	return fmt.Sprintf("%020d", i)
}
