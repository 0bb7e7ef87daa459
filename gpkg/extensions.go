package gpkg

import (
	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

// Extension names registered by this package.
const (
	ExtensionGeohashIndex = "harvest_geohash_index"
	ExtensionMetadata     = "gpkg_metadata"

	geohashIndexDefinition = "geohash of the center of each geometry's bounding box"
	metadataDefinition     = "http://www.geopackage.org/spec/#extension_metadata"
)

// Extension is a row of gpkg_extensions. TableName and ColumnName are empty
// for extensions which apply to the whole container.
type Extension struct {
	TableName     string
	ColumnName    string
	ExtensionName string
	Definition    string
	Scope         string
}

func extensionKey(e Extension) []byte {
	return key(extensionsPrefix, e.TableName, "/", e.ColumnName, "/", e.ExtensionName)
}

func putExtension(tx kv.Txn, e Extension) error {
	val, err := encode(extensionCodec, map[string]interface{}{
		"table_name":     nullString(e.TableName),
		"column_name":    nullString(e.ColumnName),
		"extension_name": e.ExtensionName,
		"definition":     e.Definition,
		"scope":          e.Scope,
	})
	if err != nil {
		return errors.Wrap(err, "encoding extension")
	}
	return tx.Put(extensionKey(e), val)
}

// Extensions lists gpkg_extensions. If table is not empty only the
// extensions of that table are listed.
func (c *Container) Extensions(table string) ([]Extension, error) {
	prefix := []byte(extensionsPrefix)
	if table != "" {
		prefix = key(extensionsPrefix, table, "/")
	}
	var list []Extension
	err := kv.View(c.db, func(tx kv.Txn) error {
		return tx.Scan(prefix, func(_, v []byte) error {
			rec, err := decode(extensionCodec, v)
			if err != nil {
				return errors.Wrap(err, "decoding extension")
			}
			list = append(list, Extension{
				TableName:     branchString(rec["table_name"]),
				ColumnName:    branchString(rec["column_name"]),
				ExtensionName: str(rec["extension_name"]),
				Definition:    str(rec["definition"]),
				Scope:         str(rec["scope"]),
			})
			return nil
		})
	})
	return list, err
}

// HasExtension reports whether an extension is registered for a table, or
// for the whole container if table is empty.
func (c *Container) HasExtension(name, table string) (bool, error) {
	list, err := c.Extensions(table)
	if err != nil {
		return false, err
	}
	for _, e := range list {
		if e.ExtensionName == name && e.TableName == table {
			return true, nil
		}
	}
	return false, nil
}
