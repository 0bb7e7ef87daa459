package gpkg

import (
	"github.com/linkedin/goavro/v2"
)

// Records of every table are stored in Avro binary. Nullable columns are
// unions with null, in goavro's native form.

const srsSchema = `{
	"type": "record", "name": "spatial_ref_sys", "namespace": "gpkg",
	"fields": [
		{"name": "srs_name", "type": "string"},
		{"name": "srs_id", "type": "int"},
		{"name": "organization", "type": "string"},
		{"name": "organization_coordsys_id", "type": "int"},
		{"name": "definition", "type": "string"},
		{"name": "description", "type": ["null", "string"], "default": null}
	]
}`

const contentsSchema = `{
	"type": "record", "name": "contents", "namespace": "gpkg",
	"fields": [
		{"name": "table_name", "type": "string"},
		{"name": "data_type", "type": "string"},
		{"name": "identifier", "type": "string"},
		{"name": "description", "type": "string"},
		{"name": "last_change", "type": "string"},
		{"name": "min_x", "type": ["null", "double"], "default": null},
		{"name": "min_y", "type": ["null", "double"], "default": null},
		{"name": "max_x", "type": ["null", "double"], "default": null},
		{"name": "max_y", "type": ["null", "double"], "default": null},
		{"name": "srs_id", "type": ["null", "int"], "default": null}
	]
}`

const geometryColumnSchema = `{
	"type": "record", "name": "geometry_columns", "namespace": "gpkg",
	"fields": [
		{"name": "table_name", "type": "string"},
		{"name": "column_name", "type": "string"},
		{"name": "geometry_type_name", "type": "string"},
		{"name": "srs_id", "type": "int"},
		{"name": "z", "type": "int"},
		{"name": "m", "type": "int"}
	]
}`

const extensionSchema = `{
	"type": "record", "name": "extensions", "namespace": "gpkg",
	"fields": [
		{"name": "table_name", "type": ["null", "string"], "default": null},
		{"name": "column_name", "type": ["null", "string"], "default": null},
		{"name": "extension_name", "type": "string"},
		{"name": "definition", "type": "string"},
		{"name": "scope", "type": "string"}
	]
}`

const metadataSchema = `{
	"type": "record", "name": "metadata", "namespace": "gpkg",
	"fields": [
		{"name": "id", "type": "long"},
		{"name": "md_scope", "type": "string"},
		{"name": "md_standard_uri", "type": "string"},
		{"name": "mime_type", "type": "string"},
		{"name": "metadata", "type": "string"}
	]
}`

const metadataReferenceSchema = `{
	"type": "record", "name": "metadata_reference", "namespace": "gpkg",
	"fields": [
		{"name": "reference_scope", "type": "string"},
		{"name": "table_name", "type": ["null", "string"], "default": null},
		{"name": "column_name", "type": ["null", "string"], "default": null},
		{"name": "row_id_value", "type": ["null", "long"], "default": null},
		{"name": "timestamp", "type": "string"},
		{"name": "md_file_id", "type": "long"},
		{"name": "md_parent_id", "type": ["null", "long"], "default": null}
	]
}`

const indexSchema = `{
	"type": "record", "name": "geohash_index", "namespace": "harvest",
	"fields": [
		{"name": "column_name", "type": "string"},
		{"name": "precision", "type": "int"}
	]
}`

const featureSchema = `{
	"type": "record", "name": "feature", "namespace": "harvest",
	"fields": [
		{"name": "fid", "type": "long"},
		{"name": "id", "type": "string"},
		{"name": "geom", "type": ["null", "bytes"], "default": null},
		{"name": "properties", "type": {"type": "map", "values": ["null", "boolean", "double", "string"]}}
	]
}`

var (
	srsCodec               = mustCodec(srsSchema)
	contentsCodec          = mustCodec(contentsSchema)
	geometryColumnCodec    = mustCodec(geometryColumnSchema)
	extensionCodec         = mustCodec(extensionSchema)
	metadataCodec          = mustCodec(metadataSchema)
	metadataReferenceCodec = mustCodec(metadataReferenceSchema)
	indexCodec             = mustCodec(indexSchema)
	featureCodec           = mustCodec(featureSchema)
)

func mustCodec(schema string) *goavro.Codec {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		panic(err)
	}
	return codec
}

// encode and decode work on records as map[string]interface{}.
func encode(codec *goavro.Codec, rec map[string]interface{}) ([]byte, error) {
	return codec.BinaryFromNative(nil, rec)
}

func decode(codec *goavro.Codec, data []byte) (map[string]interface{}, error) {
	native, _, err := codec.NativeFromBinary(data)
	if err != nil {
		return nil, err
	}
	rec, ok := native.(map[string]interface{})
	if !ok {
		return nil, errUnexpected(native)
	}
	return rec, nil
}

// nullable wraps v as a union branch, or null if v is nil.
func nullable(typ string, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return goavro.Union(typ, v)
}

// nullString maps "" to null.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}

// branch unwraps a decoded union, returning nil for null.
func branch(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, val := range m {
		return val
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func branchString(v interface{}) string {
	return str(branch(v))
}

func int32Of(v interface{}) int32 {
	i, _ := v.(int32)
	return i
}

func int64Of(v interface{}) int64 {
	i, _ := v.(int64)
	return i
}
