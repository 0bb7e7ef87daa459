package harvest

import (
	"encoding/json"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Row is a feature in the shape the local table stores it. Property values
// are nil, bool, float64 or string.
type Row struct {
	FeatureID  string
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// Mapper converts a decoded feature into a Row.
type Mapper interface {
	Map(f *geojson.Feature) (*Row, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(f *geojson.Feature) (*Row, error)

// Map implements Mapper.
func (m MapperFunc) Map(f *geojson.Feature) (*Row, error) {
	return m(f)
}

// DefaultMapper keeps the geometry as is and flattens property values.
// Objects and arrays are stored as their JSON text.
type DefaultMapper struct{}

// Map implements Mapper.
func (DefaultMapper) Map(f *geojson.Feature) (*Row, error) {
	if f == nil {
		return nil, errors.New("null feature")
	}
	row := &Row{
		FeatureID:  FeatureID(f),
		Geometry:   f.Geometry,
		Properties: make(map[string]interface{}, len(f.Properties)),
	}
	for k, v := range f.Properties {
		if k == "" {
			return nil, errors.New("empty property name")
		}
		val, err := flatten(v)
		if err != nil {
			return nil, errors.Wrapf(err, "property '%s'", k)
		}
		row.Properties[k] = val
	}
	return row, nil
}

func flatten(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case nil, bool, string, float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		return f, errors.Wrap(err, "converting number")
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "encoding nested value")
		}
		return string(b), nil
	default:
		return nil, errors.Errorf("unsupported value of type %T", v)
	}
}

// FeatureID returns the identifier of f as a string. Numeric identifiers are
// formatted without exponent; a missing identifier is "".
func FeatureID(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	switch id := f.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		b, _ := json.Marshal(id)
		return string(b)
	}
}
