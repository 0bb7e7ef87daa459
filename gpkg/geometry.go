package gpkg

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
)

// GeoPackage binary header flags.
const (
	flagLittleEndian = 1 << 0
	flagEnvelopeXY   = 1 << 1
	flagEmpty        = 1 << 4

	envelopeMask = 0x0e
)

var magic = []byte("GP")

// EncodeGeometry encodes g as GeoPackage binary: the "GP" header with the
// srs id and an xy envelope, followed by little endian WKB. Points and empty
// geometries carry no envelope. A nil geometry encodes to nil.
func EncodeGeometry(g orb.Geometry, srsID int32) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "encoding wkb")
	}

	flags := byte(flagLittleEndian)
	var env []float64
	_, point := g.(orb.Point)
	switch {
	case isEmpty(g):
		flags |= flagEmpty
	case !point:
		flags |= flagEnvelopeXY
		b := g.Bound()
		env = []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]}
	}

	buf := make([]byte, 8, 8+8*len(env)+len(body))
	copy(buf, magic)
	buf[3] = flags
	binary.LittleEndian.PutUint32(buf[4:], uint32(srsID))
	for _, f := range env {
		buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.LittleEndian.PutUint64(buf[len(buf)-8:], math.Float64bits(f))
	}
	return append(buf, body...), nil
}

// DecodeGeometry decodes GeoPackage binary, returning the geometry and the
// srs id of the header. Empty data decodes to a nil geometry.
func DecodeGeometry(data []byte) (orb.Geometry, int32, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	if len(data) < 8 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, 0, errors.New("not a geopackage geometry")
	}
	if data[2] != 0 {
		return nil, 0, errors.Errorf("unsupported geopackage geometry version %d", data[2])
	}
	flags := data[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(data[4:8]))

	var envLen int
	switch (flags & envelopeMask) >> 1 {
	case 0:
	case 1:
		envLen = 32
	case 2, 3:
		envLen = 48
	case 4:
		envLen = 64
	default:
		return nil, 0, errors.Errorf("invalid envelope indicator in flags %08b", flags)
	}
	if len(data) < 8+envLen {
		return nil, 0, errors.New("geopackage geometry too short for its envelope")
	}
	g, err := wkb.Unmarshal(data[8+envLen:])
	if err != nil {
		return nil, 0, errors.Wrap(err, "decoding wkb")
	}
	return g, srsID, nil
}

// GeometryTypeName returns the geometry type name of g as it is written in
// gpkg_geometry_columns, e.g. POINT or MULTIPOLYGON.
func GeometryTypeName(g orb.Geometry) string {
	if g == nil {
		return GeometryTypeAny
	}
	return strings.ToUpper(g.GeoJSONType())
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	}
	return false
}
