// Package proj maps coordinate reference system identifiers advertised by OGC
// API Features servers onto the projections known locally. Everything in this
// package is a pure lookup; nothing performs I/O.
package proj

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Authorities and codes of the default projections.
const (
	AuthorityOGC  = "OGC"
	AuthorityEPSG = "EPSG"
	AuthorityNone = "NONE"

	OGCCRS84 = "CRS84"
	OGCCRS83 = "CRS83"
	OGCCRS27 = "CRS27"

	EPSGWorldGeodeticSystem = 4326
	EPSGWebMercator         = 3857
)

// Undefined is the definition stored for spatial reference systems which are
// known by code only.
const Undefined = "undefined"

// Projection is a locally known coordinate reference system.
type Projection struct {
	Authority  string
	Code       string
	Name       string
	Definition string

	// SRSID is the spatial reference system id used in the local container.
	// OGC CRS84 and friends share the id of their EPSG equivalent.
	SRSID int32

	// Geographic is true for long/lat systems whose ordinates can be geohashed.
	Geographic bool
}

// String returns the AUTHORITY:CODE form of p.
func (p *Projection) String() string {
	return p.Authority + ":" + p.Code
}

// Is reports whether p identifies the given authority and code.
func (p *Projection) Is(authority, code string) bool {
	return p.Authority == strings.ToUpper(authority) && p.Code == strings.ToUpper(code)
}

const (
	wgs84Datum = `DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]]`
	greenwich  = `PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]]`
	degree     = `UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]]`
	wgs84      = `GEOGCS["WGS 84",` + wgs84Datum + `,` + greenwich + `,` + degree + `,AUTHORITY["EPSG","4326"]]`
	crs84      = `GEOGCS["WGS 84 (CRS84)",` + wgs84Datum + `,` + greenwich + `,` + degree + `,AXIS["Longitude",EAST],AXIS["Latitude",NORTH],AUTHORITY["OGC","CRS84"]]`
	nad83      = `GEOGCS["NAD83",DATUM["North_American_Datum_1983",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6269"]],` + greenwich + `,` + degree + `,AUTHORITY["EPSG","4269"]]`
	nad27      = `GEOGCS["NAD27",DATUM["North_American_Datum_1927",SPHEROID["Clarke 1866",6378206.4,294.9786982138982,AUTHORITY["EPSG","7008"]],AUTHORITY["EPSG","6267"]],` + greenwich + `,` + degree + `,AUTHORITY["EPSG","4267"]]`
	etrs89     = `GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6258"]],` + greenwich + `,` + degree + `,AUTHORITY["EPSG","4258"]]`
	webMerc    = `PROJCS["WGS 84 / Pseudo-Mercator",` + wgs84 + `,PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["X",EAST],AXIS["Y",NORTH],AUTHORITY["EPSG","3857"]]`
	worldMerc  = `PROJCS["WGS 84 / World Mercator",` + wgs84 + `,PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","3395"]]`
)

var catalog = map[string]map[string]Projection{
	AuthorityOGC: {
		OGCCRS84: {Name: "WGS 84 (CRS84)", Definition: crs84, SRSID: 4326, Geographic: true},
		OGCCRS83: {Name: "NAD83 (CRS83)", Definition: nad83, SRSID: 4269, Geographic: true},
		OGCCRS27: {Name: "NAD27 (CRS27)", Definition: nad27, SRSID: 4267, Geographic: true},
	},
	AuthorityEPSG: {
		"4326": {Name: "WGS 84", Definition: wgs84, SRSID: 4326, Geographic: true},
		"4269": {Name: "NAD83", Definition: nad83, SRSID: 4269, Geographic: true},
		"4267": {Name: "NAD27", Definition: nad27, SRSID: 4267, Geographic: true},
		"4258": {Name: "ETRS89", Definition: etrs89, SRSID: 4258, Geographic: true},
		"3857": {Name: "WGS 84 / Pseudo-Mercator", Definition: webMerc, SRSID: 3857},
		"3395": {Name: "WGS 84 / World Mercator", Definition: worldMerc, SRSID: 3395},
	},
}

// Lookup returns the local projection for authority and code. EPSG codes
// missing from the catalog are still known, with an undefined definition, as
// long as they are numeric.
func Lookup(authority, code string) (*Projection, bool) {
	authority, code = strings.ToUpper(authority), strings.ToUpper(code)
	if p, ok := catalog[authority][code]; ok {
		p.Authority, p.Code = authority, code
		return &p, true
	}
	if authority != AuthorityEPSG {
		return nil, false
	}
	id, err := strconv.ParseInt(code, 10, 32)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &Projection{
		Authority:  authority,
		Code:       code,
		Name:       fmt.Sprintf("EPSG:%d", id),
		Definition: Undefined,
		SRSID:      int32(id),
	}, true
}

// Parse parses a CRS identifier and looks it up in the local catalog.
func Parse(crs string) (*Projection, error) {
	authority, code, ok := ParseCRS(crs)
	if !ok {
		return nil, errors.Errorf("invalid crs identifier '%s'", crs)
	}
	p, ok := Lookup(authority, code)
	if !ok {
		return nil, errors.Errorf("unknown projection %s:%s", authority, code)
	}
	return p, nil
}

var crsURIPrefixes = []string{
	"http://www.opengis.net/def/crs/",
	"https://www.opengis.net/def/crs/",
}

const crsURNPrefix = "urn:ogc:def:crs:"

// ParseCRS splits a CRS identifier into authority and code. It understands
// the OGC URI form (http://www.opengis.net/def/crs/EPSG/0/4326), the OGC URN
// form (urn:ogc:def:crs:EPSG::4326) and the short AUTHORITY:CODE form.
func ParseCRS(crs string) (authority, code string, ok bool) {
	crs = strings.TrimSpace(crs)
	lower := strings.ToLower(crs)
	var parts []string
	switch {
	case hasAnyPrefix(lower, crsURIPrefixes):
		rest := crs[strings.Index(lower, "/def/crs/")+len("/def/crs/"):]
		parts = strings.Split(strings.TrimSuffix(rest, "/"), "/")
		if len(parts) != 3 {
			return "", "", false
		}
		authority, code = parts[0], parts[2]
	case strings.HasPrefix(lower, crsURNPrefix):
		parts = strings.Split(crs[len(crsURNPrefix):], ":")
		if len(parts) != 3 {
			return "", "", false
		}
		authority, code = parts[0], parts[2]
	default:
		parts = strings.Split(crs, ":")
		if len(parts) != 2 {
			return "", "", false
		}
		authority, code = parts[0], parts[1]
	}
	authority, code = strings.ToUpper(strings.TrimSpace(authority)), strings.ToUpper(strings.TrimSpace(code))
	if authority == "" || code == "" || strings.ContainsAny(authority+code, "/: ") {
		return "", "", false
	}
	return authority, code, true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
