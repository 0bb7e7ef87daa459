package harvest

import (
	"strconv"
	"strings"
	"time"

	"github.com/pilosa/harvest/proj"
	"github.com/pkg/errors"
)

const (
	// DefaultLimit is the page size servers use when no limit is requested.
	DefaultLimit = 10

	// DefaultAttempts is the number of times each request is tried.
	DefaultAttempts = 3

	// DefaultBatchSize is the number of rows inserted between commits.
	DefaultBatchSize = 1000

	// DefaultProjection is the projection features are requested in.
	DefaultProjection = "EPSG:4326"

	// AcceptHeader is sent with every request.
	AcceptHeader = "application/json,application/geo+json"

	// TimeFormat is used for time filters given as time.Time.
	TimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// BoundingBox is a bbox filter in long/lat.
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// ParseBoundingBox parses "minLon,minLat,maxLon,maxLat".
func ParseBoundingBox(s string) (*BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.Errorf("bounding box '%s' must have 4 comma separated ordinates", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing ordinate %d of bounding box '%s'", i, s)
		}
		vals[i] = v
	}
	b := &BoundingBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	return b, b.Validate()
}

// Validate checks the ordinates. MinLon may be greater than MaxLon for boxes
// crossing the antimeridian.
func (b BoundingBox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLat > b.MaxLat {
		return errors.Errorf("invalid latitude range [%v, %v]", b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return errors.Errorf("invalid longitude range [%v, %v]", b.MinLon, b.MaxLon)
	}
	return nil
}

// String returns the bbox query parameter value.
func (b BoundingBox) String() string {
	return formatOrdinate(b.MinLon) + "," + formatOrdinate(b.MinLat) + "," +
		formatOrdinate(b.MaxLon) + "," + formatOrdinate(b.MaxLat)
}

func formatOrdinate(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Filters restrict the items requested from a collection.
type Filters struct {
	// Time is a date-time or interval adhering to RFC 3339.
	Time string
	// Period is appended to Time as Time/Period when both are set.
	Period string
	BBox   *BoundingBox
}

// SetTime sets the time filter from t, or clears it for the zero time.
func (f *Filters) SetTime(t time.Time) {
	f.Time = formatTime(t)
}

// SetPeriod sets the period filter from t, or clears it for the zero time.
func (f *Filters) SetPeriod(t time.Time) {
	f.Period = formatTime(t)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// HarvestConfig holds the settings of one harvest. It isn't modified once a
// harvest has started.
type HarvestConfig struct {
	Server     string
	Collection string
	Filters    Filters

	// PageLimit is the number of items requested per page. Zero leaves the
	// page size to the server.
	PageLimit int

	// TotalLimit caps the number of items harvested. Zero means no cap.
	TotalLimit int

	// Attempts is the number of times a request is tried before the harvest
	// fails.
	Attempts int

	// BatchSize is the number of rows inserted between commits.
	BatchSize int

	// Projection is the AUTHORITY:CODE the local table is created with.
	Projection string
}

// NewHarvestConfig gets a HarvestConfig with default values.
func NewHarvestConfig(server, collection string) HarvestConfig {
	return HarvestConfig{
		Server:     server,
		Collection: collection,
		Attempts:   DefaultAttempts,
		BatchSize:  DefaultBatchSize,
		Projection: DefaultProjection,
	}
}

// Validate checks the configuration for obvious errors.
func (c HarvestConfig) Validate() error {
	if c.Server == "" {
		return errors.Wrap(ErrMalformedRequest, "server is required")
	}
	if c.Collection == "" {
		return errors.New("collection is required")
	}
	if c.PageLimit < 0 {
		return errors.Errorf("page limit must not be negative, got %d", c.PageLimit)
	}
	if c.TotalLimit < 0 {
		return errors.Errorf("total limit must not be negative, got %d", c.TotalLimit)
	}
	if c.Attempts < 1 {
		return errors.Errorf("attempts must be at least 1, got %d", c.Attempts)
	}
	if c.BatchSize < 1 {
		return errors.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.Filters.Period != "" && c.Filters.Time == "" {
		return errors.New("period requires a time")
	}
	if c.Filters.BBox != nil {
		if err := c.Filters.BBox.Validate(); err != nil {
			return errors.Wrap(err, "validating bounding box")
		}
	}
	if _, err := proj.Parse(c.Projection); err != nil {
		return errors.Wrap(err, "validating projection")
	}
	return nil
}
