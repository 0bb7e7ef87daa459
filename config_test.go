package harvest_test

import (
	"context"
	"testing"
	"time"

	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/mock"
	"github.com/pilosa/harvest/test"
)

func TestParseBoundingBox(t *testing.T) {
	b, err := harvest.ParseBoundingBox("-10.5, 40,5,51.25")
	test.ErrNil(t, err, "ParseBoundingBox")
	test.MustBe(t, *b, harvest.BoundingBox{MinLon: -10.5, MinLat: 40, MaxLon: 5, MaxLat: 51.25})
	test.MustBe(t, b.String(), "-10.5,40,5,51.25")

	// antimeridian
	_, err = harvest.ParseBoundingBox("170,-10,-170,10")
	test.ErrNil(t, err, "crossing the antimeridian")

	for _, bad := range []string{"1,2,3", "a,2,3,4", "0,50,1,40", "0,-91,1,0", "-181,0,0,1"} {
		if _, err := harvest.ParseBoundingBox(bad); err == nil {
			t.Errorf("expected an error for '%s'", bad)
		}
	}
}

func TestFiltersSetTime(t *testing.T) {
	var f harvest.Filters
	loc := time.FixedZone("x", 2*3600)
	f.SetTime(time.Date(2021, 3, 4, 7, 8, 9, 123000000, loc))
	test.MustBe(t, f.Time, "2021-03-04T05:08:09.123Z")
	f.SetPeriod(time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC))
	test.MustBe(t, f.Period, "2021-03-05T00:00:00.000Z")
	f.SetTime(time.Time{})
	test.MustBe(t, f.Time, "")
}

func TestHarvestConfigValidate(t *testing.T) {
	valid := harvest.NewHarvestConfig("https://x", "c")
	test.ErrNil(t, valid.Validate(), "defaults")
	test.MustBe(t, valid.Attempts, 3)
	test.MustBe(t, valid.BatchSize, 1000)
	test.MustBe(t, valid.Projection, "EPSG:4326")

	tests := []struct {
		name   string
		modify func(c *harvest.HarvestConfig)
	}{
		{"no server", func(c *harvest.HarvestConfig) { c.Server = "" }},
		{"no collection", func(c *harvest.HarvestConfig) { c.Collection = "" }},
		{"negative page limit", func(c *harvest.HarvestConfig) { c.PageLimit = -1 }},
		{"negative total limit", func(c *harvest.HarvestConfig) { c.TotalLimit = -1 }},
		{"no attempts", func(c *harvest.HarvestConfig) { c.Attempts = 0 }},
		{"no batch size", func(c *harvest.HarvestConfig) { c.BatchSize = 0 }},
		{"period without time", func(c *harvest.HarvestConfig) { c.Filters.Period = "P1D" }},
		{"bad bbox", func(c *harvest.HarvestConfig) { c.Filters.BBox = &harvest.BoundingBox{MinLat: 10, MaxLat: 0} }},
		{"bad projection", func(c *harvest.HarvestConfig) { c.Projection = "FOO:1" }},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			c := harvest.NewHarvestConfig("https://x", "c")
			tst.modify(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestHarvestConfigEmptyServer(t *testing.T) {
	cfg := harvest.NewHarvestConfig("", "lakes")
	test.ErrIs(t, cfg.Validate(), harvest.ErrMalformedRequest, "Validate")

	// Run fails the same way, before anything is requested
	f := &mock.Fetcher{}
	_, err := harvest.NewHarvester(cfg, f, harvest.NewSink(&mock.Table{}, cfg.BatchSize)).Run(context.Background())
	test.ErrIs(t, err, harvest.ErrMalformedRequest, "Run")
	test.MustBe(t, len(f.Requested), 0, "requests")
}
