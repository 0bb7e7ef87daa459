package harvest_test

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/mock"
	"github.com/pilosa/harvest/test"
	"github.com/pkg/errors"
)

const lakesCollection = `{
	"id": "lakes",
	"title": "Lakes",
	"crs": ["http://www.opengis.net/def/crs/OGC/1.3/CRS84", "http://www.opengis.net/def/crs/EPSG/0/3857"],
	"extent": {"spatial": {"bbox": [[-180, -90, 180, 90]]}},
	"links": [
		{"rel": "self", "href": "https://x/collections/lakes"},
		{"rel": "items", "href": "https://x/collections/lakes/items", "type": "application/geo+json"},
		{"rel": "items", "href": "https://x/collections/lakes/items?f=html", "type": "text/html"}
	]
}`

func TestDecodeCollection(t *testing.T) {
	c, err := harvest.DecodeCollection([]byte(lakesCollection))
	test.ErrNil(t, err, "DecodeCollection")
	test.MustBe(t, c.ID, "lakes")
	test.MustBe(t, len(c.CRS), 2)
	test.MustBe(t, string(c.Raw), lakesCollection)
	if c.Extent == nil || c.Extent.Spatial == nil || len(c.Extent.Spatial.BBox) != 1 {
		t.Fatalf("extent not decoded: %+v", c.Extent)
	}
	rels := c.RelationLinks()
	test.MustBe(t, len(rels["items"]), 2, "items links")
	test.MustBe(t, rels["items"][1].Type, "text/html", "order of items links")

	_, err = harvest.DecodeCollection([]byte(`{"id": `))
	var derr *harvest.DecodeError
	if !errors.As(err, &derr) || derr.Document != "collection" {
		t.Fatalf("expected a DecodeError, got %v", err)
	}
}

func TestResolveCollection(t *testing.T) {
	f := &mock.Fetcher{Docs: map[string]string{
		"https://x/collections/lakes": lakesCollection,
		"https://x/collections/bad":   "<html>",
	}}
	log := &mock.RecordingLogger{}
	ctx := context.Background()

	c := harvest.ResolveCollection(ctx, f, "https://x/collections/lakes", log)
	if c == nil || c.ID != "lakes" {
		t.Fatalf("unexpected collection: %+v", c)
	}
	if c := harvest.ResolveCollection(ctx, f, "https://x/collections/bad", log); c != nil {
		t.Fatalf("expected no collection for an undecodable document, got %+v", c)
	}
	if c := harvest.ResolveCollection(ctx, f, "https://x/collections/missing", log); c != nil {
		t.Fatalf("expected no collection for a failed request, got %+v", c)
	}
	if !log.Contains("failed to translate collection") || !log.Contains("failed to request the collection") {
		t.Fatalf("failures not logged: %v", log.Lines)
	}
}

func TestDecodeFeatureCollection(t *testing.T) {
	doc := `{
		"type": "FeatureCollection",
		"numberReturned": 2,
		"numberMatched": 10,
		"features": [
			{"type": "Feature", "id": 7, "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"name": "a"}},
			{"type": "Feature", "id": "b", "geometry": null, "properties": {}}
		],
		"links": [
			{"rel": "self", "href": "https://x/items"},
			{"rel": "next", "href": "https://x/items?offset=2"}
		]
	}`
	fc, err := harvest.DecodeFeatureCollection([]byte(doc))
	test.ErrNil(t, err, "DecodeFeatureCollection")
	test.MustBe(t, len(fc.Features), 2)
	test.MustBe(t, *fc.NumberReturned, 2)
	test.MustBe(t, *fc.NumberMatched, 10)
	test.MustBe(t, fc.Features[0].Geometry, orb.Geometry(orb.Point{1, 2}))
	test.MustBe(t, harvest.FeatureID(fc.Features[0]), "7")
	test.MustBe(t, harvest.FeatureID(fc.Features[1]), "b")
	next := fc.NextLinks()
	if len(next) != 1 || next[0].Href != "https://x/items?offset=2" {
		t.Fatalf("unexpected next links: %+v", next)
	}

	for name, bad := range map[string]string{
		"not json":      "{",
		"not a fc":      `{"type": "Feature"}`,
		"bad geometry":  `{"type": "FeatureCollection", "features": [{"type": "Feature", "geometry": {"type": "Nope"}}]}`,
		"features type": `{"type": "FeatureCollection", "features": 3}`,
	} {
		_, err := harvest.DecodeFeatureCollection([]byte(bad))
		var derr *harvest.DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("%s: expected a DecodeError, got %v", name, err)
		}
	}
}
