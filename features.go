package harvest

import (
	"encoding/json"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// LinkRelationNext is the relation of links to the following page.
const LinkRelationNext = "next"

// FeatureCollection is one decoded page of items.
type FeatureCollection struct {
	Type           string             `json:"type"`
	Features       []*geojson.Feature `json:"features"`
	Links          []Link             `json:"links,omitempty"`
	NumberReturned *int               `json:"numberReturned,omitempty"`
	NumberMatched  *int               `json:"numberMatched,omitempty"`
	TimeStamp      string             `json:"timeStamp,omitempty"`
}

// DecodeFeatureCollection decodes a page of items. The document must be a
// GeoJSON FeatureCollection.
func DecodeFeatureCollection(data []byte) (*FeatureCollection, error) {
	fc := &FeatureCollection{}
	if err := json.Unmarshal(data, fc); err != nil {
		return nil, &DecodeError{Document: "feature collection", Err: err}
	}
	if fc.Type != "FeatureCollection" {
		return nil, &DecodeError{Document: "feature collection", Err: errors.Errorf("type is '%s', not FeatureCollection", fc.Type)}
	}
	return fc, nil
}

// RelationLinks groups the page's links by relation, keeping document order
// within each relation.
func (fc *FeatureCollection) RelationLinks() map[string][]Link {
	return relationLinks(fc.Links)
}

// NextLinks returns the links to the following page, usually at most one.
func (fc *FeatureCollection) NextLinks() []Link {
	return fc.RelationLinks()[LinkRelationNext]
}
