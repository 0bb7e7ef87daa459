package harvest

import (
	"context"
	"encoding/json"
)

// Link is a relation link of a collection or feature collection document.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Extent is the spatial and temporal extent advertised for a collection.
type Extent struct {
	Spatial *struct {
		BBox [][]float64 `json:"bbox"`
		CRS  string      `json:"crs,omitempty"`
	} `json:"spatial,omitempty"`
	Temporal *struct {
		Interval [][]*string `json:"interval"`
		TRS      string      `json:"trs,omitempty"`
	} `json:"temporal,omitempty"`
}

// Collection is the metadata document of a collection.
type Collection struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	ItemType    string   `json:"itemType,omitempty"`
	CRS         []string `json:"crs,omitempty"`
	StorageCRS  string   `json:"storageCrs,omitempty"`
	Links       []Link   `json:"links,omitempty"`
	Extent      *Extent  `json:"extent,omitempty"`

	// Raw is the document the collection was decoded from.
	Raw []byte `json:"-"`
}

// DecodeCollection decodes a collection document.
func DecodeCollection(data []byte) (*Collection, error) {
	c := &Collection{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, &DecodeError{Document: "collection", Err: err}
	}
	c.Raw = data
	return c, nil
}

// RelationLinks groups the collection's links by relation, keeping document
// order within each relation.
func (c *Collection) RelationLinks() map[string][]Link {
	return relationLinks(c.Links)
}

// ResolveCollection fetches and decodes the collection document at url. It
// returns nil when the document can't be fetched or decoded; the harvest then
// goes on with the default projections.
func ResolveCollection(ctx context.Context, f Fetcher, url string, log Logger) *Collection {
	data, err := f.Fetch(ctx, url, AcceptHeader)
	if err != nil {
		log.Printf("failed to request the collection, url: %s: %v", url, err)
		return nil
	}
	c, err := DecodeCollection(data)
	if err != nil {
		log.Printf("failed to translate collection, url: %s: %v", url, err)
		return nil
	}
	return c
}

func relationLinks(links []Link) map[string][]Link {
	rels := make(map[string][]Link)
	for _, l := range links {
		rels[l.Rel] = append(rels[l.Rel], l)
	}
	return rels
}
