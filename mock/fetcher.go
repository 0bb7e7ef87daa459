package mock

import (
	"context"

	"github.com/pilosa/harvest"
	"github.com/pkg/errors"
)

// Fetcher serves documents from a map of URL to body. Errors, if set for a
// URL, are returned instead, wrapped in a *harvest.FetchError. Unknown URLs
// fail the same way.
type Fetcher struct {
	Docs   map[string]string
	Errors map[string]error

	// Requested lists the URLs fetched, in order.
	Requested []string
}

// Fetch implements harvest.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url, accept string) ([]byte, error) {
	f.Requested = append(f.Requested, url)
	if err, ok := f.Errors[url]; ok {
		return nil, &harvest.FetchError{URL: url, Attempts: 1, Err: err}
	}
	doc, ok := f.Docs[url]
	if !ok {
		return nil, &harvest.FetchError{URL: url, Attempts: 1, Err: errors.New("response code: 404, response message: Not Found")}
	}
	return []byte(doc), nil
}
