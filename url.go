package harvest

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// limitPattern matches the first limit query parameter of a URL.
var limitPattern = regexp.MustCompile(`([?&])limit=\d+`)

// BuildCollectionURL joins the base server URL with collections/{name}.
func BuildCollectionURL(server, name string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrapf(ErrMalformedRequest, "server '%s': %v", server, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.Wrapf(ErrMalformedRequest, "server '%s' is not an absolute http(s) url", server)
	}
	if name == "" {
		return "", errors.Wrap(ErrMalformedRequest, "empty collection name")
	}
	var b strings.Builder
	b.WriteString(server)
	if !strings.HasSuffix(server, "/") {
		b.WriteString("/")
	}
	b.WriteString("collections/")
	b.WriteString(url.PathEscape(name))
	return b.String(), nil
}

// BuildItemsURL appends /items and the filters to a collection URL. Parameters
// are always written in the same order: time, then bbox.
func BuildItemsURL(collectionURL string, f Filters) string {
	var b strings.Builder
	b.WriteString(collectionURL)
	b.WriteString("/items")

	params := false
	sep := func() {
		if params {
			b.WriteString("&")
		} else {
			b.WriteString("?")
			params = true
		}
	}

	if f.Time != "" {
		sep()
		b.WriteString("time=")
		b.WriteString(f.Time)
		if f.Period != "" {
			b.WriteString("/")
			b.WriteString(f.Period)
		}
	}
	if f.BBox != nil {
		sep()
		b.WriteString("bbox=")
		b.WriteString(f.BBox.String())
	}
	return b.String()
}

// ApplyLimit sets the limit parameter of rawURL. An existing limit, such as
// one embedded in a server's next link, is replaced in place. Otherwise the
// parameter is appended.
func ApplyLimit(rawURL string, limit int) string {
	if loc := limitPattern.FindStringSubmatchIndex(rawURL); loc != nil {
		// keep the separator captured by the first group
		return rawURL[:loc[3]] + "limit=" + strconv.Itoa(limit) + rawURL[loc[1]:]
	}
	i := strings.LastIndex(rawURL, "?")
	switch {
	case i < 0:
		return rawURL + "?limit=" + strconv.Itoa(limit)
	case i == len(rawURL)-1:
		return rawURL + "limit=" + strconv.Itoa(limit)
	default:
		return rawURL + "&limit=" + strconv.Itoa(limit)
	}
}

// RequestLimit returns the limit to request for the next page given the
// configured page and total limits and the count harvested so far. Zero means
// no limit parameter should be sent.
func RequestLimit(pageLimit, totalLimit, count int) int {
	limit := pageLimit
	if totalLimit > 0 {
		page := pageLimit
		if page <= 0 {
			page = DefaultLimit
		}
		if remaining := totalLimit - count; remaining < page {
			limit = remaining
		}
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// ResolveLink resolves href, which may be relative, against the URL of the
// page it was found in.
func ResolveLink(base, href string) (string, error) {
	h, err := url.Parse(href)
	if err != nil {
		return "", errors.Wrapf(err, "parsing link '%s'", href)
	}
	if h.IsAbs() {
		return href, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parsing base '%s'", base)
	}
	return b.ResolveReference(h).String(), nil
}
