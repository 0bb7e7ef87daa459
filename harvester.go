package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pilosa/harvest/proj"
	"github.com/pkg/errors"
)

// Report describes a harvest. It is returned along with the error of a
// failed harvest as well, covering the pages processed before the failure.
type Report struct {
	RunID       string
	Collection  *Collection
	Projections proj.Set

	// Count is the number of features stored.
	Count int
	// Matched is the numberMatched reported with the first page, if any.
	Matched *int

	Pages               int
	Skipped             int
	TransactionFailures int

	// Requests lists every items URL requested, in order.
	Requests []string
}

// Harvester drives a harvest: it resolves the collection, then requests pages
// of items one at a time, following next links until there are none or the
// total limit has been reached, and hands each page to the Sink.
//
// Config.Attempts and Config.BatchSize apply to an *HTTPFetcher and a *Sink
// for the duration of Run. Other Fetcher and Ingester implementations keep
// their own settings.
type Harvester struct {
	Config  HarvestConfig
	Fetcher Fetcher
	Sink    Ingester
	Log     Logger
	Stats   Statter
}

// NewHarvester gets a Harvester with no logging or stats.
func NewHarvester(config HarvestConfig, fetcher Fetcher, sink Ingester) *Harvester {
	return &Harvester{
		Config:  config,
		Fetcher: fetcher,
		Sink:    sink,
		Log:     NopLogger{},
		Stats:   NopStatter{},
	}
}

// Run performs the harvest. The only errors are configuration errors, which
// are returned before anything is requested, and *FetchError, which ends the
// harvest.
func (h *Harvester) Run(ctx context.Context) (*Report, error) {
	if err := h.Config.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating configuration")
	}
	collectionURL, err := BuildCollectionURL(h.Config.Server, h.Config.Collection)
	if err != nil {
		return nil, errors.Wrap(err, "building collection url")
	}
	target, err := proj.Parse(h.Config.Projection)
	if err != nil {
		return nil, errors.Wrap(err, "parsing projection")
	}

	start := time.Now()
	defer func() { h.Stats.Timing("harvest.duration", time.Since(start), 1) }()

	fetcher, sink := h.configured()
	rep := &Report{RunID: uuid.NewString()}
	rep.Collection = ResolveCollection(ctx, fetcher, collectionURL, h.Log)
	var advertised []string
	if rep.Collection != nil {
		advertised = rep.Collection.CRS
	}
	rep.Projections = proj.Resolve(advertised)
	if !rep.Projections.Contains(target) {
		h.Log.Printf("the projection is not advertised by the server, authority: %s, code: %s", target.Authority, target.Code)
	}

	err = h.paginate(ctx, fetcher, sink, BuildItemsURL(collectionURL, h.Config.Filters), rep)
	h.Log.Debugf("harvest %s: %d feature(s) from %d page(s), %d skipped", rep.RunID, rep.Count, rep.Pages, rep.Skipped)
	return rep, err
}

// configured returns the fetcher and sink with the retry budget and batch
// size of the configuration. h.Fetcher and h.Sink aren't modified.
func (h *Harvester) configured() (Fetcher, Ingester) {
	fetcher, sink := h.Fetcher, h.Sink
	if f, ok := fetcher.(*HTTPFetcher); ok && f.Attempts() != h.Config.Attempts {
		fetcher = f.WithAttempts(h.Config.Attempts)
	}
	if s, ok := sink.(*Sink); ok && s.BatchSize != h.Config.BatchSize {
		c := *s
		c.BatchSize = h.Config.BatchSize
		sink = &c
	}
	return fetcher, sink
}

// paginate follows next links depth first, in the order they are given,
// using an explicit stack of pending URLs.
func (h *Harvester) paginate(ctx context.Context, fetcher Fetcher, sink Ingester, first string, rep *Report) error {
	cfg := h.Config
	pending := []string{first}
	requested := make(map[string]struct{})

	for len(pending) > 0 {
		u := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if cfg.TotalLimit > 0 && rep.Count >= cfg.TotalLimit {
			h.Log.Debugf("reached total limit of %d", cfg.TotalLimit)
			return nil
		}
		if limit := RequestLimit(cfg.PageLimit, cfg.TotalLimit, rep.Count); limit > 0 {
			u = ApplyLimit(u, limit)
		}
		if _, ok := requested[u]; ok {
			h.Log.Printf("not following link to already requested url: %s", u)
			continue
		}
		requested[u] = struct{}{}
		rep.Requests = append(rep.Requests, u)

		h.Log.Printf("requesting %s", u)
		data, err := fetcher.Fetch(ctx, u, AcceptHeader)
		if err != nil {
			h.Stats.Count("harvest.failures", 1, 1)
			return err
		}
		rep.Pages++
		h.Stats.Count("harvest.pages", 1, 1)

		fc, err := DecodeFeatureCollection(data)
		if err != nil {
			h.Log.Printf("failed to translate features, url: %s: %v", u, err)
			continue
		}
		if rep.Pages == 1 {
			rep.Matched = fc.NumberMatched
		}

		features := fc.Features
		if cfg.TotalLimit > 0 {
			if remaining := cfg.TotalLimit - rep.Count; len(features) > remaining {
				h.Log.Debugf("page has %d feature(s), only %d remaining under the total limit", len(features), remaining)
				features = features[:remaining]
			}
		}
		sum := sink.Ingest(features)
		rep.Count += sum.Inserted
		rep.Skipped += len(sum.Skipped())
		if sum.Err != nil {
			rep.TransactionFailures++
		}
		h.Stats.Gauge("harvest.count", float64(rep.Count), 1)

		next := fc.NextLinks()
		for i := len(next) - 1; i >= 0; i-- {
			target, err := ResolveLink(u, next[i].Href)
			if err != nil {
				h.Log.Printf("skipping next link: %v", err)
				continue
			}
			pending = append(pending, target)
		}
	}
	return nil
}
