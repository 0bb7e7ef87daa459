// Package harvest copies features from an OGC API Features server into a
// local GeoPackage-style container, one page at a time.
//
// A harvest has the stages below. Interfaces for the ones which touch the
// outside world are in this package, and implementations which rely on other
// software are in sub-packages.
//
// # Collection
//
// The collection document at {server}/collections/{name} is requested first.
// Its crs list is resolved against the projections known locally (see package
// proj). The collection is optional: if it can't be fetched or decoded, the
// harvest goes on assuming the default projections.
//
// # Fetcher
//
// Every document is downloaded by a Fetcher. HTTPFetcher tries each URL a
// bounded number of times, strictly one attempt after the other, following at
// most one redirect per attempt. Running out of attempts ends the whole
// harvest with a *FetchError.
//
// # Harvester
//
// The Harvester builds the first items URL from the filters (time, then bbox),
// sets the limit for each page so that the total limit is never exceeded, and
// follows the "next" links of each page in order. Pages are never requested
// concurrently: the order of next links is the order of the data, and each
// page is written in its own transaction.
//
// # Sink
//
// The Sink converts the features of a page with a Mapper and inserts them into
// a Table inside one transaction, checkpointing every BatchSize rows. Features
// which can't be converted or inserted are skipped and reported in the page's
// Summary. A transaction which fails is rolled back to its last checkpoint and
// the harvest moves on to the next page.
//
// Package gpkg provides the Table, backed by either boltdb or leveldb.
package harvest
