// Package oapi has the command which harvests an OGC API Features collection
// into a local container.
package oapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/boltdb"
	"github.com/pilosa/harvest/gpkg"
	"github.com/pilosa/harvest/kv"
	"github.com/pilosa/harvest/leveldb"
	"github.com/pilosa/harvest/proj"
	"github.com/pilosa/harvest/promstat"
	"github.com/pilosa/harvest/termstat"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Backends a container can be stored in.
const (
	StoreBolt  = "bolt"
	StoreLevel = "level"
)

// Main harvests the items of one collection into a table of a local
// container.
type Main struct {
	Server     string `help:"URL of the OGC API Features server."`
	Collection string `help:"Name of the collection to harvest."`
	Path       string `help:"Container to write to. A file for bolt, a directory for level."`
	Store      string `help:"Backend of the container: bolt or level."`
	Table      string `help:"Table to write features to. Defaults to the collection name."`
	Projection string `help:"Projection of the table as AUTHORITY:CODE."`

	Limit      int    `help:"Number of items requested per page. 0 lets the server decide."`
	TotalLimit int    `help:"Maximum number of items to harvest. 0 for no limit."`
	Time       string `help:"Time filter: an instant or the start of an interval (RFC 3339)."`
	Period     string `help:"End of the time interval. Requires a time."`
	BBox       string `help:"Bounding box filter as minLon,minLat,maxLon,maxLat."`

	Attempts   int     `help:"Number of times each request is tried."`
	RetryDelay string  `help:"Wait between attempts, e.g. 500ms."`
	RateLimit  float64 `help:"Maximum requests per second. 0 for no limit."`
	Timeout    string  `help:"Give up on the harvest after this long, e.g. 10m. Empty for no timeout."`
	UserAgent  string  `help:"User-Agent header sent with requests."`

	BatchSize        int  `help:"Number of features inserted between commits."`
	GeohashPrecision uint `help:"Geohash index precision of a new table. 0 disables the index."`
	Overwrite        bool `help:"Delete the table first if it exists. Otherwise features are appended."`

	LogPath     string `help:"Log file to write to. Empty means stderr."`
	Verbose     bool   `help:"Enable verbose logging."`
	JSONLog     bool   `help:"Write structured JSON logs."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address during the harvest."`
	Progress    bool   `help:"Print running counts to stderr."`

	log   harvest.Logger
	stats harvest.Statter
	// closers run in reverse order when Run returns
	closers []func() error
}

// NewMain gets a Main with default values.
func NewMain() *Main {
	return &Main{
		Store:            StoreBolt,
		Path:             "harvest.db",
		Projection:       harvest.DefaultProjection,
		Attempts:         harvest.DefaultAttempts,
		RetryDelay:       "1s",
		BatchSize:        harvest.DefaultBatchSize,
		GeohashPrecision: 6,
		UserAgent:        "harvest",
	}
}

// Log returns the logger set up by Run.
func (m *Main) Log() harvest.Logger {
	if m.log == nil {
		return harvest.NopLogger{}
	}
	return m.log
}

// Run performs the harvest.
func (m *Main) Run() (err error) {
	defer func() {
		for i := len(m.closers) - 1; i >= 0; i-- {
			if cerr := m.closers[i](); cerr != nil {
				m.Log().Printf("closing: %v", cerr)
				if err == nil {
					err = cerr
				}
			}
		}
		m.closers = nil
	}()

	cfg, err := m.config()
	if err != nil {
		return errors.Wrap(err, "validating configuration")
	}
	if err := m.setup(); err != nil {
		return errors.Wrap(err, "setting up")
	}

	container, err := m.openContainer()
	if err != nil {
		return errors.Wrap(err, "opening container")
	}
	table, err := m.prepareTable(container)
	if err != nil {
		return errors.Wrap(err, "preparing table")
	}

	fetcher, err := m.fetcher()
	if err != nil {
		return errors.Wrap(err, "setting up fetcher")
	}
	sink := harvest.NewSink(table, cfg.BatchSize)
	sink.Log, sink.Stats = m.log, m.stats

	h := harvest.NewHarvester(cfg, fetcher, sink)
	h.Log, h.Stats = m.log, m.stats

	ctx := context.Background()
	if m.Timeout != "" {
		d, err := time.ParseDuration(m.Timeout)
		if err != nil {
			return errors.Wrap(err, "parsing timeout")
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	rep, err := h.Run(ctx)
	if rep != nil {
		m.log.Printf("harvest %s of %s: %d feature(s) stored in '%s' from %d page(s), %d skipped, %d failed transaction(s), took %v",
			rep.RunID, m.Collection, rep.Count, table.Name(), rep.Pages, rep.Skipped, rep.TransactionFailures, time.Since(start))
		if rep.Matched != nil {
			m.log.Printf("the server reported %d matching feature(s)", *rep.Matched)
		}
	}
	if err != nil {
		return errors.Wrap(err, "harvesting")
	}
	if rep.Collection != nil {
		if err := m.storeCollection(container, table.Name(), rep.Collection); err != nil {
			return errors.Wrap(err, "storing collection metadata")
		}
	}
	return nil
}

func (m *Main) config() (harvest.HarvestConfig, error) {
	cfg := harvest.NewHarvestConfig(m.Server, m.Collection)
	cfg.PageLimit = m.Limit
	cfg.TotalLimit = m.TotalLimit
	cfg.Attempts = m.Attempts
	cfg.BatchSize = m.BatchSize
	cfg.Projection = m.Projection
	cfg.Filters.Time = m.Time
	cfg.Filters.Period = m.Period
	if m.BBox != "" {
		bbox, err := harvest.ParseBoundingBox(m.BBox)
		if err != nil {
			return cfg, err
		}
		cfg.Filters.BBox = bbox
	}
	if m.Store != StoreBolt && m.Store != StoreLevel {
		return cfg, errors.Errorf("unknown store '%s', must be %s or %s", m.Store, StoreBolt, StoreLevel)
	}
	if m.Path == "" {
		return cfg, errors.New("path is required")
	}
	if m.GeohashPrecision > gpkg.MaxGeohashPrecision {
		return cfg, errors.Errorf("geohash precision must be at most %d, got %d", gpkg.MaxGeohashPrecision, m.GeohashPrecision)
	}
	return cfg, cfg.Validate()
}

func (m *Main) setup() error {
	var logOut io.Writer = os.Stderr
	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		m.closers = append(m.closers, f.Close)
		logOut = f
	}

	switch {
	case m.JSONLog:
		level := zapcore.InfoLevel
		if m.Verbose {
			level = zapcore.DebugLevel
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(logOut), level)
		zl := zap.New(core).With(zap.String("collection", m.Collection))
		m.closers = append(m.closers, func() error {
			_ = zl.Sync()
			return nil
		})
		m.log = harvest.NewZapLogger(zl)
	case m.Verbose:
		m.log = harvest.VerboseLogger{Logger: log.New(logOut, "", log.LstdFlags)}
	default:
		m.log = harvest.StdLogger{Logger: log.New(logOut, "", log.LstdFlags)}
	}

	var stats harvest.MultiStatter
	if m.Progress {
		tc := termstat.NewCollector(os.Stderr, termstat.DefaultInterval)
		m.closers = append(m.closers, tc.Close)
		stats = append(stats, tc)
	}
	if m.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		stats = append(stats, promstat.New("harvest", reg))
		srv := &http.Server{Addr: m.MetricsAddr, Handler: promstat.Handler(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				m.log.Printf("serving metrics: %v", err)
			}
		}()
		m.closers = append(m.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}
	switch len(stats) {
	case 0:
		m.stats = harvest.NopStatter{}
	case 1:
		m.stats = stats[0]
	default:
		m.stats = stats
	}
	return nil
}

func (m *Main) openContainer() (*gpkg.Container, error) {
	var db kv.DB
	var err error
	switch m.Store {
	case StoreLevel:
		db, err = leveldb.Open(m.Path)
	default:
		db, err = boltdb.Open(m.Path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s store at '%s'", m.Store, m.Path)
	}
	c, err := gpkg.Open(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.Log = m.log
	m.closers = append(m.closers, c.Close)
	return c, nil
}

func (m *Main) tableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Collection
}

// prepareTable creates the table unless it already exists, in which case it's
// either deleted first or appended to.
func (m *Main) prepareTable(c *gpkg.Container) (*gpkg.Table, error) {
	name := m.tableName()
	exists, err := c.HasTable(name)
	if err != nil {
		return nil, errors.Wrap(err, "checking for table")
	}
	if exists && m.Overwrite {
		m.log.Printf("deleting table '%s'", name)
		if err := c.DeleteTable(name); err != nil {
			return nil, errors.Wrap(err, "deleting table")
		}
		exists = false
	}
	if !exists {
		p, err := proj.Parse(m.Projection)
		if err != nil {
			return nil, errors.Wrap(err, "parsing projection")
		}
		err = c.CreateFeatureTable(gpkg.FeatureTable{
			Name:             name,
			Identifier:       m.Collection,
			Description:      "harvested from " + m.Server,
			Projection:       p,
			GeohashPrecision: m.GeohashPrecision,
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating table")
		}
	} else {
		m.log.Printf("appending to existing table '%s'", name)
	}
	return c.Table(name)
}

func (m *Main) fetcher() (*harvest.HTTPFetcher, error) {
	opts := []harvest.FetcherOption{
		harvest.OptFetcherAttempts(m.Attempts),
		harvest.OptFetcherRateLimit(m.RateLimit),
		harvest.OptFetcherLogger(m.log),
		harvest.OptFetcherStats(m.stats),
	}
	if m.RetryDelay != "" {
		d, err := time.ParseDuration(m.RetryDelay)
		if err != nil {
			return nil, errors.Wrap(err, "parsing retry delay")
		}
		opts = append(opts, harvest.OptFetcherRetryDelay(d))
	}
	if m.UserAgent != "" {
		opts = append(opts, harvest.OptFetcherUserAgent(m.UserAgent))
	}
	return harvest.NewHTTPFetcher(opts...), nil
}

func (m *Main) storeCollection(c *gpkg.Container, table string, coll *harvest.Collection) error {
	id, err := c.AddMetadata(gpkg.Metadata{
		Scope:       gpkg.MetadataScopeDataset,
		StandardURI: gpkg.DefaultStandardURI,
		MimeType:    "application/json",
		Metadata:    string(coll.Raw),
	}, table)
	if err != nil {
		return err
	}
	m.log.Debugf("stored collection document as metadata %d", id)
	return nil
}
