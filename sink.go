package harvest

import (
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Table is the local table features are written to.
type Table interface {
	Begin() (Tx, error)
}

// Tx is a write transaction on a Table. Checkpoint commits the rows inserted
// so far and keeps the transaction open for more. Commit and Rollback end it.
// Errors which wrap ErrTxInvalid mean the transaction can't be used anymore.
type Tx interface {
	Insert(row *Row) error
	Checkpoint() error
	Commit() error
	Rollback() error
}

// Ingester consumes the features of one page.
type Ingester interface {
	Ingest(features []*geojson.Feature) Summary
}

// Result is the outcome for one feature of a page. A nil Err means the
// feature was stored.
type Result struct {
	Index     int
	FeatureID string
	Err       error
}

// Summary is the outcome of ingesting one page.
type Summary struct {
	// Inserted is the number of features stored by this page. After a
	// transaction failure it is the number committed by earlier checkpoints.
	Inserted int

	Results []Result

	// Err is a *TransactionError if the page's transaction failed.
	Err error
}

// Skipped returns the results of features which were not stored.
func (s Summary) Skipped() []Result {
	var skipped []Result
	for _, r := range s.Results {
		if r.Err != nil {
			skipped = append(skipped, r)
		}
	}
	return skipped
}

// Sink writes pages of features to a Table, one transaction per page, with a
// checkpoint every BatchSize rows. A feature which can't be converted or
// inserted is skipped; a failed transaction is rolled back to its last
// checkpoint. Neither is returned as an error.
type Sink struct {
	Table     Table
	Mapper    Mapper
	BatchSize int
	Log       Logger
	Stats     Statter
}

// NewSink gets a Sink writing to t with the DefaultMapper.
func NewSink(t Table, batchSize int) *Sink {
	return &Sink{
		Table:     t,
		Mapper:    DefaultMapper{},
		BatchSize: batchSize,
		Log:       NopLogger{},
		Stats:     NopStatter{},
	}
}

// Ingest implements Ingester.
func (s *Sink) Ingest(features []*geojson.Feature) (sum Summary) {
	start := time.Now()
	defer func() { s.Stats.Timing("ingest.duration", time.Since(start), 1) }()

	batchSize := s.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	sum.Results = make([]Result, 0, len(features))

	tx, err := s.Table.Begin()
	if err != nil {
		sum.Err = &TransactionError{Op: "begin", Err: err}
		s.Log.Printf("failed to create features: %v", sum.Err)
		s.Stats.Count("ingest.tx_failures", 1, 1)
		return sum
	}

	var inserted, committed int
	// results before this index are covered by a checkpoint
	checkpointed := 0
	done := false
	defer func() {
		if !done {
			if err := tx.Rollback(); err != nil {
				s.Log.Printf("rolling back: %v", err)
			}
		}
	}()

	fail := func(op string, err error) Summary {
		done = true
		if rerr := tx.Rollback(); rerr != nil {
			s.Log.Debugf("rolling back after failed %s: %v", op, rerr)
		}
		terr := &TransactionError{Op: op, Committed: committed, Err: err}
		for i := checkpointed; i < len(sum.Results); i++ {
			if sum.Results[i].Err == nil {
				sum.Results[i].Err = terr
			}
		}
		sum.Inserted = committed
		sum.Err = terr
		s.Log.Printf("failed to create features: %v", terr)
		s.Stats.Count("ingest.tx_failures", 1, 1)
		s.Stats.Count("ingest.rolled_back", int64(inserted-committed), 1)
		return sum
	}

	for i, f := range features {
		id := FeatureID(f)
		row, err := s.Mapper.Map(f)
		if err != nil {
			s.skip(&sum, i, id, &ConversionError{FeatureID: id, Err: err})
			continue
		}
		if err := tx.Insert(row); err != nil {
			if errors.Is(err, ErrTxInvalid) {
				return fail("insert", err)
			}
			s.skip(&sum, i, id, &InsertError{FeatureID: id, Err: err})
			continue
		}
		sum.Results = append(sum.Results, Result{Index: i, FeatureID: id})
		inserted++
		if inserted%batchSize == 0 {
			if err := tx.Checkpoint(); err != nil {
				return fail("checkpoint", err)
			}
			committed = inserted
			checkpointed = len(sum.Results)
			s.Log.Debugf("committed %d feature(s)", committed)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	done = true
	sum.Inserted = inserted
	s.Stats.Count("ingest.inserted", int64(inserted), 1)
	return sum
}

func (s *Sink) skip(sum *Summary, i int, id string, err error) {
	s.Log.Printf("failed to create feature: %s: %v", id, err)
	s.Stats.Count("ingest.skipped", 1, 1)
	sum.Results = append(sum.Results, Result{Index: i, FeatureID: id, Err: err})
}
