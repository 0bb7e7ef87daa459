package mock

import (
	"github.com/pilosa/harvest"
	"github.com/pkg/errors"
)

// Table is an in-memory harvest.Table. The Fail* fields inject errors.
type Table struct {
	// Rows holds the committed rows.
	Rows []*harvest.Row

	// Checkpoints counts successful checkpoints.
	Checkpoints int

	FailBegin bool
	// FailInsert refuses rows with these feature ids.
	FailInsert map[string]bool
	// InvalidateOn makes the insert of this feature id break the transaction.
	InvalidateOn string
	// FailCheckpoint fails the checkpoint with this number, counting from 1.
	FailCheckpoint int
	FailCommit     bool

	checkpointCalls int
}

// Begin implements harvest.Table.
func (t *Table) Begin() (harvest.Tx, error) {
	if t.FailBegin {
		return nil, errors.New("begin failed")
	}
	return &Tx{t: t}, nil
}

// IDs returns the feature ids of the committed rows.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		ids[i] = r.FeatureID
	}
	return ids
}

// Tx is a transaction on a Table.
type Tx struct {
	t       *Table
	pending []*harvest.Row
	done    bool

	RolledBack bool
}

// Insert implements harvest.Tx.
func (x *Tx) Insert(row *harvest.Row) error {
	if x.done {
		return errors.Wrap(harvest.ErrTxInvalid, "insert after end")
	}
	if x.t.InvalidateOn != "" && row.FeatureID == x.t.InvalidateOn {
		return errors.Wrap(harvest.ErrTxInvalid, "connection lost")
	}
	if x.t.FailInsert[row.FeatureID] {
		return errors.Errorf("constraint failed for %s", row.FeatureID)
	}
	x.pending = append(x.pending, row)
	return nil
}

// Checkpoint implements harvest.Tx.
func (x *Tx) Checkpoint() error {
	x.t.checkpointCalls++
	if x.t.FailCheckpoint == x.t.checkpointCalls {
		return errors.New("checkpoint failed")
	}
	x.t.Rows = append(x.t.Rows, x.pending...)
	x.pending = nil
	x.t.Checkpoints++
	return nil
}

// Commit implements harvest.Tx.
func (x *Tx) Commit() error {
	if x.t.FailCommit {
		return errors.New("commit failed")
	}
	x.t.Rows = append(x.t.Rows, x.pending...)
	x.pending = nil
	x.done = true
	return nil
}

// Rollback implements harvest.Tx.
func (x *Tx) Rollback() error {
	x.pending = nil
	x.done = true
	x.RolledBack = true
	return nil
}
