package harvest

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformedRequest is the cause of errors for base URLs which can't be
// turned into requests. Nothing is fetched when it is returned.
var ErrMalformedRequest = errors.New("malformed request url")

// ErrTxInvalid is wrapped by Tx errors which mean the transaction itself can
// no longer be used, as opposed to a single row being refused.
var ErrTxInvalid = errors.New("transaction is no longer usable")

// FetchError is returned once every attempt to download URL has failed. It
// ends the harvest.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to download after %d attempt(s), url: %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError is returned for collection or feature collection documents
// which can't be decoded.
type DecodeError struct {
	Document string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Document, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConversionError is recorded for a feature which could not be converted to a
// Row.
type ConversionError struct {
	FeatureID string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting feature '%s': %v", e.FeatureID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// InsertError is recorded for a Row the Tx refused.
type InsertError struct {
	FeatureID string
	Err       error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("inserting feature '%s': %v", e.FeatureID, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// TransactionError describes a page whose transaction failed. Rows committed
// by earlier checkpoints are kept.
type TransactionError struct {
	Op        string
	Committed int
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed with %d row(s) committed: %v", e.Op, e.Committed, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
