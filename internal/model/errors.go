package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingOwner          = errors.New("owner_id is required")
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrMalformedTemporalData = errors.New("malformed temporal data")
	ErrInvalidInterval       = errors.New("event must end after it starts")
)

// RecordError ties a validation failure to the position of the record in a
// batch.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// RecordErrors is the skip-and-report result of a batch: every record listed
// here was left out, every other record was accepted.
type RecordErrors []RecordError

func (es RecordErrors) Error() string {
	var b strings.Builder
	for i, e := range es {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

func (es RecordErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i := range es {
		out[i] = es[i]
	}
	return out
}

// Err returns nil for an empty list so callers can write `if err := errs.Err(); err != nil`.
func (es RecordErrors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}
