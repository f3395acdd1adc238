package ingest

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a batch contains no findings.
var ErrEmptyInput = errors.New("findings batch is empty")

// InputError reports the first invalid finding of a batch.
type InputError struct {
	Index     int
	FindingID string
	Err       error
}

func (e *InputError) Error() string {
	if e.FindingID != "" {
		return fmt.Sprintf("invalid finding at index %d (%s): %v", e.Index, e.FindingID, e.Err)
	}
	return fmt.Sprintf("invalid finding at index %d: %v", e.Index, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// StoreError wraps a failed graph store operation. It is fatal to the
// ingestion call; writes that completed before it stay in the store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("graph store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsInputError reports whether err is caused by the caller's input.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.Is(err, ErrEmptyInput) || errors.As(err, &ie)
}
