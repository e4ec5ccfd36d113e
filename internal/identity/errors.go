package identity

import (
	"errors"
	"fmt"
)

var ErrEmptyName = errors.New("name is empty after canonicalization")

// InvalidNameError is recoverable: the entity is skipped and the pass goes on.
type InvalidNameError struct {
	Raw        string
	ExternalID string
	Err        error
}

func (e *InvalidNameError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("invalid name %q for %s: %v", e.Raw, e.ExternalID, e.Err)
	}
	return fmt.Sprintf("invalid name %q: %v", e.Raw, e.Err)
}

func (e *InvalidNameError) Unwrap() error { return e.Err }

// AllocationExhaustedError aborts the pass before anything is written.
type AllocationExhaustedError struct {
	Start, End int
	Pending    int
}

func (e *AllocationExhaustedError) Error() string {
	return fmt.Sprintf("out of group ids in range [%d,%d] with %d groups still unallocated; widen the range",
		e.Start, e.End, e.Pending)
}

// PersistedStateCorruptError means the local store cannot be trusted and an
// operator must intervene.
type PersistedStateCorruptError struct {
	Reason string
	Err    error
}

func (e *PersistedStateCorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persisted state corrupt: %s: %v", e.Reason, e.Err)
	}
	return "persisted state corrupt: " + e.Reason
}

func (e *PersistedStateCorruptError) Unwrap() error { return e.Err }

// RenderIOError reports a failed staging or replacement of an output file.
type RenderIOError struct {
	Path string
	Err  error
}

func (e *RenderIOError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Path, e.Err)
}

func (e *RenderIOError) Unwrap() error { return e.Err }
