package cli

import (
	"errors"

	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/lock"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitDirectory      = 2
	ExitExhausted      = 3
	ExitCorruptState   = 4
	ExitRenderIO       = 5
	ExitPassInProgress = 75 // EX_TEMPFAIL
)

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		dirErr    *directory.Error
		exhausted *identity.AllocationExhaustedError
		corrupt   *identity.PersistedStateCorruptError
		renderErr *identity.RenderIOError
	)
	switch {
	case errors.Is(err, lock.ErrPassInProgress):
		return ExitPassInProgress
	case errors.As(err, &exhausted):
		return ExitExhausted
	case errors.As(err, &corrupt):
		return ExitCorruptState
	case errors.As(err, &renderErr):
		return ExitRenderIO
	case errors.As(err, &dirErr):
		return ExitDirectory
	}
	return ExitError
}
