// Package directory fetches raw users and groups from an external directory.
package directory

import (
	"context"

	"github.com/hnrobert/nssync/internal/identity"
)

// Source is a read-only view of the directory. Member lists hold user
// external ids; non-user members are never returned.
type Source interface {
	Users(ctx context.Context) ([]identity.DirectoryUser, error)
	Groups(ctx context.Context) ([]identity.DirectoryGroup, error)
}

// Error marks a failure talking to the directory.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "directory " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
