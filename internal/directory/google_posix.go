package directory

import (
	"context"
	"errors"

	admin "google.golang.org/api/admin/directory/v1"

	"github.com/hnrobert/nssync/internal/identity"
)

var errMissingIDs = errors.New("posix account needs uid and gid")

// PosixWriter stores a posix account on a directory user.
type PosixWriter interface {
	SetPosixAccount(ctx context.Context, userID string, acct identity.PosixAccount) error
}

var _ PosixWriter = (*Google)(nil)

// posixAccountBody is the write shape of a posixAccounts entry. The API
// accepts numeric uid and gid.
type posixAccountBody struct {
	Primary       bool   `json:"primary"`
	Username      string `json:"username"`
	UID           int    `json:"uid"`
	GID           int    `json:"gid"`
	HomeDirectory string `json:"homeDirectory"`
	Shell         string `json:"shell"`
	Gecos         string `json:"gecos,omitempty"`
}

// SetPosixAccount replaces the user's posixAccounts with acct as the single
// primary account. Both ids must be set.
func (g *Google) SetPosixAccount(ctx context.Context, userID string, acct identity.PosixAccount) error {
	if acct.UID == nil || acct.GID == nil {
		return &Error{Op: "patch user " + userID, Err: errMissingIDs}
	}
	body := &admin.User{PosixAccounts: []posixAccountBody{{
		Primary:       true,
		Username:      acct.Username,
		UID:           *acct.UID,
		GID:           *acct.GID,
		HomeDirectory: acct.Home,
		Shell:         acct.Shell,
		Gecos:         acct.Gecos,
	}}}

	err := g.call(ctx, "patch user "+userID, func(ctx context.Context) error {
		_, err := g.svc.Users.Patch(userID, body).Context(ctx).Do()
		return err
	})
	if err != nil {
		return &Error{Op: "patch user " + userID, Err: err}
	}
	return nil
}
