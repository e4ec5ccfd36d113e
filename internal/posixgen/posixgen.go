// Package posixgen fills in posix accounts for directory users that have
// none, so they become eligible for the extrausers files.
package posixgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hnrobert/nssync/internal/alloc"
	"github.com/hnrobert/nssync/internal/canon"
	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/logger"
)

// MaxID is the largest uid or gid handed out.
const MaxID = math.MaxInt32

type Options struct {
	StartUID int
	StartGID int
	// GIDEqualsUID gives each user a gid equal to its uid, picking uids
	// that are free as gids too.
	GIDEqualsUID bool
	// Avoid is never handed out as a uid or gid. It is the group range, so
	// a user-private gid cannot collide with an allocated group gid.
	Avoid        alloc.Range
	Canon        canon.Options
	HomeTemplate string
	DefaultShell string
}

type Assignment struct {
	UserID  string
	Email   string
	Account identity.PosixAccount
}

type Plan struct {
	Assignments []Assignment
	// Skipped holds users whose name could not be canonicalized.
	Skipped []error
}

// used collects every uid, gid and username already present in the
// directory, including those of suspended and deleted users.
type used struct {
	uids, gids map[int]bool
	names      map[string]bool
}

func harvest(users []identity.DirectoryUser) used {
	u := used{uids: map[int]bool{}, gids: map[int]bool{}, names: map[string]bool{}}
	for _, du := range users {
		accounts := du.ExtraPosix
		if du.Posix != nil {
			accounts = append([]identity.PosixAccount{*du.Posix}, accounts...)
		}
		for _, a := range accounts {
			if a.UID != nil {
				u.uids[*a.UID] = true
			}
			if a.GID != nil {
				u.gids[*a.GID] = true
			}
			if a.Username != "" {
				u.names[strings.ToLower(a.Username)] = true
			}
		}
	}
	return u
}

// Build plans posix accounts for every active user without one. Users are
// handled in external id order so the same directory yields the same plan.
// Ids are handed out upward from the start values, skipping every id in use.
func Build(users []identity.DirectoryUser, opts Options) (Plan, error) {
	if opts.StartUID <= 0 || opts.StartGID <= 0 {
		return Plan{}, fmt.Errorf("start uid and gid must be positive")
	}
	u := harvest(users)

	var missing []identity.DirectoryUser
	for _, du := range users {
		if du.Active() && du.Posix == nil && len(du.ExtraPosix) == 0 {
			missing = append(missing, du)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].ID < missing[j].ID })

	var plan Plan
	nextUID, nextGID := opts.StartUID, opts.StartGID
	for _, du := range missing {
		base, err := canon.Canonicalize(canon.NameFromEmail(du.Email), opts.Canon)
		if err != nil {
			var inv *identity.InvalidNameError
			if errors.As(err, &inv) {
				inv.ExternalID = du.ID
			}
			plan.Skipped = append(plan.Skipped, err)
			continue
		}

		uid, err := u.next(nextUID, opts, func(n int) bool {
			return u.uids[n] || (opts.GIDEqualsUID && u.gids[n])
		})
		if err != nil {
			return Plan{}, err
		}
		nextUID = uid + 1
		u.uids[uid] = true

		gid := uid
		if !opts.GIDEqualsUID {
			gid, err = u.next(nextGID, opts, func(n int) bool { return u.gids[n] })
			if err != nil {
				return Plan{}, err
			}
			nextGID = gid + 1
		}
		u.gids[gid] = true

		name := canon.Unique(base, u.names, opts.Canon.MaxLen)
		gecos := du.FullName
		if gecos == "" {
			gecos = name
		}
		plan.Assignments = append(plan.Assignments, Assignment{
			UserID: du.ID,
			Email:  du.Email,
			Account: identity.PosixAccount{
				Username: name,
				UID:      &uid,
				GID:      &gid,
				Home:     strings.ReplaceAll(opts.HomeTemplate, "{username}", name),
				Shell:    opts.DefaultShell,
				Gecos:    gecos,
			},
		})
	}
	return plan, nil
}

func (u used) next(from int, opts Options, busy func(int) bool) (int, error) {
	avoid := opts.Avoid != (alloc.Range{})
	for n := from; n <= MaxID; n++ {
		if busy(n) || (avoid && opts.Avoid.Contains(n)) {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("no free id at or above %d", from)
}

// Apply writes the plan. A failed user is logged and the rest continue; the
// failures come back joined, with the number of users written.
func Apply(ctx context.Context, w directory.PosixWriter, plan Plan) (int, error) {
	var errs []error
	written := 0
	for _, a := range plan.Assignments {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := w.SetPosixAccount(ctx, a.UserID, a.Account); err != nil {
			logger.Error("set posix account for %s: %v", a.UserID, err)
			errs = append(errs, err)
			continue
		}
		written++
		logger.Info("user %s is now %s (%d:%d)", a.UserID, a.Account.Username, *a.Account.UID, *a.Account.GID)
	}
	return written, errors.Join(errs...)
}
