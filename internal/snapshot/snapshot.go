package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hnrobert/nssync/internal/canon"
	"github.com/hnrobert/nssync/internal/identity"
)

type Options struct {
	// Canon applies to user names. Group names share MaxLen but never
	// have the suffix stripped.
	Canon        canon.Options
	DefaultShell string
	// HomeTemplate contains a {username} placeholder.
	HomeTemplate string
}

type User struct {
	ExternalID string
	Email      string
	Name       string
	UID        int
	GID        int
	Home       string
	Shell      string
	Gecos      string
}

type Group struct {
	ExternalID string
	Email      string
	Name       string
	GID        int
	// Authoritative groups carry their gid from the directory and are
	// never allocated.
	Authoritative bool
	Members       []string
}

// Snapshot is the filtered, canonicalized view of one pass. Users and Groups
// are ordered by external id.
type Snapshot struct {
	Users  []User
	Groups []Group
}

// Build filters and normalizes raw directory records. Entities whose name
// cannot be canonicalized are skipped and reported in the returned slice;
// every other exclusion is silent.
func Build(users []identity.DirectoryUser, groups []identity.DirectoryGroup, opts Options) (Snapshot, []error) {
	var skipped []error
	snap := Snapshot{}

	users = uniqueUsers(users)
	var ucands []canon.Candidate
	pending := map[string]User{}
	for _, u := range users {
		if !u.Active() || u.Posix == nil || u.Posix.UID == nil || u.Posix.GID == nil {
			continue
		}
		if *u.Posix.UID < 0 || *u.Posix.GID < 0 {
			continue
		}
		raw := u.Posix.Username
		if raw == "" {
			raw = canon.NameFromEmail(u.Email)
		}
		name, err := canon.Canonicalize(raw, opts.Canon)
		if err != nil {
			skipped = append(skipped, withID(err, u.ID))
			continue
		}
		ucands = append(ucands, canon.Candidate{ExternalID: u.ID, Name: name})
		pending[u.ID] = User{
			ExternalID: u.ID,
			Email:      u.Email,
			UID:        *u.Posix.UID,
			GID:        *u.Posix.GID,
			Home:       u.Posix.Home,
			Shell:      u.Posix.Shell,
			Gecos:      firstNonEmpty(u.Posix.Gecos, u.FullName),
		}
	}
	unames := canon.Dedupe(ucands, opts.Canon.MaxLen)
	for _, c := range ucands {
		u := pending[c.ExternalID]
		u.Name = unames[c.ExternalID]
		if u.Home == "" {
			u.Home = strings.ReplaceAll(opts.HomeTemplate, "{username}", u.Name)
		}
		if u.Shell == "" {
			u.Shell = opts.DefaultShell
		}
		if u.Gecos == "" {
			u.Gecos = u.Name
		}
		u.Home = sanitizeField(u.Home)
		u.Shell = sanitizeField(u.Shell)
		u.Gecos = sanitizeField(u.Gecos)
		snap.Users = append(snap.Users, u)
	}

	surviving := make(map[string]bool, len(snap.Users))
	for _, u := range snap.Users {
		surviving[u.ExternalID] = true
	}

	groups = uniqueGroups(groups)
	gopts := canon.Options{MaxLen: opts.Canon.MaxLen}
	var gcands []canon.Candidate
	gpending := map[string]Group{}
	for _, g := range groups {
		if !g.Active() {
			continue
		}
		name, err := canon.Canonicalize(canon.NameFromEmail(g.Email), gopts)
		if err != nil {
			skipped = append(skipped, withID(err, g.ID))
			continue
		}
		grp := Group{ExternalID: g.ID, Email: g.Email, Members: memberIDs(g.Members, surviving)}
		if g.GID != nil && *g.GID >= 0 {
			grp.GID = *g.GID
			grp.Authoritative = true
		}
		gcands = append(gcands, canon.Candidate{ExternalID: g.ID, Name: name})
		gpending[g.ID] = grp
	}
	gnames := canon.Dedupe(gcands, opts.Canon.MaxLen)
	for _, c := range gcands {
		g := gpending[c.ExternalID]
		g.Name = gnames[c.ExternalID]
		snap.Groups = append(snap.Groups, g)
	}
	return snap, skipped
}

// ReservedGIDs is every gid claimed authoritatively this pass: user primary
// gids and explicit directory group gids.
func (s Snapshot) ReservedGIDs() map[int]bool {
	out := make(map[int]bool, len(s.Users)+len(s.Groups))
	for _, u := range s.Users {
		out[u.GID] = true
	}
	for _, g := range s.Groups {
		if g.Authoritative {
			out[g.GID] = true
		}
	}
	return out
}

// Unallocated lists external ids of groups that need a gid from the allocator.
func (s Snapshot) Unallocated() []string {
	var out []string
	for _, g := range s.Groups {
		if !g.Authoritative {
			out = append(out, g.ExternalID)
		}
	}
	return out
}

// AssignGIDs applies an allocator result. Every unallocated group must be
// present in gids.
func (s *Snapshot) AssignGIDs(gids map[string]int) error {
	for i := range s.Groups {
		g := &s.Groups[i]
		if g.Authoritative {
			continue
		}
		gid, ok := gids[g.ExternalID]
		if !ok {
			return fmt.Errorf("no gid allocated for group %s", g.ExternalID)
		}
		g.GID = gid
	}
	return nil
}

func memberIDs(members []string, surviving map[string]bool) []string {
	seen := make(map[string]bool, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if !surviving[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// uniqueUsers orders users by external id and keeps the first record of any
// duplicated id.
func uniqueUsers(in []identity.DirectoryUser) []identity.DirectoryUser {
	out := append([]identity.DirectoryUser(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	n := 0
	for i, u := range out {
		if u.ID == "" || (i > 0 && u.ID == out[i-1].ID) {
			continue
		}
		out[n] = u
		n++
	}
	return out[:n]
}

func uniqueGroups(in []identity.DirectoryGroup) []identity.DirectoryGroup {
	out := append([]identity.DirectoryGroup(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	n := 0
	for i, g := range out {
		if g.ID == "" || (i > 0 && g.ID == out[i-1].ID) {
			continue
		}
		out[n] = g
		n++
	}
	return out[:n]
}

func withID(err error, id string) error {
	if inv, ok := err.(*identity.InvalidNameError); ok {
		inv.ExternalID = id
		return inv
	}
	return fmt.Errorf("%s: %w", id, err)
}

// sanitizeField keeps a value from breaking the colon-separated grammar.
func sanitizeField(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
