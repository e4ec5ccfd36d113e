package render

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"strconv"

	"github.com/hnrobert/nssync/internal/hostfs"
	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/nssfile"
)

type Options struct {
	// UserPrivateGroups adds a group line for every user primary gid that no
	// directory group covers.
	UserPrivateGroups bool
}

// Files holds the three rendered bodies.
type Files struct {
	Passwd []byte
	Shadow []byte
	Group  []byte
}

// Digest is a SHA-256 over all three bodies, used for change detection.
func (f Files) Digest() string {
	h := sha256.New()
	for _, b := range [][]byte{f.Passwd, f.Group, f.Shadow} {
		h.Write([]byte(strconv.Itoa(len(b))))
		h.Write([]byte{0})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Render serializes the active identities of state. The output depends only
// on the active identities, so unchanged state renders byte-identically.
func Render(state identity.State, opts Options) Files {
	users := state.Active(identity.KindUser)
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].NumericID != users[j].NumericID {
			return users[i].NumericID < users[j].NumericID
		}
		return users[i].Name < users[j].Name
	})

	pw := make([]nssfile.PasswdEntry, 0, len(users))
	sh := make([]nssfile.ShadowEntry, 0, len(users))
	for _, u := range users {
		pw = append(pw, nssfile.PasswdEntry{
			Name:   u.Name,
			Passwd: nssfile.PlaceholderPasswd,
			UID:    u.NumericID,
			GID:    u.GID,
			Gecos:  u.Gecos,
			Home:   u.Home,
			Shell:  u.Shell,
		})
		sh = append(sh, nssfile.Locked(u.Name))
	}

	return Files{
		Passwd: nssfile.FormatPasswd(pw),
		Shadow: nssfile.FormatShadow(sh),
		Group:  nssfile.FormatGroup(groupEntries(state, opts)),
	}
}

func groupEntries(state identity.State, opts Options) []nssfile.GroupEntry {
	// Member names resolve through active users only.
	names := map[string]string{}
	for _, u := range state.Active(identity.KindUser) {
		names[u.ExternalID] = u.Name
	}

	var out []nssfile.GroupEntry
	taken := map[string]bool{}
	gids := map[int]bool{}
	for _, g := range state.Active(identity.KindGroup) {
		members := make([]string, 0, len(g.Members))
		for _, id := range g.Members {
			if n, ok := names[id]; ok {
				members = append(members, n)
			}
		}
		out = append(out, nssfile.GroupEntry{
			Name:    g.Name,
			Passwd:  nssfile.PlaceholderPasswd,
			GID:     g.NumericID,
			Members: members,
		})
		taken[g.Name] = true
		gids[g.NumericID] = true
	}

	if opts.UserPrivateGroups {
		out = append(out, privateGroups(state.Active(identity.KindUser), taken, gids)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GID != out[j].GID {
			return out[i].GID < out[j].GID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// privateGroups synthesizes one group per primary gid not already covered by
// a directory group. It is named after its user when exactly one user has
// that gid and the name is free, otherwise grp<gid>, suffixed with -N while
// that name is taken too. Every primary gid gets a group line.
func privateGroups(users []identity.ResolvedIdentity, taken map[string]bool, gids map[int]bool) []nssfile.GroupEntry {
	byGID := map[int][]string{}
	for _, u := range users {
		if gids[u.GID] {
			continue
		}
		byGID[u.GID] = append(byGID[u.GID], u.Name)
	}
	keys := make([]int, 0, len(byGID))
	for gid := range byGID {
		keys = append(keys, gid)
	}
	sort.Ints(keys)

	out := make([]nssfile.GroupEntry, 0, len(keys))
	for _, gid := range keys {
		name := "grp" + strconv.Itoa(gid)
		if owners := byGID[gid]; len(owners) == 1 && !taken[owners[0]] {
			name = owners[0]
		}
		if taken[name] {
			base := name
			for n := 1; taken[name]; n++ {
				name = base + "-" + strconv.Itoa(n)
			}
		}
		taken[name] = true
		out = append(out, nssfile.GroupEntry{Name: name, Passwd: nssfile.PlaceholderPasswd, GID: gid, Members: []string{}})
	}
	return out
}

// Stage writes all three files as temp files in dir. Nothing is visible to
// readers until the returned batch is committed.
func Stage(dir string, f Files) (hostfs.Batch, error) {
	var batch hostfs.Batch
	for _, item := range []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{hostfs.PasswdName, f.Passwd, hostfs.PublicPerm},
		{hostfs.GroupName, f.Group, hostfs.PublicPerm},
		{hostfs.ShadowName, f.Shadow, hostfs.ShadowPerm},
	} {
		p, err := hostfs.Path(dir, item.name)
		if err != nil {
			batch.Abort()
			return nil, &identity.RenderIOError{Path: dir, Err: err}
		}
		st, err := hostfs.Stage(p, item.data, item.perm)
		if err != nil {
			batch.Abort()
			return nil, err
		}
		batch = append(batch, st)
	}
	return batch, nil
}

// Publish stages and commits the three files.
func Publish(dir string, f Files) error {
	batch, err := Stage(dir, f)
	if err != nil {
		return err
	}
	return batch.Commit()
}
