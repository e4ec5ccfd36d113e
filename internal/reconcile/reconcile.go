package reconcile

import (
	"sort"
	"time"

	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/snapshot"
)

// ChangeSet lists what a pass changed. It is informational only.
type ChangeSet struct {
	Inserted    []identity.Key
	Updated     []identity.Key
	Reactivated []identity.Key
	Deactivated []identity.Key
}

func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Reactivated) == 0 && len(c.Deactivated) == 0
}

func (c *ChangeSet) sort() {
	for _, ks := range [][]identity.Key{c.Inserted, c.Updated, c.Reactivated, c.Deactivated} {
		sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
	}
}

// Reconcile merges a snapshot into the previous state. previous is not
// modified. Every snapshot entity is upserted as active with last_seen=now;
// every previous identity absent from the snapshot is marked inactive and
// kept.
func Reconcile(previous identity.State, snap snapshot.Snapshot, now time.Time) (identity.State, ChangeSet) {
	next := previous.Clone()
	var cs ChangeSet
	seen := make(map[identity.Key]bool, len(snap.Users)+len(snap.Groups))

	upsert := func(fresh identity.ResolvedIdentity) {
		k := fresh.Key()
		seen[k] = true
		fresh.Active = true
		fresh.LastSeen = now

		old, ok := next.Get(k)
		switch {
		case !ok:
			fresh.FirstSeen = now
			cs.Inserted = append(cs.Inserted, k)
		default:
			fresh.FirstSeen = old.FirstSeen
			if old.LastSeen.After(now) {
				fresh.LastSeen = old.LastSeen
			}
			if !old.Active {
				cs.Reactivated = append(cs.Reactivated, k)
			} else if !old.SameFields(fresh) {
				cs.Updated = append(cs.Updated, k)
			}
		}
		next.Put(fresh)
	}

	for _, u := range snap.Users {
		upsert(identity.ResolvedIdentity{
			Kind:       identity.KindUser,
			ExternalID: u.ExternalID,
			Email:      u.Email,
			Name:       u.Name,
			NumericID:  u.UID,
			GID:        u.GID,
			Home:       u.Home,
			Shell:      u.Shell,
			Gecos:      u.Gecos,
		})
	}
	for _, g := range snap.Groups {
		upsert(identity.ResolvedIdentity{
			Kind:       identity.KindGroup,
			ExternalID: g.ExternalID,
			Email:      g.Email,
			Name:       g.Name,
			NumericID:  g.GID,
			Members:    append([]string(nil), g.Members...),
		})
	}

	for k, r := range next.Identities {
		if seen[k] || !r.Active {
			continue
		}
		r.Active = false
		next.Identities[k] = r
		cs.Deactivated = append(cs.Deactivated, k)
	}

	cs.sort()
	return next, cs
}
