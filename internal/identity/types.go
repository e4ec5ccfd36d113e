package identity

import (
	"sort"
	"time"
)

type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleSuspended Lifecycle = "suspended"
	LifecycleDeleted   Lifecycle = "deleted"
)

// PosixAccount holds the explicit POSIX fields a directory user may carry.
// UID and GID are required for the user to be importable.
type PosixAccount struct {
	Username string `yaml:"username" json:"username"`
	UID      *int   `yaml:"uid" json:"uid"`
	GID      *int   `yaml:"gid" json:"gid"`
	Home     string `yaml:"home" json:"home"`
	Shell    string `yaml:"shell" json:"shell"`
	Gecos    string `yaml:"gecos" json:"gecos"`
}

type DirectoryUser struct {
	ID       string        `yaml:"id" json:"id"`
	Email    string        `yaml:"email" json:"email"`
	FullName string        `yaml:"full_name" json:"full_name"`
	Posix    *PosixAccount `yaml:"posix" json:"posix"`
	// ExtraPosix holds the user's other posix accounts. They are never
	// rendered, but their ids and usernames are in use.
	ExtraPosix []PosixAccount `yaml:"extra_posix" json:"extra_posix"`
	State      Lifecycle      `yaml:"state" json:"state"`
}

type DirectoryGroup struct {
	ID      string    `yaml:"id" json:"id"`
	Email   string    `yaml:"email" json:"email"`
	GID     *int      `yaml:"gid" json:"gid"`
	Members []string  `yaml:"members" json:"members"`
	State   Lifecycle `yaml:"state" json:"state"`
}

// Active treats an empty lifecycle as active; sources that cannot express
// suspension leave it unset.
func (u DirectoryUser) Active() bool {
	return u.State == "" || u.State == LifecycleActive
}

func (g DirectoryGroup) Active() bool {
	return g.State == "" || g.State == LifecycleActive
}

type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

func (k Kind) Valid() bool {
	return k == KindUser || k == KindGroup
}

// Key identifies a persisted identity. Users and groups live in separate
// namespaces, so the external id alone is not unique.
type Key struct {
	Kind       Kind
	ExternalID string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ExternalID
}

func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ExternalID < o.ExternalID
}

type ResolvedIdentity struct {
	Kind       Kind
	ExternalID string
	Email      string
	Name       string
	// NumericID is the uid for users and the gid for groups.
	NumericID int
	// GID is the primary group of a user; zero for groups.
	GID   int
	Home  string
	Shell string
	Gecos string
	// Members are user external ids, ascending. Groups only.
	Members   []string
	FirstSeen time.Time
	LastSeen  time.Time
	Active    bool
}

func (r ResolvedIdentity) Key() Key {
	return Key{Kind: r.Kind, ExternalID: r.ExternalID}
}

// SameFields reports whether the resolved POSIX projection of two records is
// equal. Timestamps and the active flag are not compared.
func (r ResolvedIdentity) SameFields(o ResolvedIdentity) bool {
	if r.Name != o.Name || r.NumericID != o.NumericID || r.GID != o.GID ||
		r.Home != o.Home || r.Shell != o.Shell || r.Gecos != o.Gecos || r.Email != o.Email {
		return false
	}
	if len(r.Members) != len(o.Members) {
		return false
	}
	for i := range r.Members {
		if r.Members[i] != o.Members[i] {
			return false
		}
	}
	return true
}

// State is the full persisted identity set, active and inactive.
type State struct {
	Identities map[Key]ResolvedIdentity
}

func NewState() State {
	return State{Identities: map[Key]ResolvedIdentity{}}
}

func (s State) Get(k Key) (ResolvedIdentity, bool) {
	r, ok := s.Identities[k]
	return r, ok
}

func (s State) Put(r ResolvedIdentity) {
	s.Identities[r.Key()] = r
}

// Sorted returns every identity of the given kind ordered by external id.
func (s State) Sorted(kind Kind) []ResolvedIdentity {
	out := make([]ResolvedIdentity, 0, len(s.Identities))
	for _, r := range s.Identities {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (s State) Active(kind Kind) []ResolvedIdentity {
	all := s.Sorted(kind)
	out := all[:0]
	for _, r := range all {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

func (s State) Clone() State {
	c := State{Identities: make(map[Key]ResolvedIdentity, len(s.Identities))}
	for k, r := range s.Identities {
		r.Members = append([]string(nil), r.Members...)
		c.Identities[k] = r
	}
	return c
}
