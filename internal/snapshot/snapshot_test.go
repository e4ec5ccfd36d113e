package snapshot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/nssync/internal/canon"
	"github.com/hnrobert/nssync/internal/identity"
)

func intp(n int) *int { return &n }

func posix(name string, uid, gid int) *identity.PosixAccount {
	return &identity.PosixAccount{Username: name, UID: intp(uid), GID: intp(gid)}
}

var testOpts = Options{
	Canon:        canon.Options{Suffix: "_example_org"},
	DefaultShell: "/bin/bash",
	HomeTemplate: "/home/{username}",
}

func TestBuild_FiltersUsers(t *testing.T) {
	users := []identity.DirectoryUser{
		{ID: "u3", Email: "carol@example.org", Posix: posix("carol", 1003, 1003)},
		{ID: "u1", Email: "alice@example.org", FullName: "Alice A", Posix: posix("alice", 1001, 1001)},
		{ID: "u2", Email: "bob@example.org"},
		{ID: "u4", Email: "dave@example.org", Posix: posix("dave", 1004, 1004), State: identity.LifecycleSuspended},
		{ID: "u5", Email: "eve@example.org", Posix: posix("eve", 1005, 1005), State: identity.LifecycleDeleted},
		{ID: "u6", Email: "frank@example.org", Posix: &identity.PosixAccount{Username: "frank", UID: intp(1006)}},
	}

	snap, skipped := Build(users, nil, testOpts)
	assert.Empty(t, skipped)
	require.Len(t, snap.Users, 2)

	alice := snap.Users[0]
	assert.Equal(t, "u1", alice.ExternalID)
	assert.Equal(t, "alice", alice.Name)
	assert.Equal(t, 1001, alice.UID)
	assert.Equal(t, "/home/alice", alice.Home)
	assert.Equal(t, "/bin/bash", alice.Shell)
	assert.Equal(t, "Alice A", alice.Gecos)

	carol := snap.Users[1]
	assert.Equal(t, "carol", carol.Name)
	assert.Equal(t, "carol", carol.Gecos)
}

func TestBuild_UsernameFallsBackToEmail(t *testing.T) {
	users := []identity.DirectoryUser{
		{ID: "u1", Email: "JDoe_Example_Org@example.org", Posix: &identity.PosixAccount{UID: intp(1), GID: intp(1)}},
	}
	snap, _ := Build(users, nil, testOpts)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "jdoe", snap.Users[0].Name)
}

func TestBuild_ExplicitFieldsWin(t *testing.T) {
	p := posix("ops", 2000, 2000)
	p.Home = "/srv/ops"
	p.Shell = "/bin/zsh"
	p.Gecos = "Ops: on call\n"
	users := []identity.DirectoryUser{{ID: "u1", FullName: "ignored", Posix: p}}

	snap, _ := Build(users, nil, testOpts)
	require.Len(t, snap.Users, 1)
	u := snap.Users[0]
	assert.Equal(t, "/srv/ops", u.Home)
	assert.Equal(t, "/bin/zsh", u.Shell)
	assert.Equal(t, "Ops  on call ", u.Gecos)
}

func TestBuild_InvalidNameSkipped(t *testing.T) {
	users := []identity.DirectoryUser{
		{ID: "u1", Posix: posix("!!!", 1, 1)},
		{ID: "u2", Posix: posix("ok", 2, 2)},
	}
	snap, skipped := Build(users, nil, testOpts)
	require.Len(t, snap.Users, 1)
	require.Len(t, skipped, 1)

	var inv *identity.InvalidNameError
	require.True(t, errors.As(skipped[0], &inv))
	assert.Equal(t, "u1", inv.ExternalID)
}

func TestBuild_NameCollisions(t *testing.T) {
	groups := []identity.DirectoryGroup{
		{ID: "g-b", Email: "team@example.org"},
		{ID: "g-a", Email: "Team@other.example"},
	}
	snap, _ := Build(nil, groups, testOpts)
	require.Len(t, snap.Groups, 2)
	assert.Equal(t, "g-a", snap.Groups[0].ExternalID)
	assert.Equal(t, "team", snap.Groups[0].Name)
	assert.Equal(t, "team-1", snap.Groups[1].Name)
}

func TestBuild_UserAndGroupNamespacesAreSeparate(t *testing.T) {
	users := []identity.DirectoryUser{{ID: "u1", Posix: posix("team", 1, 1)}}
	groups := []identity.DirectoryGroup{{ID: "g1", Email: "team@example.org"}}

	snap, _ := Build(users, groups, testOpts)
	assert.Equal(t, "team", snap.Users[0].Name)
	assert.Equal(t, "team", snap.Groups[0].Name)
}

func TestBuild_MembershipDropsExcludedUsers(t *testing.T) {
	users := []identity.DirectoryUser{
		{ID: "u2", Posix: posix("bob", 2, 2)},
		{ID: "u1", Posix: posix("alice", 1, 1)},
		{ID: "u3"},
	}
	groups := []identity.DirectoryGroup{
		{ID: "g1", Email: "devs@example.org", Members: []string{"u3", "u2", "nested-group", "u1", "u2"}},
		{ID: "g2", Email: "gone@example.org", State: identity.LifecycleDeleted},
	}

	snap, skipped := Build(users, groups, testOpts)
	assert.Empty(t, skipped)
	require.Len(t, snap.Groups, 1)
	assert.Equal(t, []string{"u1", "u2"}, snap.Groups[0].Members)
}

func TestBuild_DuplicateIDsKeepFirst(t *testing.T) {
	users := []identity.DirectoryUser{
		{ID: "u1", Posix: posix("first", 1, 1)},
		{ID: "u1", Posix: posix("second", 2, 2)},
	}
	snap, _ := Build(users, nil, testOpts)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "first", snap.Users[0].Name)
}

func TestSnapshot_ReservedAndAssign(t *testing.T) {
	users := []identity.DirectoryUser{{ID: "u1", Posix: posix("alice", 1001, 30005)}}
	groups := []identity.DirectoryGroup{
		{ID: "g1", Email: "a@example.org"},
		{ID: "g2", Email: "b@example.org", GID: intp(30006)},
	}
	snap, _ := Build(users, groups, testOpts)

	assert.Equal(t, map[int]bool{30005: true, 30006: true}, snap.ReservedGIDs())
	assert.Equal(t, []string{"g1"}, snap.Unallocated())

	require.Error(t, snap.AssignGIDs(map[string]int{}))
	require.NoError(t, snap.AssignGIDs(map[string]int{"g1": 30001}))
	assert.Equal(t, 30001, snap.Groups[0].GID)
	assert.Equal(t, 30006, snap.Groups[1].GID)
	assert.True(t, snap.Groups[1].Authoritative)
}
