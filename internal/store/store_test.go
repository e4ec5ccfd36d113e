package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/nssync/internal/db"
	"github.com/hnrobert/nssync/internal/identity"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleState() identity.State {
	s := identity.NewState()
	s.Put(identity.ResolvedIdentity{
		Kind: identity.KindUser, ExternalID: "u1", Email: "alice@example.org", Name: "alice",
		NumericID: 1001, GID: 30001, Home: "/home/alice", Shell: "/bin/bash", Gecos: "Alice",
		FirstSeen: t0, LastSeen: t0, Active: true,
	})
	s.Put(identity.ResolvedIdentity{
		Kind: identity.KindUser, ExternalID: "u2", Name: "bob",
		NumericID: 1002, GID: 1002, FirstSeen: t0, LastSeen: t0,
	})
	s.Put(identity.ResolvedIdentity{
		Kind: identity.KindGroup, ExternalID: "g1", Email: "devs@example.org", Name: "devs",
		NumericID: 30001, Members: []string{"u1", "u2"}, FirstSeen: t0, LastSeen: t0.Add(time.Minute), Active: true,
	})
	return s
}

func TestCommitAndLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := New(db.OpenTestSQLite(t))

	want := sampleState()
	require.NoError(t, st.Commit(ctx, want, map[string]string{MetaPublishedDigest: "abc"}, nil))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	v, ok, err := st.Meta(ctx, MetaPublishedDigest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestLoad_Empty(t *testing.T) {
	st := New(db.OpenTestSQLite(t))
	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Identities)

	_, ok, err := st.Meta(context.Background(), MetaLastPassID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommit_ReplacesPreviousState(t *testing.T) {
	ctx := context.Background()
	st := New(db.OpenTestSQLite(t))
	require.NoError(t, st.Commit(ctx, sampleState(), nil, nil))

	next := identity.NewState()
	next.Put(identity.ResolvedIdentity{
		Kind: identity.KindUser, ExternalID: "u9", Name: "zoe", NumericID: 9, GID: 9,
		FirstSeen: t0, LastSeen: t0, Active: true,
	})
	require.NoError(t, st.Commit(ctx, next, nil, nil))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestCommit_PublishFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	st := New(db.OpenTestSQLite(t))
	before := sampleState()
	require.NoError(t, st.Commit(ctx, before, map[string]string{MetaPublishedDigest: "old"}, nil))

	boom := errors.New("rename failed")
	err := st.Commit(ctx, identity.NewState(), map[string]string{MetaPublishedDigest: "new"}, func() error { return boom })
	require.ErrorIs(t, err, boom)

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, got)
	v, _, err := st.Meta(ctx, MetaPublishedDigest)
	require.NoError(t, err)
	assert.Equal(t, "old", v)
}

func TestLoad_DuplicateActiveNameIsCorrupt(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestSQLite(t)
	st := New(conn)
	require.NoError(t, st.Commit(ctx, sampleState(), nil, nil))

	_, err := conn.ExecContext(ctx, `
		INSERT INTO identities (kind, external_id, name, numeric_id, gid, active, first_seen, last_seen)
		VALUES ('user', 'u3', 'alice', 1003, 1003, 1, ?, ?)`,
		t0.Format(time.RFC3339Nano), t0.Format(time.RFC3339Nano))
	require.NoError(t, err)

	_, err = st.Load(ctx)
	var corrupt *identity.PersistedStateCorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "alice")
}

func TestLoad_InactiveDuplicateNameIsFine(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestSQLite(t)
	st := New(conn)
	require.NoError(t, st.Commit(ctx, sampleState(), nil, nil))

	_, err := conn.ExecContext(ctx, `
		INSERT INTO identities (kind, external_id, name, numeric_id, gid, active, first_seen, last_seen)
		VALUES ('user', 'u3', 'alice', 1003, 1003, 0, ?, ?)`,
		t0.Format(time.RFC3339Nano), t0.Format(time.RFC3339Nano))
	require.NoError(t, err)

	_, err = st.Load(ctx)
	assert.NoError(t, err)
}

func TestLoad_BadTimestampIsCorrupt(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestSQLite(t)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO identities (kind, external_id, name, numeric_id, first_seen, last_seen)
		VALUES ('group', 'g1', 'devs', 30001, 'yesterday', 'today')`)
	require.NoError(t, err)

	_, err = New(conn).Load(ctx)
	var corrupt *identity.PersistedStateCorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_NegativeIDIsCorrupt(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestSQLite(t)
	ts := t0.Format(time.RFC3339Nano)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO identities (kind, external_id, name, numeric_id, first_seen, last_seen)
		VALUES ('group', 'g1', 'devs', -4, ?, ?)`, ts, ts)
	require.NoError(t, err)

	_, err = New(conn).Load(ctx)
	var corrupt *identity.PersistedStateCorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_OrphanMemberIsCorrupt(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestSQLite(t)
	_, err := conn.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, position) VALUES ('missing', 'u1', 0)`)
	require.NoError(t, err)

	_, err = New(conn).Load(ctx)
	var corrupt *identity.PersistedStateCorruptError
	assert.ErrorAs(t, err, &corrupt)
}
