package pass

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/nssync/internal/alloc"
	"github.com/hnrobert/nssync/internal/db"
	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/distribute"
	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/lock"
	"github.com/hnrobert/nssync/internal/manifest"
	"github.com/hnrobert/nssync/internal/render"
	"github.com/hnrobert/nssync/internal/snapshot"
	"github.com/hnrobert/nssync/internal/store"
)

const export = `
users:
  - id: u1
    email: alice@example.org
    full_name: Alice Liddell
    posix: {uid: 1001, gid: 1001}
  - id: u2
    email: bob@example.org
    posix: {username: bob, uid: 1002, gid: 1002, shell: /bin/zsh}
  - id: u3
    email: carol@example.org
groups:
  - id: g-001
    email: devs@example.org
    members: [u2, u1, u3]
  - id: g-ops
    email: ops@example.org
    gid: 500
    members: [u1]
`

type fixture struct {
	t      *testing.T
	dir    string
	out    string
	input  string
	store  *store.Store
	runner *Runner
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		t:     t,
		dir:   dir,
		out:   filepath.Join(dir, "extrausers"),
		input: filepath.Join(dir, "export.yaml"),
		store: store.New(db.OpenTestSQLite(t)),
	}
	f.write(doc)
	f.runner = &Runner{
		Source: directory.NewFile(f.input),
		Store:  f.store,
		Opts: Options{
			OutDir:   f.out,
			LockFile: filepath.Join(dir, "nssync.lock"),
			Range:    alloc.Range{Start: 30000, End: 39999},
			Snapshot: snapshot.Options{DefaultShell: "/bin/bash", HomeTemplate: "/home/{username}"},
			Render:   render.Options{UserPrivateGroups: true},
		},
		Now: func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) },
	}
	return f
}

func (f *fixture) write(doc string) {
	require.NoError(f.t, os.WriteFile(f.input, []byte(doc), 0600))
}

func (f *fixture) read(name string) string {
	b, err := os.ReadFile(filepath.Join(f.out, name))
	require.NoError(f.t, err)
	return string(b)
}

func (f *fixture) run() Result {
	res, err := f.runner.Run(context.Background())
	require.NoError(f.t, err)
	return res
}

func TestRun_FirstPassPublishes(t *testing.T) {
	f := newFixture(t, export)
	res := f.run()

	assert.True(t, res.Published)
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, 2, res.Groups)
	assert.Len(t, res.Changes.Inserted, 4)

	assert.Equal(t,
		"alice:x:1001:1001:Alice Liddell:/home/alice:/bin/bash\n"+
			"bob:x:1002:1002:bob:/home/bob:/bin/zsh\n",
		f.read("passwd"))
	assert.Equal(t, "alice:!:::::::\nbob:!:::::::\n", f.read("shadow"))

	devs := alloc.PrimarySlot(f.runner.Opts.Range, "g-001")
	assert.Equal(t,
		"ops:x:500:alice\n"+
			"alice:x:1001:\n"+
			"bob:x:1002:\n"+
			fmt.Sprintf("devs:x:%d:alice,bob\n", devs),
		f.read("group"))

	m, err := manifest.Verify(f.out, nil)
	require.NoError(t, err)
	assert.Equal(t, res.PassID, m.PassID)

	digest, ok, err := f.store.Meta(context.Background(), store.MetaPublishedDigest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.Digest, digest)
}

func TestRun_UnchangedSkipsWrite(t *testing.T) {
	f := newFixture(t, export)
	first := f.run()
	before := f.read("group")

	second := f.run()
	assert.False(t, second.Published)
	assert.True(t, second.Changes.Empty())
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, before, f.read("group"))

	m, err := manifest.Read(f.out)
	require.NoError(t, err)
	assert.Equal(t, first.PassID, m.PassID)

	f.runner.Opts.Force = true
	assert.True(t, f.run().Published)
}

func TestRun_MissingFilesRepublished(t *testing.T) {
	f := newFixture(t, export)
	f.run()
	require.NoError(t, os.Remove(filepath.Join(f.out, "shadow")))

	res := f.run()
	assert.True(t, res.Published)
	assert.Equal(t, "alice:!:::::::\nbob:!:::::::\n", f.read("shadow"))
}

func TestRun_SkewedFilesRepublished(t *testing.T) {
	f := newFixture(t, export)
	f.run()
	want := f.read("passwd")

	// passwd from a later render next to the published group and shadow.
	require.NoError(t, os.WriteFile(filepath.Join(f.out, "passwd"), []byte("alice:x:1001:1001:::/bin/bash\n"), 0644))

	res := f.run()
	assert.True(t, res.Published)
	assert.Equal(t, want, f.read("passwd"))
}

func TestRun_RemovalAndReturn(t *testing.T) {
	f := newFixture(t, export)
	f.run()
	firstGroup := f.read("group")

	f.write(strings.Replace(export, "  - id: u2\n    email: bob@example.org\n    posix: {username: bob, uid: 1002, gid: 1002, shell: /bin/zsh}\n", "", 1))
	res := f.run()
	assert.Equal(t, []identity.Key{{Kind: identity.KindUser, ExternalID: "u2"}}, res.Changes.Deactivated)
	assert.NotContains(t, f.read("passwd"), "bob")
	assert.NotContains(t, f.read("group"), "bob")

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	bob, ok := state.Get(identity.Key{Kind: identity.KindUser, ExternalID: "u2"})
	require.True(t, ok)
	assert.False(t, bob.Active)

	f.write(export)
	res = f.run()
	assert.Equal(t, []identity.Key{{Kind: identity.KindUser, ExternalID: "u2"}}, res.Changes.Reactivated)
	assert.Equal(t, firstGroup, f.read("group"))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, export)
	f.runner.Opts.DryRun = true
	res := f.run()

	assert.True(t, res.DryRun)
	assert.False(t, res.Published)
	assert.Contains(t, string(res.Files.Passwd), "alice")
	_, err := os.Stat(f.out)
	assert.True(t, os.IsNotExist(err))

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Identities)
}

func TestRun_ExhaustionWritesNothing(t *testing.T) {
	f := newFixture(t, `
groups:
  - {id: a, email: a@example.org}
  - {id: b, email: b@example.org}
`)
	f.runner.Opts.Range = alloc.Range{Start: 100, End: 100}

	_, err := f.runner.Run(context.Background())
	var exhausted *identity.AllocationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Pending)

	_, statErr := os.Stat(f.out)
	assert.True(t, os.IsNotExist(statErr))
	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Identities)
}

func TestRun_LockHeld(t *testing.T) {
	f := newFixture(t, export)
	held, err := lock.Acquire(f.runner.Opts.LockFile)
	require.NoError(t, err)
	defer held.Release()

	_, err = f.runner.Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrPassInProgress)
}

func TestRun_StagingFailureKeepsState(t *testing.T) {
	f := newFixture(t, export)
	require.NoError(t, os.WriteFile(f.out, []byte("not a directory"), 0600))

	_, err := f.runner.Run(context.Background())
	var rio *identity.RenderIOError
	require.ErrorAs(t, err, &rio)

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Identities)
}

func TestRun_InvalidNameSkipped(t *testing.T) {
	f := newFixture(t, export+`
  - id: g-bad
    email: "!!!@example.org"
`)
	res := f.run()
	require.Len(t, res.Skipped, 1)
	var inv *identity.InvalidNameError
	assert.ErrorAs(t, res.Skipped[0], &inv)
	assert.Equal(t, 2, res.Groups)
}

func TestRun_CorruptState(t *testing.T) {
	conn := db.OpenTestSQLite(t)
	_, err := conn.Exec(`INSERT INTO identities (kind, external_id, name, numeric_id, first_seen, last_seen)
		VALUES ('user', 'u1', 'alice', -1, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	f := newFixture(t, export)
	f.runner.Store = store.New(conn)
	_, err = f.runner.Run(context.Background())
	var corrupt *identity.PersistedStateCorruptError
	assert.ErrorAs(t, err, &corrupt)
}

type recorder struct {
	names []string
	err   error
}

func (r *recorder) Publish(_ context.Context, objs []distribute.Object) error {
	for _, o := range objs {
		r.names = append(r.names, o.Name)
	}
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestRun_Distributes(t *testing.T) {
	f := newFixture(t, export)
	rec := &recorder{}
	f.runner.Publisher = rec
	f.runner.Opts.SigningKey = []byte("k")
	f.run()

	assert.Equal(t, []string{"passwd", "group", "shadow", "manifest.jwt", "manifest.json"}, rec.names)
	_, err := manifest.Verify(f.out, []byte("k"))
	assert.NoError(t, err)
}

func TestRun_DistributionFailureKeepsLocalPublish(t *testing.T) {
	f := newFixture(t, export)
	f.runner.Publisher = &recorder{err: errors.New("bucket gone")}

	res, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, res.Published)
	assert.Contains(t, f.read("passwd"), "alice")
}

func TestRun_DirectoryError(t *testing.T) {
	f := newFixture(t, export)
	f.runner.Source = directory.NewFile(filepath.Join(f.dir, "missing.yaml"))

	_, err := f.runner.Run(context.Background())
	var dirErr *directory.Error
	assert.ErrorAs(t, err, &dirErr)
}
