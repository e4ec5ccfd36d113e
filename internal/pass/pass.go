// Package pass runs one reconciliation pass: fetch, canonicalize, allocate,
// reconcile, render, then commit files and state together.
package pass

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hnrobert/nssync/internal/alloc"
	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/distribute"
	"github.com/hnrobert/nssync/internal/hostfs"
	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/lock"
	"github.com/hnrobert/nssync/internal/logger"
	"github.com/hnrobert/nssync/internal/manifest"
	"github.com/hnrobert/nssync/internal/reconcile"
	"github.com/hnrobert/nssync/internal/render"
	"github.com/hnrobert/nssync/internal/snapshot"
	"github.com/hnrobert/nssync/internal/store"
)

// UtilizationWarn is the share of the group range above which a pass warns.
const UtilizationWarn = 0.8

type Options struct {
	OutDir     string
	LockFile   string
	Range      alloc.Range
	Snapshot   snapshot.Options
	Render     render.Options
	SigningKey []byte
	// DryRun computes everything and writes nothing.
	DryRun bool
	// Force publishes even when the rendered files are unchanged.
	Force bool
}

type Runner struct {
	Source    directory.Source
	Store     *store.Store
	Publisher distribute.Publisher
	Opts      Options
	Now       func() time.Time
}

type Result struct {
	PassID    string
	StartedAt time.Time
	Duration  time.Duration
	Users     int
	Groups    int
	Digest    string
	Changes   reconcile.ChangeSet
	// Skipped holds the recoverable per-entity errors of this pass.
	Skipped   []error
	Published bool
	DryRun    bool
	Files     render.Files
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Run executes a pass. Only one pass runs at a time across processes;
// a concurrent attempt fails with lock.ErrPassInProgress.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	res = Result{PassID: manifest.NewPassID(), StartedAt: r.now(), DryRun: r.Opts.DryRun}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	if err := r.Opts.Range.Validate(); err != nil {
		return res, err
	}

	lk, err := lock.Acquire(r.Opts.LockFile)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logger.Warn("release pass lock: %v", err)
		}
	}()

	prev, err := r.Store.Load(ctx)
	if err != nil {
		return res, err
	}

	users, err := r.Source.Users(ctx)
	if err != nil {
		return res, err
	}
	groups, err := r.Source.Groups(ctx)
	if err != nil {
		return res, err
	}
	logger.Debug("pass %s: directory returned %d users, %d groups", res.PassID, len(users), len(groups))

	snap, skipped := snapshot.Build(users, groups, r.Opts.Snapshot)
	for _, e := range skipped {
		logger.Warn("skipping entity: %v", e)
	}
	res.Skipped = skipped

	if err := r.allocate(&snap); err != nil {
		return res, err
	}

	next, changes := reconcile.Reconcile(prev, snap, res.StartedAt)
	res.Changes = changes
	res.Users, res.Groups = len(snap.Users), len(snap.Groups)
	logChanges(res.PassID, changes)

	files := render.Render(next, r.Opts.Render)
	res.Files = files
	res.Digest = files.Digest()

	if r.Opts.DryRun {
		logger.Info("pass %s: dry run, %d users and %d groups, nothing written", res.PassID, res.Users, res.Groups)
		return res, nil
	}

	meta := map[string]string{
		store.MetaLastPassID: res.PassID,
		store.MetaLastPassAt: res.StartedAt.Format(time.RFC3339),
	}

	if !r.Opts.Force && r.unchanged(ctx, res.Digest) {
		if err := r.Store.Commit(ctx, next, meta, nil); err != nil {
			return res, err
		}
		logger.Info("pass %s: output unchanged, files left in place", res.PassID)
		return res, nil
	}

	batch, err := render.Stage(r.Opts.OutDir, files)
	if err != nil {
		return res, err
	}
	meta[store.MetaPublishedDigest] = res.Digest
	if err := r.Store.Commit(ctx, next, meta, batch.Commit); err != nil {
		batch.Abort()
		return res, err
	}
	res.Published = true
	logger.Info("pass %s: published %d users and %d groups to %s", res.PassID, res.Users, res.Groups, r.Opts.OutDir)

	m := manifest.New(res.PassID, res.StartedAt, files, res.Users, res.Groups)
	if err := manifest.Write(r.Opts.OutDir, m, r.Opts.SigningKey); err != nil {
		return res, fmt.Errorf("write manifest: %w", err)
	}
	if r.Publisher != nil {
		if err := r.distribute(ctx, m, files); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) allocate(snap *snapshot.Snapshot) error {
	reserved := snap.ReservedGIDs()
	pending := snap.Unallocated()
	gids, err := alloc.Allocate(r.Opts.Range, reserved, pending)
	if err != nil {
		return err
	}

	used := len(pending)
	for gid := range reserved {
		if r.Opts.Range.Contains(gid) {
			used++
		}
	}
	if u := r.Opts.Range.Utilization(used); u > UtilizationWarn {
		logger.Warn("group id range [%d,%d] is %.0f%% used; widen it before it runs out",
			r.Opts.Range.Start, r.Opts.Range.End, u*100)
	}
	return snap.AssignGIDs(gids)
}

// unchanged reports whether the last published digest matches and the
// files on disk still hold exactly that content. Files skewed by an
// interrupted publish or edited by hand do not match.
func (r *Runner) unchanged(ctx context.Context, digest string) bool {
	last, ok, err := r.Store.Meta(ctx, store.MetaPublishedDigest)
	if err != nil {
		logger.Warn("read published digest: %v", err)
		return false
	}
	if !ok || last != digest {
		return false
	}
	var onDisk render.Files
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{hostfs.PasswdName, &onDisk.Passwd},
		{hostfs.GroupName, &onDisk.Group},
		{hostfs.ShadowName, &onDisk.Shadow},
	} {
		p, err := hostfs.Path(r.Opts.OutDir, f.name)
		if err != nil {
			return false
		}
		b, err := hostfs.ReadFile(p)
		if err != nil {
			return false
		}
		*f.dst = b
	}
	if onDisk.Digest() != digest {
		logger.Warn("published files in %s differ from the recorded digest, republishing", r.Opts.OutDir)
		return false
	}
	return true
}

func (r *Runner) distribute(ctx context.Context, m manifest.Manifest, files render.Files) error {
	body, err := m.Encode()
	if err != nil {
		return err
	}
	var token []byte
	if len(r.Opts.SigningKey) > 0 {
		tok, err := manifest.Sign(r.Opts.SigningKey, m)
		if err != nil {
			return err
		}
		token = []byte(tok + "\n")
	}
	objs := distribute.Objects(files.Passwd, files.Group, files.Shadow, body, token)
	if err := r.Publisher.Publish(ctx, objs); err != nil {
		return fmt.Errorf("distribute pass %s: %w", m.PassID, err)
	}
	logger.Info("pass %s: distributed %d objects", m.PassID, len(objs))
	return nil
}

func logChanges(passID string, cs reconcile.ChangeSet) {
	if cs.Empty() {
		logger.Debug("pass %s: no identity changes", passID)
		return
	}
	logger.Info("pass %s: %d inserted, %d updated, %d reactivated, %d deactivated", passID,
		len(cs.Inserted), len(cs.Updated), len(cs.Reactivated), len(cs.Deactivated))
	for _, group := range []struct {
		what string
		keys []identity.Key
	}{
		{"inserted", cs.Inserted},
		{"updated", cs.Updated},
		{"reactivated", cs.Reactivated},
		{"deactivated", cs.Deactivated},
	} {
		if len(group.keys) == 0 {
			continue
		}
		ks := make([]string, len(group.keys))
		for i, k := range group.keys {
			ks[i] = k.String()
		}
		logger.Debug("pass %s: %s %s", passID, group.what, strings.Join(ks, " "))
	}
}
