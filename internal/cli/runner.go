package cli

import (
	"context"
	"fmt"

	"github.com/hnrobert/nssync/internal/config"
	"github.com/hnrobert/nssync/internal/directory"
	"github.com/hnrobert/nssync/internal/distribute"
	"github.com/hnrobert/nssync/internal/lock"
	"github.com/hnrobert/nssync/internal/logger"
	"github.com/hnrobert/nssync/internal/pass"
	"github.com/hnrobert/nssync/internal/render"
	"github.com/hnrobert/nssync/internal/snapshot"
	"github.com/hnrobert/nssync/internal/store"
)

func newSource(ctx context.Context, cfg config.Config, readWrite bool) (directory.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceFile:
		return directory.NewFile(cfg.Source.File), nil
	case config.SourceGoogle:
		gc := cfg.Source.Google
		return directory.NewGoogle(ctx, directory.GoogleOptions{
			KeyFile:     gc.KeyFile,
			Impersonate: gc.Impersonate,
			Customer:    gc.Customer,
			Domain:      gc.Domain,
			RPS:         gc.RPS,
			MaxRetries:  gc.MaxRetries,
			ReadWrite:   readWrite,
		})
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

func passOptions(cfg config.Config) pass.Options {
	o := pass.Options{
		OutDir:   cfg.OutDir,
		LockFile: cfg.LockFile,
		Range:    cfg.GroupRange,
		Snapshot: snapshot.Options{
			Canon:        cfg.Canon(),
			DefaultShell: cfg.DefaultShell,
			HomeTemplate: cfg.HomeTemplate,
		},
		Render: render.Options{UserPrivateGroups: cfg.UserPrivateGroups},
	}
	if cfg.Manifest.SigningKey != "" {
		o.SigningKey = []byte(cfg.Manifest.SigningKey)
	}
	return o
}

// openStoreLocked opens and migrates the state database while holding the
// pass lock, so two first-ever starts cannot race on the schema.
func openStoreLocked(cfg config.Config) (*store.Store, error) {
	lk, err := lock.Acquire(cfg.LockFile)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logger.Warn("release pass lock: %v", err)
		}
	}()
	return store.Open(cfg.DB)
}

// newRunner wires a pass from configuration. The returned cleanup closes
// everything that was opened.
func newRunner(ctx context.Context, cfg config.Config) (*pass.Runner, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, func() {}, err
	}

	st, err := openStoreLocked(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	src, err := newSource(ctx, cfg, false)
	if err != nil {
		_ = st.Close()
		return nil, func() {}, err
	}

	r := &pass.Runner{Source: src, Store: st, Opts: passOptions(cfg)}
	if gcs := cfg.Distribute.GCS; gcs.Bucket != "" {
		pub, err := distribute.NewGCS(ctx, gcs.Bucket, gcs.Prefix, gcs.KeyFile)
		if err != nil {
			_ = st.Close()
			return nil, func() {}, err
		}
		r.Publisher = pub
	}

	cleanup := func() {
		_ = st.Close()
		if r.Publisher != nil {
			_ = r.Publisher.Close()
		}
	}
	return r, cleanup, nil
}
