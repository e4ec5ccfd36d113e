package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hnrobert/nssync/internal/db"
	"github.com/hnrobert/nssync/internal/identity"
)

// Meta keys.
const (
	MetaPublishedDigest = "published_digest"
	MetaLastPassID      = "last_pass_id"
	MetaLastPassAt      = "last_pass_at"
)

const timeLayout = time.RFC3339Nano

// Store is the persisted identity state. All writes go through Commit, which
// replaces the whole state in one transaction.
type Store struct {
	db *sql.DB
}

// Open opens and migrates the state database at path.
func Open(path string) (*Store, error) {
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, &identity.PersistedStateCorruptError{Reason: "schema migration failed", Err: err}
	}
	return &Store{db: conn}, nil
}

// New wraps an already migrated database.
func New(conn *sql.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every identity, active or not, and checks the invariants the
// renderer relies on.
func (s *Store) Load(ctx context.Context) (identity.State, error) {
	state := identity.NewState()

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, external_id, email, name, numeric_id, gid, home, shell, gecos, active, first_seen, last_seen
		FROM identities`)
	if err != nil {
		return state, &identity.PersistedStateCorruptError{Reason: "query identities", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                   identity.ResolvedIdentity
			kind                string
			active              int
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&kind, &r.ExternalID, &r.Email, &r.Name, &r.NumericID, &r.GID,
			&r.Home, &r.Shell, &r.Gecos, &active, &firstSeen, &lastSeen); err != nil {
			return state, &identity.PersistedStateCorruptError{Reason: "scan identity", Err: err}
		}
		r.Kind = identity.Kind(kind)
		r.Active = active != 0
		if r.FirstSeen, err = time.Parse(timeLayout, firstSeen); err != nil {
			return state, &identity.PersistedStateCorruptError{Reason: "first_seen of " + r.Key().String(), Err: err}
		}
		if r.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
			return state, &identity.PersistedStateCorruptError{Reason: "last_seen of " + r.Key().String(), Err: err}
		}
		state.Put(r)
	}
	if err := rows.Err(); err != nil {
		return state, &identity.PersistedStateCorruptError{Reason: "read identities", Err: err}
	}

	if err := s.loadMembers(ctx, state); err != nil {
		return state, err
	}
	if err := validate(state); err != nil {
		return state, err
	}
	return state, nil
}

func (s *Store) loadMembers(ctx context.Context, state identity.State) error {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, user_id FROM group_members ORDER BY group_id, position`)
	if err != nil {
		return &identity.PersistedStateCorruptError{Reason: "query group_members", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var gid, uid string
		if err := rows.Scan(&gid, &uid); err != nil {
			return &identity.PersistedStateCorruptError{Reason: "scan group member", Err: err}
		}
		k := identity.Key{Kind: identity.KindGroup, ExternalID: gid}
		g, ok := state.Get(k)
		if !ok {
			return &identity.PersistedStateCorruptError{Reason: fmt.Sprintf("member %s of unknown group %s", uid, gid)}
		}
		g.Members = append(g.Members, uid)
		state.Put(g)
	}
	if err := rows.Err(); err != nil {
		return &identity.PersistedStateCorruptError{Reason: "read group_members", Err: err}
	}
	return nil
}

func validate(state identity.State) error {
	for _, kind := range []identity.Kind{identity.KindUser, identity.KindGroup} {
		names := map[string]string{}
		for _, r := range state.Sorted(kind) {
			if r.NumericID < 0 || r.GID < 0 {
				return &identity.PersistedStateCorruptError{Reason: "negative id for " + r.Key().String()}
			}
			if r.Name == "" {
				return &identity.PersistedStateCorruptError{Reason: "empty name for " + r.Key().String()}
			}
			if !r.Active {
				continue
			}
			if other, dup := names[r.Name]; dup {
				return &identity.PersistedStateCorruptError{
					Reason: fmt.Sprintf("active %ss %s and %s share name %q", kind, other, r.ExternalID, r.Name),
				}
			}
			names[r.Name] = r.ExternalID
		}
	}
	for k := range state.Identities {
		if !k.Kind.Valid() {
			return &identity.PersistedStateCorruptError{Reason: "unknown kind " + string(k.Kind)}
		}
	}
	return nil
}

// Meta returns a meta value and whether it was set.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, true, nil
}

// Commit replaces the persisted state and sets meta values in one
// transaction. publish, when non-nil, runs inside the transaction after all
// writes; if it fails the transaction is rolled back and its error returned.
func (s *Store) Commit(ctx context.Context, state identity.State, meta map[string]string, publish func() error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = replaceAll(ctx, tx, state); err != nil {
		return err
	}
	for k, v := range meta {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	if publish != nil {
		if err = publish(); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state transaction: %w", err)
	}
	return nil
}

func replaceAll(ctx context.Context, tx *sql.Tx, state identity.State) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members`); err != nil {
		return fmt.Errorf("clear group_members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM identities`); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO identities (kind, external_id, email, name, numeric_id, gid, home, shell, gecos, active, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare identity insert: %w", err)
	}
	defer ins.Close()

	mem, err := tx.PrepareContext(ctx, `INSERT INTO group_members (group_id, user_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare member insert: %w", err)
	}
	defer mem.Close()

	for _, kind := range []identity.Kind{identity.KindUser, identity.KindGroup} {
		for _, r := range state.Sorted(kind) {
			active := 0
			if r.Active {
				active = 1
			}
			if _, err := ins.ExecContext(ctx, string(r.Kind), r.ExternalID, r.Email, r.Name, r.NumericID, r.GID,
				r.Home, r.Shell, r.Gecos, active,
				r.FirstSeen.UTC().Format(timeLayout), r.LastSeen.UTC().Format(timeLayout)); err != nil {
				return fmt.Errorf("insert %s: %w", r.Key(), err)
			}
			for i, m := range r.Members {
				if _, err := mem.ExecContext(ctx, r.ExternalID, m, i); err != nil {
					return fmt.Errorf("insert member %s of %s: %w", m, r.ExternalID, err)
				}
			}
		}
	}
	return nil
}
