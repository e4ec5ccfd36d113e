// Package manifest describes a published set of NSS files: which pass wrote
// them, when, and their SHA-256 digests. With a signing key the same facts
// are also written as an HS256 JWT next to the files.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hnrobert/nssync/internal/hostfs"
	"github.com/hnrobert/nssync/internal/render"
)

type File struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

type Manifest struct {
	PassID      string    `json:"pass_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Users       int       `json:"users"`
	Groups      int       `json:"groups"`
	Digest      string    `json:"digest"`
	Files       []File    `json:"files"`
}

// NewPassID returns a random pass identifier.
func NewPassID() string {
	return uuid.NewString()
}

func New(passID string, at time.Time, f render.Files, users, groups int) Manifest {
	return Manifest{
		PassID:      passID,
		GeneratedAt: at.UTC(),
		Users:       users,
		Groups:      groups,
		Digest:      f.Digest(),
		Files: []File{
			fileOf(hostfs.PasswdName, f.Passwd),
			fileOf(hostfs.GroupName, f.Group),
			fileOf(hostfs.ShadowName, f.Shadow),
		},
	}
}

func fileOf(name string, b []byte) File {
	sum := sha256.Sum256(b)
	return File{Name: name, SHA256: hex.EncodeToString(sum[:]), Size: len(b)}
}

// Hashes maps file name to hex digest.
func (m Manifest) Hashes() map[string]string {
	out := make(map[string]string, len(m.Files))
	for _, f := range m.Files {
		out[f.Name] = f.SHA256
	}
	return out
}

// Encode returns the manifest.json body.
func (m Manifest) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Write stores manifest.json in dir and, when secret is set, manifest.jwt.
// Without a secret any previous token is removed so it cannot vouch for
// newer files.
func Write(dir string, m Manifest, secret []byte) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}

	p, err := hostfs.Path(dir, hostfs.ManifestName)
	if err != nil {
		return err
	}
	if err := hostfs.WriteFileAtomic(p, b, hostfs.PublicPerm); err != nil {
		return err
	}

	tp, err := hostfs.Path(dir, hostfs.TokenName)
	if err != nil {
		return err
	}
	if len(secret) == 0 {
		if err := os.Remove(tp); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	tok, err := Sign(secret, m)
	if err != nil {
		return err
	}
	return hostfs.WriteFileAtomic(tp, []byte(tok+"\n"), hostfs.PublicPerm)
}

func Read(dir string) (Manifest, error) {
	var m Manifest
	p, err := hostfs.Path(dir, hostfs.ManifestName)
	if err != nil {
		return m, err
	}
	b, err := hostfs.ReadFile(p)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", p, err)
	}
	return m, nil
}
