package hostfs

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/logger"
)

var globalMu sync.Mutex
var fileMu = map[string]*sync.Mutex{}

func muFor(path string) *sync.Mutex {
	globalMu.Lock()
	defer globalMu.Unlock()
	if m := fileMu[path]; m != nil {
		return m
	}
	m := &sync.Mutex{}
	fileMu[path] = m
	return m
}

func ReadFile(path string) ([]byte, error) {
	m := muFor(path)
	m.Lock()
	defer m.Unlock()
	return os.ReadFile(path)
}

// Staged is a fully written temp file waiting to replace its target.
type Staged struct {
	Path string
	tmp  string
	done bool
}

// Stage writes data to a temp file next to path. Nothing visible to readers
// changes until Commit.
func Stage(path string, data []byte, perm os.FileMode) (*Staged, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &identity.RenderIOError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".nssync-*")
	if err != nil {
		return nil, &identity.RenderIOError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(err error) (*Staged, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, &identity.RenderIOError{Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, &identity.RenderIOError{Path: path, Err: err}
	}
	return &Staged{Path: path, tmp: tmpName}, nil
}

// Commit renames the staged file over its target and syncs the directory.
func (s *Staged) Commit() error {
	if s.done {
		return nil
	}
	m := muFor(s.Path)
	m.Lock()
	defer m.Unlock()

	if err := os.Rename(s.tmp, s.Path); err != nil {
		// No in-place fallback: a truncating rewrite would expose a partial
		// file to NSS readers.
		_ = os.Remove(s.tmp)
		s.done = true
		return &identity.RenderIOError{Path: s.Path, Err: err}
	}
	s.done = true
	if d, err := os.Open(filepath.Dir(s.Path)); err == nil {
		if err := d.Sync(); err != nil {
			logger.Warn("fsync %s: %v", filepath.Dir(s.Path), err)
		}
		_ = d.Close()
	}
	return nil
}

// Abort removes the temp file. Safe after Commit.
func (s *Staged) Abort() {
	if s.done {
		return
	}
	_ = os.Remove(s.tmp)
	s.done = true
}

// WriteFileAtomic stages and commits in one step.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	st, err := Stage(path, data, perm)
	if err != nil {
		return err
	}
	return st.Commit()
}

// Batch is a set of staged files replaced together. Each file is replaced
// atomically; the set as a whole is not.
type Batch []*Staged

// Commit replaces files in order. On failure the remaining staged files are
// removed and the error is returned.
func (b Batch) Commit() error {
	for i, s := range b {
		if err := s.Commit(); err != nil {
			b[i+1:].Abort()
			return err
		}
	}
	return nil
}

func (b Batch) Abort() {
	for _, s := range b {
		s.Abort()
	}
}
