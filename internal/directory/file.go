package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/nssync/internal/identity"
)

// Export is the on-disk document read by File. JSON exports parse as well.
type Export struct {
	Users  []identity.DirectoryUser  `yaml:"users"`
	Groups []identity.DirectoryGroup `yaml:"groups"`
}

// File serves a directory export from disk. The file is re-read on every
// call so a long-running daemon picks up a replaced export.
type File struct {
	Path string
}

var _ Source = (*File)(nil)

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) load() (Export, error) {
	var ex Export
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return ex, &Error{Op: "read export", Err: err}
	}
	if err := yaml.Unmarshal(b, &ex); err != nil {
		return ex, &Error{Op: "parse export", Err: fmt.Errorf("%s: %w", f.Path, err)}
	}
	return ex, nil
}

func (f *File) Users(_ context.Context) ([]identity.DirectoryUser, error) {
	ex, err := f.load()
	if err != nil {
		return nil, err
	}
	return ex.Users, nil
}

func (f *File) Groups(_ context.Context) ([]identity.DirectoryGroup, error) {
	ex, err := f.load()
	if err != nil {
		return nil, err
	}
	return ex.Groups, nil
}
