package hostfs

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid output path")

// Path joins an output directory with a bare file name.
// Example: Path("/var/lib/extrausers", "passwd") -> /var/lib/extrausers/passwd
func Path(dir, name string) (string, error) {
	if dir == "" || name == "" || strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return "", ErrInvalidPath
	}
	return filepath.Join(filepath.Clean(dir), name), nil
}
