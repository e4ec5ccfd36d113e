package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hnrobert/nssync/internal/hostfs"
)

// MismatchError reports a published file whose content no longer matches
// its manifest or token.
type MismatchError struct {
	File string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: digest %s, manifest says %s", e.File, e.Got, e.Want)
}

// Verify checks the files in dir against manifest.json and, when secret is
// set, checks that manifest.jwt is valid and agrees with the manifest.
func Verify(dir string, secret []byte) (Manifest, error) {
	m, err := Read(dir)
	if err != nil {
		return m, err
	}

	for _, f := range m.Files {
		p, err := hostfs.Path(dir, f.Name)
		if err != nil {
			return m, err
		}
		b, err := hostfs.ReadFile(p)
		if err != nil {
			return m, err
		}
		sum := sha256.Sum256(b)
		if got := hex.EncodeToString(sum[:]); got != f.SHA256 {
			return m, &MismatchError{File: f.Name, Want: f.SHA256, Got: got}
		}
	}

	if len(secret) == 0 {
		return m, nil
	}
	tp, err := hostfs.Path(dir, hostfs.TokenName)
	if err != nil {
		return m, err
	}
	raw, err := hostfs.ReadFile(tp)
	if err != nil {
		return m, err
	}
	claims, err := ParseToken(secret, strings.TrimSpace(string(raw)))
	if err != nil {
		return m, fmt.Errorf("manifest token: %w", err)
	}
	if claims.ID != m.PassID || claims.Digest != m.Digest {
		return m, fmt.Errorf("manifest token is for pass %s, manifest is pass %s", claims.ID, m.PassID)
	}
	for name, want := range m.Hashes() {
		if claims.Files[name] != want {
			return m, &MismatchError{File: name, Want: claims.Files[name], Got: want}
		}
	}
	return m, nil
}
