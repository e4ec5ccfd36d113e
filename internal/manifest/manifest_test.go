package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/nssync/internal/render"
)

var files = render.Files{
	Passwd: []byte("alice:x:1001:1001:Alice:/home/alice:/bin/bash\n"),
	Shadow: []byte("alice:!:::::::\n"),
	Group:  []byte("alice:x:1001:\n"),
}

func publish(t *testing.T, secret []byte) (string, Manifest) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, render.Publish(dir, files))
	m := New(NewPassID(), time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), files, 1, 1)
	require.NoError(t, Write(dir, m, secret))
	return dir, m
}

func TestNew(t *testing.T) {
	m := New("p1", time.Unix(0, 0), files, 1, 1)
	assert.Equal(t, files.Digest(), m.Digest)
	require.Len(t, m.Files, 3)
	assert.Equal(t, "passwd", m.Files[0].Name)
	assert.Equal(t, len(files.Passwd), m.Files[0].Size)
	assert.Len(t, m.Files[0].SHA256, 64)
}

func TestNewPassID_Unique(t *testing.T) {
	assert.NotEqual(t, NewPassID(), NewPassID())
}

func TestWriteRead(t *testing.T) {
	dir, m := publish(t, nil)
	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = os.Stat(filepath.Join(dir, "manifest.jwt"))
	assert.True(t, os.IsNotExist(err))
}

func TestVerify_Unsigned(t *testing.T) {
	dir, m := publish(t, nil)
	got, err := Verify(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, m.PassID, got.PassID)
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir, _ := publish(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group"), []byte("root:x:0:\n"), 0644))

	_, err := Verify(dir, nil)
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, "group", mm.File)
}

func TestVerify_Signed(t *testing.T) {
	secret := []byte("s3cret")
	dir, _ := publish(t, secret)

	_, err := Verify(dir, secret)
	require.NoError(t, err)

	_, err = Verify(dir, []byte("wrong"))
	assert.Error(t, err)
}

func TestWrite_UnsignedRemovesStaleToken(t *testing.T) {
	secret := []byte("s3cret")
	dir, m := publish(t, secret)
	require.FileExists(t, filepath.Join(dir, "manifest.jwt"))

	require.NoError(t, Write(dir, m, nil))
	assert.NoFileExists(t, filepath.Join(dir, "manifest.jwt"))
}

func TestSignParse(t *testing.T) {
	m := New("pass-7", time.Now(), files, 1, 1)
	tok, err := Sign([]byte("k"), m)
	require.NoError(t, err)

	claims, err := ParseToken([]byte("k"), tok)
	require.NoError(t, err)
	assert.Equal(t, "pass-7", claims.ID)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, m.Hashes(), claims.Files)
}
