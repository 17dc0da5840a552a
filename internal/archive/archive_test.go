package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "captures")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.DirExists(t, base)
}

func TestNewRejectsFileAsBaseDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: path})
	require.Error(t, err)
}

func TestPutWritesFingerprintedFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	payload := []byte("png-bytes")
	path, err := store.Put("deadbeef", "png", payload)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "deadbeef.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPutStripsPathComponents(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	path, err := store.Put("../escape", "png", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, base, filepath.Dir(path))
}

func TestPutOverwritesExisting(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put("key", "jpeg", []byte("old"))
	require.NoError(t, err)
	path, err := store.Put("key", "jpeg", []byte("new"))
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
}
