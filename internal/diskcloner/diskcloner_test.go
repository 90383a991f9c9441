package diskcloner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
	"github.com/stretchr/testify/require"
)

func TestCloneDiskMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CloneDisk(filepath.Join(dir, "nope.ext4"), filepath.Join(dir, "dest"))
	require.Error(t, err)
	require.Equal(t, sandchesterr.NotFound, sandchesterr.ClassifyOf(err))
}

func TestCleanupDiskMissingDirIsSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CleanupDisk(filepath.Join(dir, "does-not-exist")))
}

func TestResolveBaseImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ubuntu.ext4"), []byte("x"), 0o644))

	path, err := ResolveBaseImage(dir, "ubuntu")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "ubuntu.ext4"), path)

	_, err = ResolveBaseImage(dir, "missing")
	require.Error(t, err)
}
