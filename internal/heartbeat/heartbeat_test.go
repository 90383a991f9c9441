package heartbeat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListSnapshotIDsMissingDirIsEmpty(t *testing.T) {
	ids := ListSnapshotIDs(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Empty(t, ids)
	require.NotNil(t, ids)
}

func TestListSnapshotIDsSortedSubdirsOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "snap_b"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "snap_a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not_a_dir.txt"), []byte("x"), 0o644))

	ids := ListSnapshotIDs(dir)
	require.Equal(t, []string{"snap_a", "snap_b"}, ids)
}

func TestTotalSlotsIsFixedAt256(t *testing.T) {
	require.Equal(t, 256, TotalSlots())
}

func TestTickIntervalIs15Seconds(t *testing.T) {
	require.Equal(t, "15s", TickInterval().String())
}
