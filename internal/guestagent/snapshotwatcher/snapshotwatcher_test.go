package snapshotwatcher

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, now time.Time) *Watcher {
	t.Helper()
	return &Watcher{
		nowFn: func() time.Time { return now },
		path:  filepath.Join(t.TempDir(), "heartbeat"),
	}
}

func writeTS(t *testing.T, w *Watcher, ts int64) {
	t.Helper()
	require.NoError(t, os.WriteFile(w.path, []byte(strconv.FormatInt(ts, 10)), 0o644))
}

// Staleness is monotone under time: strictly older than now-5s is
// stale, at exactly now-5s or later is fresh, future timestamps are
// never stale.
func TestStaleness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name   string
		offset int64 // file_ts = now + offset
		stale  bool
	}{
		{"well in the past", -60, true},
		{"just past threshold", -6, true},
		{"exactly at threshold", -5, false},
		{"recent", -1, false},
		{"same second", 0, false},
		{"future", 30, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newTestWatcher(t, now)
			writeTS(t, w, now.Unix()+tc.offset)
			require.Equal(t, tc.stale, w.isStale())
		})
	}
}

func TestMissingFileIsNeverStale(t *testing.T) {
	w := newTestWatcher(t, time.Unix(1_700_000_000, 0))
	require.False(t, w.isStale())
}

func TestUnparseableFileIsNeverStale(t *testing.T) {
	w := newTestWatcher(t, time.Unix(1_700_000_000, 0))
	require.NoError(t, os.WriteFile(w.path, []byte("not a number"), 0o644))
	require.False(t, w.isStale())
}

func TestWriteHeartbeatRefreshesStaleness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := newTestWatcher(t, now)
	writeTS(t, w, now.Unix()-60)
	require.True(t, w.isStale())

	w.writeHeartbeat()
	require.False(t, w.isStale())

	data, err := os.ReadFile(w.path)
	require.NoError(t, err)
	require.Equal(t, strconv.FormatInt(now.Unix(), 10), string(data))
}

func TestSplitmixProducesDistinctStates(t *testing.T) {
	seen := make(map[uint64]bool)
	state := splitmixSeed(12345)
	for i := 0; i < 1000; i++ {
		state = splitmixNext(state)
		require.False(t, seen[state], "state repeated after %d steps", i)
		seen[state] = true
	}
}
