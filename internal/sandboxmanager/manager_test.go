package sandboxmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensandbox/sandchest/internal/config"
	"github.com/opensandbox/sandchest/pkg/types"
	pb "github.com/opensandbox/sandchest/proto/node"
)

func testManager(t *testing.T, events EventSink) *Manager {
	t.Helper()
	cfg := &config.Config{
		NodeID:        "node-test",
		DataDir:       t.TempDir(),
		KernelPath:    "/nonexistent/vmlinux",
		OutboundIface: "eth0",
		BandwidthMbps: 100,
	}
	return New(cfg, events)
}

type recordingSink struct {
	events []*pb.NodeToControl
}

func (r *recordingSink) Send(e *pb.NodeToControl) { r.events = append(r.events, e) }

func TestDestroyUnknownSandboxIsIdempotent(t *testing.T) {
	m := testManager(t, nil)
	require.NoError(t, m.DestroySandbox("sb_doesnotexist"))
	require.NoError(t, m.DestroySandbox("sb_doesnotexist"))
}

func TestStatusAndGet(t *testing.T) {
	m := testManager(t, nil)

	_, ok := m.Status("sb_missing")
	require.False(t, ok)

	slot := 3
	require.NoError(t, m.insertProvisioning(&types.Sandbox{
		ID:          "sb_x",
		Status:      types.SandboxStatusProvisioning,
		NetworkSlot: &slot,
	}))

	status, ok := m.Status("sb_x")
	require.True(t, ok)
	require.Equal(t, types.SandboxStatusProvisioning, status)

	m.markRunning("sb_x", 1234)
	sb, ok := m.Get("sb_x")
	require.True(t, ok)
	require.Equal(t, types.SandboxStatusRunning, sb.Status)
	require.EqualValues(t, 1234, sb.BootDurationMs)
	require.Equal(t, []string{"sb_x"}, m.RunningSandboxIDs())
}

func TestInsertProvisioningRejectsDuplicate(t *testing.T) {
	m := testManager(t, nil)
	require.NoError(t, m.insertProvisioning(&types.Sandbox{ID: "sb_dup"}))
	require.Error(t, m.insertProvisioning(&types.Sandbox{ID: "sb_dup"}))
}

func TestFailSandboxEmitsFailedEvent(t *testing.T) {
	sink := &recordingSink{}
	m := testManager(t, sink)
	require.NoError(t, m.insertProvisioning(&types.Sandbox{ID: "sb_f"}))

	m.failSandbox("sb_f", "create", "network setup")
	require.Len(t, sink.events, 1)
	require.Equal(t, pb.NodeToControlSandboxEvent, sink.events[0].Kind)
	require.Equal(t, pb.SandboxEventFailed, sink.events[0].SandboxEvent.Kind)
	require.Equal(t, "network setup", sink.events[0].SandboxEvent.Reason)

	status, _ := m.Status("sb_f")
	require.Equal(t, types.SandboxStatusFailed, status)
}

func TestForkRequiresRunningParent(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.ForkSandbox(t.Context(), &pb.ForkSandboxRequest{ParentSandboxID: "sb_none", ChildSandboxID: "sb_child"})
	require.Error(t, err)

	require.NoError(t, m.insertProvisioning(&types.Sandbox{ID: "sb_p", Status: types.SandboxStatusProvisioning}))
	_, err = m.ForkSandbox(t.Context(), &pb.ForkSandboxRequest{ParentSandboxID: "sb_p", ChildSandboxID: "sb_child"})
	require.Error(t, err)
}

func TestLoadSnapshotMeta(t *testing.T) {
	dir := t.TempDir()

	meta := loadSnapshotMeta(dir)
	require.Equal(t, 2, meta.CpuCores)
	require.Equal(t, 4096, meta.MemoryMB)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{"cpuCores":4,"memoryMb":8192}`), 0o644))
	meta = loadSnapshotMeta(dir)
	require.Equal(t, 4, meta.CpuCores)
	require.Equal(t, 8192, meta.MemoryMB)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{"cpuCores":0}`), 0o644))
	meta = loadSnapshotMeta(dir)
	require.Equal(t, 2, meta.CpuCores)
}

func TestStageSnapshotFilesNoChroot(t *testing.T) {
	snap, mem, err := stageSnapshotFiles("", "/a/snapshot_file", "/a/mem_file")
	require.NoError(t, err)
	require.Equal(t, "/a/snapshot_file", snap)
	require.Equal(t, "/a/mem_file", mem)
}

func TestStageSnapshotFilesIntoChroot(t *testing.T) {
	src := t.TempDir()
	chroot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "snapshot_file"), []byte("snap"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "mem_file"), []byte("mem"), 0o644))

	snap, mem, err := stageSnapshotFiles(chroot, filepath.Join(src, "snapshot_file"), filepath.Join(src, "mem_file"))
	require.NoError(t, err)
	require.Equal(t, "/snapshot_file", snap)
	require.Equal(t, "/mem_file", mem)

	data, err := os.ReadFile(filepath.Join(chroot, "snapshot_file"))
	require.NoError(t, err)
	require.Equal(t, "snap", string(data))
}

func TestForkReasonFormatting(t *testing.T) {
	require.Equal(t, "parent_downtime_ms=87 total_boot_ms=1450", forkReason(87, 1450))
	require.Equal(t, "parent_downtime_ms=0 total_boot_ms=0", forkReason(0, 0))
}
