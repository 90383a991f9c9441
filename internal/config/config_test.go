package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 50051, cfg.GRPCPort)
	require.Equal(t, "/var/sandchest", cfg.DataDir)
	require.Equal(t, "/var/sandchest/images/vmlinux", cfg.KernelPath)
	require.Equal(t, 10000, cfg.Jailer.UID)
	require.Equal(t, 10000, cfg.Jailer.GID)
	require.Equal(t, 2, cfg.Jailer.CgroupVersion)
	require.False(t, cfg.Jailer.Enabled)
	require.Equal(t, "eth0", cfg.OutboundIface)
	require.Equal(t, 100, cfg.BandwidthMbps)
	require.Equal(t, 52, cfg.AgentVsockPort)
	require.Equal(t, 50052, cfg.AgentDevPort)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "node-7")
	t.Setenv("GRPC_PORT", "6000")
	t.Setenv("DATA_DIR", "/srv/sandchest")
	t.Setenv("JAILER_ENABLED", "true")
	t.Setenv("JAILER_CGROUP_VERSION", "1")
	t.Setenv("AGENT_DEV", "1")
	t.Setenv("OUTBOUND_IFACE", "ens5")
	t.Setenv("BANDWIDTH_MBPS", "250")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "node-7", cfg.NodeID)
	require.Equal(t, 6000, cfg.GRPCPort)
	require.Equal(t, "/srv/sandchest", cfg.DataDir)
	require.Equal(t, "/srv/sandchest/sandboxes", cfg.SandboxesDir())
	require.Equal(t, "/srv/sandchest/snapshots", cfg.SnapshotsDir())
	require.Equal(t, "/srv/sandchest/images", cfg.ImagesDir())
	require.True(t, cfg.Jailer.Enabled)
	require.Equal(t, 1, cfg.Jailer.CgroupVersion)
	require.True(t, cfg.AgentDev)
	require.Equal(t, "ens5", cfg.OutboundIface)
	require.Equal(t, 250, cfg.BandwidthMbps)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("GRPC_PORT", "not-a-port")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 50051, cfg.GRPCPort)
}
