package hypervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApiErrorMessage(t *testing.T) {
	err := &ApiError{Method: "PUT", Path: "/snapshot/create", Status: 400, Body: "bad request"}
	require.Contains(t, err.Error(), "PUT")
	require.Contains(t, err.Error(), "/snapshot/create")
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "bad request")
}

func TestVmConfigJSON(t *testing.T) {
	vm := VmConfig{
		KernelPath: "/vmlinux",
		RootfsPath: "/rootfs.ext4",
		TapName:    "tap-abc",
		GuestMAC:   "AA:FC:00:00:00:01",
		GuestCID:   3,
		VsockPath:  "/vsock.sock",
		VcpuCount:  2,
		MemSizeMib: 4096,
	}
	body, err := vm.json()
	require.NoError(t, err)
	require.Contains(t, string(body), `"kernel_image_path": "/vmlinux"`)
	require.Contains(t, string(body), `"vcpu_count": 2`)
}

func TestJailerCommandArgsIncludesUidGidAndTrailingFlags(t *testing.T) {
	j := NewJailerLauncher(JailerConfig{
		ChrootBaseDir: "/srv/jail",
		NewPidNS:      true,
		SeccompFilter: "/etc/seccomp.bpf",
	})
	args := j.CommandArgs("sb_test", "/usr/bin/firecracker", 2, 4096)

	require.Contains(t, args, "--uid")
	require.Contains(t, args, "10000")
	require.Contains(t, args, "--new-pid-ns")
	require.Contains(t, args, "--seccomp-filter")
	require.Equal(t, "--", args[len(args)-5])
	require.Equal(t, []string{"--api-sock", "/run/firecracker.socket", "--config-file", "/config.json"}, args[len(args)-4:])
}

func TestJailerChrootRoot(t *testing.T) {
	j := NewJailerLauncher(JailerConfig{ChrootBaseDir: "/srv/jail"})
	root := j.ChrootRoot("sb_abc")
	require.Equal(t, "/srv/jail/firecracker/sb_abc/root", root)
}
