package hypervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
)

// JailerConfig carries the operator-supplied jailer knobs (the
// JAILER_* environment variables).
type JailerConfig struct {
	Binary         string
	ChrootBaseDir  string
	UID            int // default 10000
	GID            int // default 10000
	CgroupVersion  int // 1 or 2
	SeccompFilter  string
	NewPidNS       bool
}

func (j JailerConfig) uid() int {
	if j.UID == 0 {
		return 10000
	}
	return j.UID
}

func (j JailerConfig) gid() int {
	if j.GID == 0 {
		return 10000
	}
	return j.GID
}

// VmConfig is the hypervisor's own JSON machine configuration, written
// either to the sandbox directory (direct launch) or into the chroot
// (jailed launch, with chroot-relative paths).
type VmConfig struct {
	KernelPath  string
	BootArgs    string
	RootfsPath  string
	TapName     string
	GuestMAC    string
	GuestCID    uint32
	VsockPath   string
	VcpuCount   int
	MemSizeMib  int
}

func (c VmConfig) json() ([]byte, error) {
	doc := map[string]interface{}{
		"boot-source": map[string]string{
			"kernel_image_path": c.KernelPath,
			"boot_args":         c.BootArgs,
		},
		"drives": []map[string]interface{}{{
			"drive_id":       "rootfs",
			"path_on_host":   c.RootfsPath,
			"is_root_device": true,
			"is_read_only":   false,
		}},
		"network-interfaces": []map[string]string{{
			"iface_id":      "eth0",
			"guest_mac":     c.GuestMAC,
			"host_dev_name": c.TapName,
		}},
		"vsock": map[string]interface{}{
			"guest_cid": c.GuestCID,
			"uds_path":  c.VsockPath,
		},
		"machine-config": map[string]interface{}{
			"vcpu_count":   c.VcpuCount,
			"mem_size_mib": c.MemSizeMib,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// JailerLauncher prepares a chroot for one sandbox and constructs the
// jailer command line.
type JailerLauncher struct {
	cfg JailerConfig
}

func NewJailerLauncher(cfg JailerConfig) *JailerLauncher {
	return &JailerLauncher{cfg: cfg}
}

// ChrootRoot returns the chroot path for a sandbox:
// <base>/firecracker/<sandbox_id>/root.
func (j *JailerLauncher) ChrootRoot(sandboxID string) string {
	return filepath.Join(j.cfg.ChrootBaseDir, "firecracker", sandboxID, "root")
}

// Prepare hard-links the kernel and rootfs into the chroot (falling
// back to a copy across devices), writes the chroot-relative JSON
// config, and returns the chroot root and the config's path within it.
func (j *JailerLauncher) Prepare(sandboxID, kernelPath, rootfsPath string, vm VmConfig) (chrootRoot, configPath string, err error) {
	chrootRoot = j.ChrootRoot(sandboxID)
	if err = os.MkdirAll(chrootRoot, 0o755); err != nil {
		return "", "", sandchesterr.WrapInternal(err, "jailer: mkdir chroot %s", chrootRoot)
	}

	if err = linkOrCopy(kernelPath, filepath.Join(chrootRoot, "vmlinux")); err != nil {
		return "", "", sandchesterr.WrapInternal(err, "jailer: link kernel")
	}
	if err = linkOrCopy(rootfsPath, filepath.Join(chrootRoot, "rootfs.ext4")); err != nil {
		return "", "", sandchesterr.WrapInternal(err, "jailer: link rootfs")
	}

	chrootVM := vm
	chrootVM.KernelPath = "/vmlinux"
	chrootVM.RootfsPath = "/rootfs.ext4"
	chrootVM.VsockPath = "/vsock.sock"

	body, err := chrootVM.json()
	if err != nil {
		return "", "", sandchesterr.WrapInternal(err, "jailer: marshal config")
	}
	configPath = filepath.Join(chrootRoot, "config.json")
	if err = os.WriteFile(configPath, body, 0o644); err != nil {
		return "", "", sandchesterr.WrapInternal(err, "jailer: write config")
	}
	return chrootRoot, configPath, nil
}

// CommandArgs builds the jailer's argv (excluding argv[0]): id,
// exec-file, uid/gid, chroot-base-dir, cgroup version, CPU quota,
// memory max, optional new-pid-ns, optional seccomp filter, "--", and
// the hypervisor's own flags.
func (j *JailerLauncher) CommandArgs(sandboxID, execFile string, vcpu, memMib int) []string {
	args := []string{
		"--id", sandboxID,
		"--exec-file", execFile,
		"--uid", itoa(j.cfg.uid()),
		"--gid", itoa(j.cfg.gid()),
		"--chroot-base-dir", j.cfg.ChrootBaseDir,
	}
	if j.cfg.CgroupVersion != 0 {
		args = append(args, "--cgroup-version", itoa(j.cfg.CgroupVersion))
	}
	quota := vcpu * 100000 / 100000
	args = append(args,
		"--cgroup", fmt.Sprintf("cpu.cfs_quota_us=%d", quota),
		"--cgroup", fmt.Sprintf("memory.max=%dM", memMib+256),
	)
	if j.cfg.NewPidNS {
		args = append(args, "--new-pid-ns")
	}
	if j.cfg.SeccompFilter != "" {
		args = append(args, "--seccomp-filter", j.cfg.SeccompFilter)
	}
	args = append(args, "--", "--api-sock", "/run/firecracker.socket", "--config-file", "/config.json")
	return args
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}
