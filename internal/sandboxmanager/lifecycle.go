package sandboxmanager

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/opensandbox/sandchest/internal/diskcloner"
	"github.com/opensandbox/sandchest/internal/hypervisor"
	"github.com/opensandbox/sandchest/internal/metrics"
	"github.com/opensandbox/sandchest/internal/network"
	"github.com/opensandbox/sandchest/internal/sandchesterr"
	"github.com/opensandbox/sandchest/pkg/types"
	pb "github.com/opensandbox/sandchest/proto/node"
)

// CreateSandbox performs a cold boot: allocate a slot, plumb
// networking, reflink-clone the base rootfs, spawn the hypervisor, and
// health-poll the guest agent. Any failure rolls back every side
// effect acquired so far in reverse order.
func (m *Manager) CreateSandbox(ctx context.Context, req *pb.CreateSandboxRequest) (*types.Sandbox, error) {
	profile := types.ProfileFor(req.CpuCores, req.MemoryMB)

	slot, err := m.slots.Allocate()
	if err != nil {
		return nil, err
	}

	sb := &types.Sandbox{
		ID:          req.SandboxID,
		Status:      types.SandboxStatusProvisioning,
		Profile:     profile,
		CpuCores:    req.CpuCores,
		MemoryMB:    req.MemoryMB,
		Env:         req.Env,
		CreatedAt:   time.Now(),
		NetworkSlot: &slot,
	}
	if err := m.insertProvisioning(sb); err != nil {
		m.slots.Release(slot)
		return nil, err
	}
	m.emitSandboxEvent(sb.ID, pb.SandboxEventCreated, "")

	start := time.Now()
	netSlot := types.NetworkSlot{Slot: slot}

	fail := func(reason string, cause error) error {
		m.failSandbox(sb.ID, "create", reason)
		m.removeSandboxEntry(sb.ID)
		m.slots.Release(slot)
		return sandchesterr.WrapInternal(cause, "sandboxmanager: create %s: %s", sb.ID, reason)
	}

	if err := m.netPlumber.Setup(sb.ID, netSlot); err != nil {
		return nil, fail("network setup", err)
	}

	sandboxDir := m.sandboxDir(sb.ID)
	baseImage, err := diskcloner.ResolveBaseImage(m.cfg.ImagesDir(), req.RootfsRef)
	if err != nil {
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("resolve base image", err)
	}
	rootfsPath, err := diskcloner.CloneDisk(baseImage, sandboxDir)
	if err != nil {
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("clone rootfs", err)
	}

	tap := network.TapName(sb.ID)
	vm := hypervisor.VmConfig{
		KernelPath: m.cfg.KernelPath,
		BootArgs:   defaultBootArgs,
		RootfsPath: rootfsPath,
		TapName:    tap,
		GuestMAC:   netSlot.MAC(),
		GuestCID:   guestCID,
		VsockPath:  filepath.Join(sandboxDir, "vsock.sock"),
		VcpuCount:  req.CpuCores,
		MemSizeMib: req.MemoryMB,
	}

	proc, hvClient, vsockPath, chrootRoot, err := m.spawnHypervisor(sb.ID, sandboxDir, vm, true)
	if err != nil {
		diskcloner.CleanupDisk(sandboxDir)
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("spawn hypervisor", err)
	}

	if err := hvClient.WaitForReady(apiReadyTimeout); err != nil {
		proc.Kill()
		diskcloner.CleanupDisk(sandboxDir)
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("hypervisor not ready", err)
	}

	agentClient, err := m.connectAndWaitHealthy(ctx, vsockPath)
	if err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("guest agent health check", err)
	}

	handle := types.VmHandle{
		SandboxID:   sb.ID,
		Pid:         proc.Pid(),
		ApiSockPath: proc.ApiSockPath(),
		VsockPath:   vsockPath,
		DataDir:     sandboxDir,
		ChrootRoot:  chrootRoot,
		TapName:     tap,
	}
	m.putVM(sb.ID, &vmEntry{proc: proc, client: hvClient, handle: handle})
	if m.router != nil {
		m.router.Put(sb.ID, agentClient)
	}

	bootMs := time.Since(start).Milliseconds()
	m.markRunning(sb.ID, bootMs)
	m.emitSandboxEvent(sb.ID, pb.SandboxEventReady, "")
	metrics.SandboxLifecycleTotal.WithLabelValues("create", "ok").Inc()
	metrics.BootDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())
	metrics.SlotsUsed.Set(float64(m.slots.ActiveCount()))
	metrics.SandboxesRunning.WithLabelValues(string(profile)).Inc()

	out, _ := m.Get(sb.ID)
	return &out, nil
}

// CreateSandboxFromSnapshot performs a warm start: the network is set
// up exactly as in cold boot, but the disk is cloned from a snapshot
// directory, the hypervisor is spawned without a machine config, and
// restore_snapshot + resume happen before health polling.
func (m *Manager) CreateSandboxFromSnapshot(ctx context.Context, req *pb.CreateSandboxFromSnapshotRequest) (*types.Sandbox, error) {
	snapshotDir := filepath.Join(m.cfg.SnapshotsDir(), req.SnapshotRef)
	meta := loadSnapshotMeta(snapshotDir)
	profile := types.ProfileFor(meta.CpuCores, meta.MemoryMB)

	slot, err := m.slots.Allocate()
	if err != nil {
		return nil, err
	}

	sb := &types.Sandbox{
		ID:          req.SandboxID,
		Status:      types.SandboxStatusProvisioning,
		Profile:     profile,
		CpuCores:    meta.CpuCores,
		MemoryMB:    meta.MemoryMB,
		Env:         req.Env,
		CreatedAt:   time.Now(),
		NetworkSlot: &slot,
	}
	if err := m.insertProvisioning(sb); err != nil {
		m.slots.Release(slot)
		return nil, err
	}
	m.emitSandboxEvent(sb.ID, pb.SandboxEventCreated, "")

	start := time.Now()
	netSlot := types.NetworkSlot{Slot: slot}

	fail := func(reason string, cause error) error {
		m.failSandbox(sb.ID, "create_from_snapshot", reason)
		m.removeSandboxEntry(sb.ID)
		m.slots.Release(slot)
		return sandchesterr.WrapInternal(cause, "sandboxmanager: create_from_snapshot %s: %s", sb.ID, reason)
	}

	if err := m.netPlumber.Setup(sb.ID, netSlot); err != nil {
		return nil, fail("network setup", err)
	}

	sandboxDir := m.sandboxDir(sb.ID)
	snapshotRootfs := filepath.Join(snapshotDir, diskcloner.RootfsFilename)
	rootfsPath, err := diskcloner.CloneDisk(snapshotRootfs, sandboxDir)
	if err != nil {
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("clone snapshot rootfs", err)
	}

	tap := network.TapName(sb.ID)
	vm := hypervisor.VmConfig{
		KernelPath: m.cfg.KernelPath,
		BootArgs:   defaultBootArgs,
		RootfsPath: rootfsPath,
		TapName:    tap,
		GuestMAC:   netSlot.MAC(),
		GuestCID:   guestCID,
		VsockPath:  filepath.Join(sandboxDir, "vsock.sock"),
		VcpuCount:  meta.CpuCores,
		MemSizeMib: meta.MemoryMB,
	}

	proc, hvClient, vsockPath, chrootRoot, err := m.spawnHypervisor(sb.ID, sandboxDir, vm, false)
	if err != nil {
		diskcloner.CleanupDisk(sandboxDir)
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("spawn hypervisor", err)
	}

	if err := hvClient.WaitForReady(apiReadyTimeout); err != nil {
		proc.Kill()
		diskcloner.CleanupDisk(sandboxDir)
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("hypervisor not ready", err)
	}

	restoreSnapshot, restoreMem, err := stageSnapshotFiles(chrootRoot,
		filepath.Join(snapshotDir, "snapshot_file"), filepath.Join(snapshotDir, "mem_file"))
	if err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("stage snapshot files", err)
	}
	if err := hvClient.RestoreSnapshot(restoreSnapshot, restoreMem); err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("restore snapshot", err)
	}
	if err := hvClient.Resume(); err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("resume", err)
	}

	agentClient, err := m.connectAndWaitHealthy(ctx, vsockPath)
	if err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(sb.ID, netSlot)
		return nil, fail("guest agent health check", err)
	}

	handle := types.VmHandle{
		SandboxID:   sb.ID,
		Pid:         proc.Pid(),
		ApiSockPath: proc.ApiSockPath(),
		VsockPath:   vsockPath,
		DataDir:     sandboxDir,
		ChrootRoot:  chrootRoot,
		TapName:     tap,
	}
	m.putVM(sb.ID, &vmEntry{proc: proc, client: hvClient, handle: handle})
	if m.router != nil {
		m.router.Put(sb.ID, agentClient)
	}

	bootMs := time.Since(start).Milliseconds()
	m.markRunning(sb.ID, bootMs)
	m.emitSandboxEvent(sb.ID, pb.SandboxEventReady, "")
	metrics.SandboxLifecycleTotal.WithLabelValues("create_from_snapshot", "ok").Inc()
	metrics.BootDuration.WithLabelValues("create_from_snapshot").Observe(time.Since(start).Seconds())
	metrics.SlotsUsed.Set(float64(m.slots.ActiveCount()))
	metrics.SandboxesRunning.WithLabelValues(string(profile)).Inc()

	out, _ := m.Get(sb.ID)
	return &out, nil
}

// ForkSandbox performs a live fork of a Running source sandbox: pause
// → snapshot → clone disk → resume parent → boot child from the
// snapshot. Parent downtime is measured from pause to resume and is
// budgeted at roughly 300ms.
func (m *Manager) ForkSandbox(ctx context.Context, req *pb.ForkSandboxRequest) (*types.Sandbox, error) {
	parentID, childID := req.ParentSandboxID, req.ChildSandboxID

	parentStatus, ok := m.Status(parentID)
	if !ok {
		return nil, sandchesterr.NotFoundf("sandboxmanager: fork: parent %s not found", parentID)
	}
	if parentStatus != types.SandboxStatusRunning {
		return nil, sandchesterr.FailedPreconditionf("sandboxmanager: fork: parent %s is %s, not running", parentID, parentStatus)
	}
	parentVM, ok := m.getVM(parentID)
	if !ok {
		return nil, sandchesterr.FailedPreconditionf("sandboxmanager: fork: parent %s has no vm handle", parentID)
	}
	parentSB, _ := m.Get(parentID)

	slot, err := m.slots.Allocate()
	if err != nil {
		return nil, err
	}

	child := &types.Sandbox{
		ID:              childID,
		Status:          types.SandboxStatusProvisioning,
		Profile:         parentSB.Profile,
		CpuCores:        parentSB.CpuCores,
		MemoryMB:        parentSB.MemoryMB,
		Env:             parentSB.Env,
		CreatedAt:       time.Now(),
		NetworkSlot:     &slot,
		ParentSandboxID: parentID,
	}
	if err := m.insertProvisioning(child); err != nil {
		m.slots.Release(slot)
		return nil, err
	}
	m.emitSandboxEvent(childID, pb.SandboxEventCreated, "")

	childNetSlot := types.NetworkSlot{Slot: slot}

	fail := func(reason string, cause error) error {
		m.failSandbox(childID, "fork", reason)
		m.removeSandboxEntry(childID)
		m.slots.Release(slot)
		return sandchesterr.WrapInternal(cause, "sandboxmanager: fork %s->%s: %s", parentID, childID, reason)
	}

	if err := m.netPlumber.Setup(childID, childNetSlot); err != nil {
		return nil, fail("network setup", err)
	}

	childDir := m.sandboxDir(childID)
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("mkdir child dir", err)
	}

	pauseStart := time.Now()
	if err := parentVM.client.Pause(); err != nil {
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("pause parent", err)
	}

	snapshotPath := filepath.Join(childDir, "snapshot_file")
	memPath := filepath.Join(childDir, "mem_file")
	snapErr := parentVM.client.TakeSnapshot(snapshotPath, memPath)

	var rootfsPath string
	var cloneErr error
	if snapErr == nil {
		rootfsPath, cloneErr = diskcloner.CloneDisk(
			filepath.Join(parentVM.handle.DataDir, diskcloner.RootfsFilename), childDir)
	}

	// Resume the parent unconditionally: its downtime must end here
	// regardless of how snapshot/clone went, and a failed child must
	// not disturb the now-resumed parent.
	resumeErr := parentVM.client.Resume()
	downtime := time.Since(pauseStart)
	if resumeErr != nil {
		logf("fork %s->%s: resume parent failed: %v", parentID, childID, resumeErr)
	}

	if snapErr != nil {
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("take snapshot", snapErr)
	}
	if cloneErr != nil {
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("clone parent rootfs", cloneErr)
	}

	tap := network.TapName(childID)
	vm := hypervisor.VmConfig{
		KernelPath: m.cfg.KernelPath,
		BootArgs:   defaultBootArgs,
		RootfsPath: rootfsPath,
		TapName:    tap,
		GuestMAC:   childNetSlot.MAC(),
		GuestCID:   guestCID,
		VsockPath:  filepath.Join(childDir, "vsock.sock"),
		VcpuCount:  child.CpuCores,
		MemSizeMib: child.MemoryMB,
	}

	proc, hvClient, vsockPath, chrootRoot, err := m.spawnHypervisor(childID, childDir, vm, false)
	if err != nil {
		diskcloner.CleanupDisk(childDir)
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("spawn child hypervisor", err)
	}

	if err := hvClient.WaitForReady(apiReadyTimeout); err != nil {
		proc.Kill()
		diskcloner.CleanupDisk(childDir)
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("hypervisor not ready", err)
	}

	restoreSnapshot, restoreMem, err := stageSnapshotFiles(chrootRoot, snapshotPath, memPath)
	if err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("stage snapshot files", err)
	}
	if err := hvClient.RestoreSnapshot(restoreSnapshot, restoreMem); err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("restore snapshot", err)
	}
	if err := hvClient.Resume(); err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("resume child", err)
	}

	agentClient, err := m.connectAndWaitHealthy(ctx, vsockPath)
	if err != nil {
		proc.Destroy()
		m.netPlumber.Teardown(childID, childNetSlot)
		return nil, fail("guest agent health check", err)
	}

	handle := types.VmHandle{
		SandboxID:   childID,
		Pid:         proc.Pid(),
		ApiSockPath: proc.ApiSockPath(),
		VsockPath:   vsockPath,
		DataDir:     childDir,
		ChrootRoot:  chrootRoot,
		TapName:     tap,
	}
	m.putVM(childID, &vmEntry{proc: proc, client: hvClient, handle: handle})
	if m.router != nil {
		m.router.Put(childID, agentClient)
	}

	totalBootMs := time.Since(pauseStart).Milliseconds()
	m.setParentDowntime(childID, downtime.Milliseconds())
	m.markRunning(childID, totalBootMs)
	m.emitForkedEvent(childID, downtime.Milliseconds(), totalBootMs)
	metrics.SandboxLifecycleTotal.WithLabelValues("fork", "ok").Inc()
	metrics.BootDuration.WithLabelValues("fork").Observe(time.Duration(totalBootMs * int64(time.Millisecond)).Seconds())
	metrics.ForkParentDowntime.Observe(downtime.Seconds())
	metrics.SlotsUsed.Set(float64(m.slots.ActiveCount()))
	metrics.SandboxesRunning.WithLabelValues(string(child.Profile)).Inc()

	out, _ := m.Get(childID)
	return &out, nil
}

func (m *Manager) emitForkedEvent(childID string, parentDowntimeMs, totalBootMs int64) {
	if m.events == nil {
		return
	}
	m.events.Send(&pb.NodeToControl{
		Kind: pb.NodeToControlSandboxEvent,
		SandboxEvent: &pb.SandboxEventPayload{
			SandboxID: childID,
			Kind:      pb.SandboxEventForked,
			Reason:    forkReason(parentDowntimeMs, totalBootMs),
		},
	})
}

func forkReason(parentDowntimeMs, totalBootMs int64) string {
	return "parent_downtime_ms=" + itoa64(parentDowntimeMs) + " total_boot_ms=" + itoa64(totalBootMs)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DestroySandbox tears down a sandbox's VM, network, and slot, then
// removes its record. Idempotent for unknown ids.
func (m *Manager) DestroySandbox(sandboxID string) error {
	sb, ok := m.Get(sandboxID)
	if !ok {
		return nil
	}

	m.setStatus(sandboxID, types.SandboxStatusStopping)

	if vm, ok := m.popVM(sandboxID); ok {
		if err := vm.proc.Destroy(); err != nil {
			logf("destroy %s: hypervisor teardown: %v", sandboxID, err)
		}
	}
	if m.router != nil {
		m.router.RemoveClient(sandboxID)
	}

	if sb.NetworkSlot != nil {
		m.netPlumber.Teardown(sandboxID, types.NetworkSlot{Slot: *sb.NetworkSlot})
		m.slots.Release(*sb.NetworkSlot)
	}

	m.setStatus(sandboxID, types.SandboxStatusStopped)
	m.removeSandboxEntry(sandboxID)
	m.emitSandboxEvent(sandboxID, pb.SandboxEventStopped, "")
	metrics.SandboxLifecycleTotal.WithLabelValues("destroy", "ok").Inc()
	metrics.SlotsUsed.Set(float64(m.slots.ActiveCount()))
	if sb.Status == types.SandboxStatusRunning {
		metrics.SandboxesRunning.WithLabelValues(string(sb.Profile)).Dec()
	}
	return nil
}

// StopSandbox is the softer-named lifecycle op. There is only one
// terminal sequence (Stopping, Stopped, removed), so Stop and Destroy
// share the same implementation.
func (m *Manager) StopSandbox(sandboxID string) error {
	return m.DestroySandbox(sandboxID)
}
