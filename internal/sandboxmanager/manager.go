// Package sandboxmanager is the Node's central state machine: it
// orchestrates cold boot, snapshot-based warm start, live fork, and
// destroy for every sandbox on the host, and owns the two maps that
// record their existence (the sandbox records and the live VM
// handles). The maps carry separate locks so readers listing sandboxes
// never block behind a VM destroy.
package sandboxmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opensandbox/sandchest/internal/agentclient"
	"github.com/opensandbox/sandchest/internal/config"
	"github.com/opensandbox/sandchest/internal/hypervisor"
	"github.com/opensandbox/sandchest/internal/metrics"
	"github.com/opensandbox/sandchest/internal/network"
	"github.com/opensandbox/sandchest/internal/sandchesterr"
	"github.com/opensandbox/sandchest/internal/slotmanager"
	"github.com/opensandbox/sandchest/pkg/types"
	pb "github.com/opensandbox/sandchest/proto/node"
)

const (
	hypervisorBinary = "firecracker"
	// guestCID is fixed because every sandbox gets its own UDS rather
	// than sharing one host AF_VSOCK namespace; 0-2 are reserved by
	// convention (hypervisor/local/host), 3 is the first usable guest
	// CID and every sandbox can reuse it.
	guestCID        = 3
	defaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off"

	apiReadyTimeout = 5 * time.Second
	healthTimeout   = 10 * time.Second
)

// EventSink is the outbound surface sandboxmanager needs from
// internal/eventchannel, kept as an interface so this package doesn't
// import it directly.
type EventSink interface {
	Send(*pb.NodeToControl)
}

// vmEntry is the live-process side of a Running (or mid-transition)
// sandbox.
type vmEntry struct {
	proc   *hypervisor.Process
	client *hypervisor.Client
	handle types.VmHandle
}

// Manager is the Node's sandbox lifecycle state machine.
type Manager struct {
	cfg        *config.Config
	slots      *slotmanager.Manager
	netPlumber *network.Plumber
	jailer     *hypervisor.JailerLauncher // nil when JAILER_ENABLED=false
	events     EventSink
	router     *agentclient.Router // set via SetRouter once both are constructed

	mu        sync.RWMutex
	sandboxes map[string]*types.Sandbox

	vmMu sync.RWMutex
	vms  map[string]*vmEntry
}

// New constructs a Manager. SetRouter must be called before the first
// CreateSandbox/ForkSandbox call, since both cache the dialed agent
// client in the router.
func New(cfg *config.Config, events EventSink) *Manager {
	var jailer *hypervisor.JailerLauncher
	if cfg.Jailer.Enabled {
		jailer = hypervisor.NewJailerLauncher(hypervisor.JailerConfig{
			Binary:        cfg.Jailer.Binary,
			ChrootBaseDir: cfg.Jailer.ChrootBaseDir,
			UID:           cfg.Jailer.UID,
			GID:           cfg.Jailer.GID,
			CgroupVersion: cfg.Jailer.CgroupVersion,
			SeccompFilter: cfg.Jailer.SeccompFilter,
			NewPidNS:      cfg.Jailer.NewPidNS,
		})
	}
	return &Manager{
		cfg:        cfg,
		slots:      slotmanager.New(),
		netPlumber: network.New(network.Config{OutboundIface: cfg.OutboundIface, BandwidthMbps: cfg.BandwidthMbps}),
		jailer:     jailer,
		events:     events,
		sandboxes:  make(map[string]*types.Sandbox),
		vms:        make(map[string]*vmEntry),
	}
}

// SetRouter wires the agent-client router this manager populates on
// every successful create/fork and evicts from on every destroy.
func (m *Manager) SetRouter(r *agentclient.Router) { m.router = r }

// Status implements the lookup agentclient.Router needs to enforce
// Running-before-GetAgent.
func (m *Manager) Status(sandboxID string) (types.SandboxStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return "", false
	}
	return sb.Status, true
}

// Get returns a copy of a sandbox's current record.
func (m *Manager) Get(sandboxID string) (types.Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return types.Sandbox{}, false
	}
	return *sb, true
}

// RunningSandboxIDs lists every sandbox currently Running, for the
// heartbeat payload.
func (m *Manager) RunningSandboxIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sandboxes))
	for id, sb := range m.sandboxes {
		if sb.Status == types.SandboxStatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// SlotsUsed reports the number of network slots currently held.
func (m *Manager) SlotsUsed() int { return m.slots.ActiveCount() }

func (m *Manager) sandboxDir(sandboxID string) string {
	return filepath.Join(m.cfg.SandboxesDir(), sandboxID)
}

func (m *Manager) hypervisorBinary() string { return hypervisorBinary }

func (m *Manager) insertProvisioning(sb *types.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sandboxes[sb.ID]; exists {
		return sandchesterr.AlreadyExistsf("sandboxmanager: sandbox %s already exists", sb.ID)
	}
	m.sandboxes[sb.ID] = sb
	return nil
}

func (m *Manager) setStatus(sandboxID string, status types.SandboxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.sandboxes[sandboxID]; ok {
		sb.Status = status
	}
}

func (m *Manager) markRunning(sandboxID string, bootMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.sandboxes[sandboxID]; ok {
		sb.Status = types.SandboxStatusRunning
		sb.BootDurationMs = bootMs
	}
}

func (m *Manager) setParentDowntime(sandboxID string, downtimeMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.sandboxes[sandboxID]; ok {
		sb.ParentDowntimeMs = downtimeMs
	}
}

func (m *Manager) removeSandboxEntry(sandboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, sandboxID)
}

func (m *Manager) putVM(sandboxID string, e *vmEntry) {
	m.vmMu.Lock()
	defer m.vmMu.Unlock()
	m.vms[sandboxID] = e
}

func (m *Manager) getVM(sandboxID string) (*vmEntry, bool) {
	m.vmMu.RLock()
	defer m.vmMu.RUnlock()
	e, ok := m.vms[sandboxID]
	return e, ok
}

func (m *Manager) popVM(sandboxID string) (*vmEntry, bool) {
	m.vmMu.Lock()
	defer m.vmMu.Unlock()
	e, ok := m.vms[sandboxID]
	if ok {
		delete(m.vms, sandboxID)
	}
	return e, ok
}

// failSandbox marks a sandbox Failed and emits the event; it does not
// touch the slot or VM maps: each call site's fail closure removes the
// entry and releases the slot right after calling it.
func (m *Manager) failSandbox(sandboxID, op, reason string) {
	m.setStatus(sandboxID, types.SandboxStatusFailed)
	m.emitSandboxEvent(sandboxID, pb.SandboxEventFailed, reason)
	metrics.SandboxLifecycleTotal.WithLabelValues(op, "failed").Inc()
}

func (m *Manager) emitSandboxEvent(sandboxID string, kind pb.SandboxEventKind, reason string) {
	if m.events == nil {
		return
	}
	m.events.Send(&pb.NodeToControl{
		Kind: pb.NodeToControlSandboxEvent,
		SandboxEvent: &pb.SandboxEventPayload{
			SandboxID: sandboxID,
			Kind:      kind,
			Reason:    reason,
		},
	})
}

// connectAndWaitHealthy dials the guest agent and waits for its first
// healthy response. AGENT_DEV forces a direct TCP dial to the dev
// guest-agent port instead of the per-sandbox vsock UDS.
func (m *Manager) connectAndWaitHealthy(ctx context.Context, vsockPath string) (*agentclient.Client, error) {
	var client *agentclient.Client
	var err error
	if m.cfg.AgentDev {
		client, err = agentclient.Connect(ctx, "", fmt.Sprintf("127.0.0.1:%d", m.cfg.AgentDevPort))
	} else {
		client, err = agentclient.Connect(ctx, vsockPath, "")
	}
	if err != nil {
		return nil, err
	}
	if err := agentclient.WaitForHealth(ctx, client, healthTimeout); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// spawnHypervisor launches the hypervisor for one sandbox, jailed or
// direct, and returns its control-plane client plus the paths the
// caller needs to keep (vsock UDS, chroot root if jailed).
// withConfig only affects the direct (non-jailed) path: jailed launches
// always go through JailerLauncher.Prepare, which always writes a
// config.json even for warm-start/fork, since CommandArgs always
// appends --config-file — harmless, because restore_snapshot
// overwrites machine state after boot regardless of the file's
// contents.
func (m *Manager) spawnHypervisor(sandboxID, sandboxDir string, vm hypervisor.VmConfig, withConfig bool) (proc *hypervisor.Process, client *hypervisor.Client, vsockPath, chrootRoot string, err error) {
	proc = &hypervisor.Process{Binary: m.hypervisorBinary()}
	vsockPath = vm.VsockPath

	if m.jailer != nil {
		var apiSock string
		chrootRoot, _, err = m.jailer.Prepare(sandboxID, m.cfg.KernelPath, vm.RootfsPath, vm)
		if err != nil {
			return nil, nil, "", "", err
		}
		args := m.jailer.CommandArgs(sandboxID, m.hypervisorBinary(), vm.VcpuCount, vm.MemSizeMib)
		apiSock = filepath.Join(chrootRoot, "run", "firecracker.socket")
		vsockPath = filepath.Join(chrootRoot, "vsock.sock")
		if err = proc.CreateJailed(m.cfg.Jailer.Binary, args, sandboxDir, apiSock, vsockPath); err != nil {
			return nil, nil, "", "", err
		}
	} else if withConfig {
		if err = proc.Create(sandboxDir, vm); err != nil {
			return nil, nil, "", "", err
		}
	} else {
		if err = proc.CreateWithoutConfig(sandboxDir, vm.VsockPath); err != nil {
			return nil, nil, "", "", err
		}
	}

	client = hypervisor.NewClient(proc.ApiSockPath())
	return proc, client, vsockPath, chrootRoot, nil
}

// stageSnapshotFiles ensures snapshotPath/memPath are reachable from
// inside the hypervisor's view: unchanged when not jailed, hard-linked
// (or copied) into the chroot and returned as chroot-relative paths
// when jailed.
func stageSnapshotFiles(chrootRoot, snapshotPath, memPath string) (string, string, error) {
	if chrootRoot == "" {
		return snapshotPath, memPath, nil
	}
	if err := linkOrCopy(snapshotPath, filepath.Join(chrootRoot, "snapshot_file")); err != nil {
		return "", "", fmt.Errorf("stage snapshot_file into chroot: %w", err)
	}
	if err := linkOrCopy(memPath, filepath.Join(chrootRoot, "mem_file")); err != nil {
		return "", "", fmt.Errorf("stage mem_file into chroot: %w", err)
	}
	return "/snapshot_file", "/mem_file", nil
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

// snapshotMeta is written by the external snapshot-export tool
// alongside rootfs.ext4/mem_file/snapshot_file; its resource sizing is
// the sizing the snapshotted sandbox was created with. Warm-start
// requests carry no cpu/mem fields of their own, so the snapshot
// directory is the only place they can come from.
type snapshotMeta struct {
	CpuCores int `json:"cpuCores"`
	MemoryMB int `json:"memoryMb"`
}

func loadSnapshotMeta(snapshotDir string) snapshotMeta {
	meta := snapshotMeta{CpuCores: 2, MemoryMB: 4096}
	data, err := os.ReadFile(filepath.Join(snapshotDir, "meta.json"))
	if err != nil {
		return meta
	}
	var parsed snapshotMeta
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.CpuCores > 0 && parsed.MemoryMB > 0 {
		return parsed
	}
	return meta
}

func logf(format string, args ...any) { log.Printf("sandboxmanager: "+format, args...) }
