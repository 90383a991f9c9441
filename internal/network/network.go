// Package network plumbs the host-side networking for one sandbox: a
// dedicated TAP device, its /30 subnet, NAT masquerade, bidirectional
// forwarding, and a token-bucket bandwidth shaper. One TAP per sandbox,
// addressed 172.16.S.*/30 by the sandbox's slot.
package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os/exec"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
	"github.com/opensandbox/sandchest/pkg/types"
)

const (
	defaultOutboundIface = "eth0"
	defaultBandwidthMbps = 100
	shaperLatencyMs      = 50
)

// Config carries the host-side knobs that are not derived from the
// slot itself.
type Config struct {
	OutboundIface string // default "eth0"
	BandwidthMbps int    // default 100
}

func (c Config) iface() string {
	if c.OutboundIface == "" {
		return defaultOutboundIface
	}
	return c.OutboundIface
}

func (c Config) bandwidth() int {
	if c.BandwidthMbps <= 0 {
		return defaultBandwidthMbps
	}
	return c.BandwidthMbps
}

// Plumber owns the TAP/NAT lifecycle for every sandbox on this host.
type Plumber struct {
	cfg Config
}

func New(cfg Config) *Plumber {
	return &Plumber{cfg: cfg}
}

// TapName returns the TAP device name for a sandbox id: "tap-" plus
// the first 11 characters of the id (kernel interface names are
// limited to 15 characters).
func TapName(sandboxID string) string {
	id := sandboxID
	if len(id) > 11 {
		id = id[:11]
	}
	return "tap-" + id
}

// Setup performs, in order, TAP creation, host IP assignment,
// MASQUERADE, bidirectional FORWARD, and bandwidth shaping for the
// given slot. Any failure after TAP creation is cleaned up via
// Teardown before the error is returned, so a failed Setup never
// leaves partial state for the caller to track.
func (p *Plumber) Setup(sandboxID string, slot types.NetworkSlot) (err error) {
	tap := TapName(sandboxID)

	defer func() {
		if err != nil {
			p.Teardown(sandboxID, slot)
		}
	}()

	if err = p.createTAP(tap, slot); err != nil {
		return sandchesterr.WrapInternal(err, "network: create tap %s", tap)
	}
	if err = p.addMasquerade(slot); err != nil {
		return sandchesterr.WrapInternal(err, "network: masquerade for slot %d", slot.Slot)
	}
	if err = p.addForwarding(tap); err != nil {
		return sandchesterr.WrapInternal(err, "network: forwarding rules for %s", tap)
	}
	if err = p.shapeBandwidth(tap); err != nil {
		return sandchesterr.WrapInternal(err, "network: bandwidth shaper for %s", tap)
	}
	return nil
}

// Teardown removes every rule Setup might have installed, in reverse
// order. Every step is best-effort: it tolerates partial setup and
// logs-but-proceeds on failure, since destroy must never get stuck on
// a network cleanup step.
func (p *Plumber) Teardown(sandboxID string, slot types.NetworkSlot) {
	tap := TapName(sandboxID)

	if err := p.removeForwarding(tap); err != nil {
		log.Printf("network: teardown forwarding for %s: %v", tap, err)
	}
	if err := p.removeMasquerade(slot); err != nil {
		log.Printf("network: teardown masquerade for slot %d: %v", slot.Slot, err)
	}
	if err := p.deleteTAP(tap); err != nil {
		log.Printf("network: teardown tap %s: %v", tap, err)
	}
}

func (p *Plumber) createTAP(tap string, slot types.NetworkSlot) error {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = tap
	link := &netlink.Tuntap{
		Mode:      netlink.TUNTAP_MODE_TAP,
		LinkAttrs: attrs,
	}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("link add: %w", err)
	}

	_, ipNet, err := net.ParseCIDR(slot.Subnet())
	if err != nil {
		return fmt.Errorf("parse subnet %s: %w", slot.Subnet(), err)
	}
	hostIP := net.ParseIP(slot.HostIP())
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: hostIP, Mask: ipNet.Mask}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("addr add %s: %w", slot.HostIP(), err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link set up: %w", err)
	}
	return nil
}

func (p *Plumber) deleteTAP(tap string) error {
	link, err := netlink.LinkByName(tap)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("link by name: %w", err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("link del: %w", err)
	}
	return nil
}

func (p *Plumber) addMasquerade(slot types.NetworkSlot) error {
	t, err := iptables.New()
	if err != nil {
		return err
	}
	return t.AppendUnique("nat", "POSTROUTING",
		"-s", slot.Subnet(), "-o", p.cfg.iface(), "-j", "MASQUERADE")
}

func (p *Plumber) removeMasquerade(slot types.NetworkSlot) error {
	t, err := iptables.New()
	if err != nil {
		return err
	}
	err = t.Delete("nat", "POSTROUTING",
		"-s", slot.Subnet(), "-o", p.cfg.iface(), "-j", "MASQUERADE")
	if err != nil && isNotExistErr(err) {
		return nil
	}
	return err
}

func (p *Plumber) addForwarding(tap string) error {
	t, err := iptables.New()
	if err != nil {
		return err
	}
	if err := t.AppendUnique("filter", "FORWARD", "-i", tap, "-o", p.cfg.iface(), "-j", "ACCEPT"); err != nil {
		return err
	}
	return t.AppendUnique("filter", "FORWARD", "-i", p.cfg.iface(), "-o", tap,
		"-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT")
}

func (p *Plumber) removeForwarding(tap string) error {
	t, err := iptables.New()
	if err != nil {
		return err
	}
	err1 := t.Delete("filter", "FORWARD", "-i", tap, "-o", p.cfg.iface(), "-j", "ACCEPT")
	err2 := t.Delete("filter", "FORWARD", "-i", p.cfg.iface(), "-o", tap,
		"-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT")
	if err1 != nil && !isNotExistErr(err1) {
		return err1
	}
	if err2 != nil && !isNotExistErr(err2) {
		return err2
	}
	return nil
}

// shapeBandwidth installs a token-bucket filter limiting the tap's
// egress to the configured rate: burst = 10 KB * N, latency = 50ms.
// Shells out to tc; qdisc setup has no stable netlink API worth
// carrying here.
func (p *Plumber) shapeBandwidth(tap string) error {
	rate := p.cfg.bandwidth()
	burstKB := 10 * rate
	return run("tc", "qdisc", "add", "dev", tap, "root", "tbf",
		"rate", fmt.Sprintf("%dmbit", rate),
		"burst", fmt.Sprintf("%dkb", burstKB),
		"latency", fmt.Sprintf("%dms", shaperLatencyMs))
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %v: %w (%s)", name, args, err, out)
	}
	return nil
}

func isNotExistErr(err error) bool {
	var iptErr *iptables.Error
	if errors.As(err, &iptErr) {
		return iptErr.IsNotExist()
	}
	return false
}
