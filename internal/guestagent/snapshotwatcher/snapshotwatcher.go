// Package snapshotwatcher runs the guest-side heartbeat writer and
// stale-heartbeat detector that drives post-snapshot forensics: a
// microVM resumed from a snapshot must not inherit the parent's live
// sessions, RNG state, wall clock, or orphaned processes. A heartbeat
// file rewritten every second is the restore detector — a gap longer
// than the threshold can only mean the VM was paused and resumed.
package snapshotwatcher

import (
	"log"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	heartbeatPath   = "/tmp/.sandchest_heartbeat"
	tickInterval    = 1 * time.Second
	staleThreshold  = 5 * time.Second
	reseedByteCount = 256
)

// SessionDestroyer is the minimal surface the watcher needs from
// session.Manager to kill ghost sessions inherited from the parent.
type SessionDestroyer interface {
	DestroyAll()
}

// Watcher owns the heartbeat file and the staleness-triggered recovery
// sequence.
type Watcher struct {
	sessions SessionDestroyer
	nowFn    func() time.Time
	path     string
}

func New(sessions SessionDestroyer) *Watcher {
	return &Watcher{sessions: sessions, nowFn: time.Now, path: heartbeatPath}
}

// Run ticks once per second until stop is closed: check staleness,
// recover if stale, then write a fresh heartbeat.
func (w *Watcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	if w.isStale() {
		log.Printf("snapshotwatcher: stale heartbeat detected, running fork recovery")
		w.recover()
	}
	w.writeHeartbeat()
}

// isStale: the file must exist, parse, and now must be strictly
// greater than file_ts by more than the threshold. Future timestamps
// and unparseable content are never stale.
func (w *Watcher) isStale() bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false
	}
	fileTS, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false
	}
	now := w.nowFn().Unix()
	return now > fileTS && now-fileTS > int64(staleThreshold.Seconds())
}

func (w *Watcher) writeHeartbeat() {
	ts := w.nowFn().Unix()
	if err := os.WriteFile(w.path, []byte(strconv.FormatInt(ts, 10)), 0o644); err != nil {
		log.Printf("snapshotwatcher: write heartbeat: %v", err)
	}
}

// recover runs the full post-snapshot repair sequence in order:
// destroy inherited sessions, reseed urandom, correct the wall clock,
// kill orphaned processes, then immediately write a fresh heartbeat so
// this tick doesn't re-trigger on the next one.
func (w *Watcher) recover() {
	if w.sessions != nil {
		w.sessions.DestroyAll()
	}
	reseedURandom()
	correctClock()
	killOrphans()
	w.writeHeartbeat()
}

// reseedURandom mixes nanosecond time and pid through a splittable
// multiplicative hash to produce fresh entropy, preventing identical
// RNG streams across the parent and every forked child.
func reseedURandom() {
	f, err := os.OpenFile("/dev/urandom", os.O_WRONLY, 0)
	if err != nil {
		log.Printf("snapshotwatcher: open /dev/urandom: %v", err)
		return
	}
	defer f.Close()

	seed := splitmixSeed(uint64(time.Now().UnixNano()) ^ uint64(os.Getpid()))
	buf := make([]byte, reseedByteCount)
	state := seed
	for i := 0; i < len(buf); i += 8 {
		state = splitmixNext(state)
		for j := 0; j < 8 && i+j < len(buf); j++ {
			buf[i+j] = byte(state >> (8 * j))
		}
	}
	if _, err := f.Write(buf); err != nil {
		log.Printf("snapshotwatcher: reseed urandom: %v", err)
	}
}

func splitmixSeed(x uint64) uint64 { return x }

// splitmixNext advances state by the SplitMix64 increment, applies the
// SplitMix64 finalizer, and returns the result rotated left by one and
// XORed with the advanced state as the next state: cheap, well-mixed,
// and adequate for entropy stirring (not for cryptographic key material).
func splitmixNext(state uint64) uint64 {
	state += 0x9E3779B97F4A7C15
	z := state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return bits.RotateLeft64(z, 1) ^ state
}

// correctClock applies the kernel's already-updated REALTIME back to
// itself: a no-op when the hypervisor has already corrected the guest
// RTC on resume, a real correction otherwise. The watcher cannot
// distinguish the two cases and always performs the call.
func correctClock() {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		log.Printf("snapshotwatcher: clock_gettime: %v", err)
		return
	}
	if err := unix.ClockSettime(unix.CLOCK_REALTIME, &ts); err != nil {
		log.Printf("snapshotwatcher: clock_settime: %v", err)
	}
}

// killOrphans walks /proc, skipping pid 1, the watcher's own pid, and
// kernel threads (PPID == 2), and sends SIGTERM to everything else:
// processes whose parent was a session or exec from the parent VM that
// no longer exists in this guest.
func killOrphans() {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		log.Printf("snapshotwatcher: readdir /proc: %v", err)
		return
	}
	self := os.Getpid()
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == 1 || pid == self {
			continue
		}
		ppid := readPPID(pid)
		if ppid == 2 {
			continue
		}
		syscall.Kill(pid, syscall.SIGTERM)
	}
}

func readPPID(pid int) int {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return -1
	}
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return -1
	}
	fields := strings.Fields(s[idx+2:])
	// fields[0] is field 3 (state); PPID is field 4 -> fields[1].
	if len(fields) < 2 {
		return -1
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return -1
	}
	return ppid
}
