// Package heartbeat samples node-wide system metrics on a 15 second
// ticker and emits a Heartbeat event through an eventchannel.Channel:
// delta-tracked CPU percent from /proc/stat, memory from /proc/meminfo,
// disk usage, network counters, and load averages.
package heartbeat

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const tickInterval = 15 * time.Second

const totalSlots = 256

// Sampler exposes the node-wide metrics a Heartbeat reports.
type Sampler struct {
	mu            sync.Mutex
	prevCPUTotal  uint64
	prevCPUIdle   uint64
}

func NewSampler() *Sampler { return &Sampler{} }

// Metrics is one heartbeat's worth of sampled system state.
type Metrics struct {
	CpuPercent      float64
	MemoryUsedBytes int64
	MemoryTotalBytes int64
	DiskUsedBytes   int64
	DiskTotalBytes  int64
	NetRxBytes      int64
	NetTxBytes      int64
	LoadAvg1        float64
	LoadAvg5        float64
	LoadAvg15       float64
}

// Sample reads a full metrics snapshot. diskPath is the filesystem to
// statfs for aggregate disk usage (typically the sandboxes data root).
func (s *Sampler) Sample(diskPath string) Metrics {
	used, total := s.memory()
	diskUsed, diskTotal := diskUsage(diskPath)
	rx, tx := netCounters()
	l1, l5, l15 := loadAverages()
	return Metrics{
		CpuPercent:       s.cpuPercent(),
		MemoryUsedBytes:  used,
		MemoryTotalBytes: total,
		DiskUsedBytes:    diskUsed,
		DiskTotalBytes:   diskTotal,
		NetRxBytes:       rx,
		NetTxBytes:       tx,
		LoadAvg1:         l1,
		LoadAvg5:         l5,
		LoadAvg15:        l15,
	}
}

func (s *Sampler) cpuPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, idle := readProcStat()
	if total == 0 {
		return 0
	}
	defer func() { s.prevCPUTotal, s.prevCPUIdle = total, idle }()

	if s.prevCPUTotal == 0 || total <= s.prevCPUTotal {
		return 0
	}
	dTotal := total - s.prevCPUTotal
	dIdle := idle - s.prevCPUIdle
	if dTotal == 0 {
		return 0
	}
	return float64(dTotal-dIdle) / float64(dTotal) * 100.0
}

func (s *Sampler) memory() (used, total int64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = parseMeminfoKB(line)
		}
	}
	if memTotal == 0 {
		return 0, 0
	}
	return int64((memTotal - memAvailable) * 1024), int64(memTotal * 1024)
}

func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	val, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return val
}

func readProcStat() (total, idle uint64) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0
	}
	for i := 1; i < len(fields); i++ {
		val, _ := strconv.ParseUint(fields[i], 10, 64)
		total += val
		if i == 4 {
			idle = val
		}
	}
	return total, idle
}

func diskUsage(path string) (used, total int64) {
	var st syscall.Statfs_t
	if path == "" {
		path = "/"
	}
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0
	}
	total = int64(st.Blocks) * int64(st.Bsize)
	free := int64(st.Bfree) * int64(st.Bsize)
	return total - free, total
}

func netCounters() (rx, tx int64) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line <= 2 {
			continue // header lines
		}
		text := scanner.Text()
		parts := strings.SplitN(text, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		if iface == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			rx += v
		}
		if v, err := strconv.ParseInt(fields[8], 10, 64); err == nil {
			tx += v
		}
	}
	return rx, tx
}

func loadAverages() (l1, l5, l15 float64) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15
}

// ListSnapshotIDs returns the sorted names of the direct subdirectories
// of dir. A missing directory yields an empty list, not an error.
func ListSnapshotIDs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	return ids
}

// TickInterval is the heartbeat cadence.
func TickInterval() time.Duration { return tickInterval }

// TotalSlots is the fixed slot-pool size reported on every heartbeat.
func TotalSlots() int { return totalSlots }
