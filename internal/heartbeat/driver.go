package heartbeat

import (
	"context"
	"log"
	"time"

	pb "github.com/opensandbox/sandchest/proto/node"
)

func newTicker() *time.Ticker { return time.NewTicker(tickInterval) }

// Sink is the minimal surface the driver needs from an
// eventchannel.Channel, kept as an interface so this package doesn't
// import eventchannel directly.
type Sink interface {
	Send(*pb.NodeToControl)
}

// Source supplies the node-local state a heartbeat reports alongside
// the sampled metrics.
type Source struct {
	NodeID            string
	DataDir           string // statfs target for disk usage
	SnapshotsDir      string
	RunningSandboxIDs func() []string
	SlotsUsed         func() int
}

// Driver ticks every 15s, samples metrics, and sends one Heartbeat
// event through Sink. Failures are logged and the tick is dropped:
// liveness outranks completeness.
type Driver struct {
	sampler *Sampler
	source  Source
	sink    Sink
}

func NewDriver(source Source, sink Sink) *Driver {
	return &Driver{sampler: NewSampler(), source: source, sink: sink}
}

// Run blocks, ticking until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := newTicker()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Driver) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("heartbeat: tick panicked, dropping: %v", r)
		}
	}()

	m := d.sampler.Sample(d.source.DataDir)

	d.sink.Send(&pb.NodeToControl{
		Kind: pb.NodeToControlHeartbeat,
		Heartbeat: &pb.HeartbeatPayload{
			NodeID:            d.source.NodeID,
			RunningSandboxIDs: d.source.RunningSandboxIDs(),
			SlotsTotal:        TotalSlots(),
			SlotsUsed:         d.source.SlotsUsed(),
			SnapshotIDs:       ListSnapshotIDs(d.source.SnapshotsDir),
			CpuPercent:        m.CpuPercent,
			MemoryUsedBytes:   m.MemoryUsedBytes,
			MemoryTotalBytes:  m.MemoryTotalBytes,
			DiskUsedBytes:     m.DiskUsedBytes,
			DiskTotalBytes:    m.DiskTotalBytes,
			NetRxBytes:        m.NetRxBytes,
			NetTxBytes:        m.NetTxBytes,
			LoadAvg1:          m.LoadAvg1,
			LoadAvg5:          m.LoadAvg5,
			LoadAvg15:         m.LoadAvg15,
		},
	})
}
