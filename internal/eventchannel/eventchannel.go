// Package eventchannel buffers outbound Node-to-Control events and
// forwards them over a reconnecting gRPC bidirectional stream. While
// disconnected, events drain into a bounded replay buffer (drop-oldest
// on overflow) that is flushed before live forwarding resumes on the
// next successful connect.
package eventchannel

import (
	"context"
	"log"
	"sync"
	"time"

	pb "github.com/opensandbox/sandchest/proto/node"
	"google.golang.org/grpc"
)

const (
	replayBufferCap = 1000
	liveChannelCap  = 256
	reconnectSleep  = 5 * time.Second
)

// Channel is the in-process queue of outbound events plus the stream
// worker that drains it to the control plane.
type Channel struct {
	dial func(ctx context.Context) (pb.NodeEvents_EventsClient, error)

	live chan *pb.NodeToControl

	mu     sync.Mutex
	replay []*pb.NodeToControl

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Channel that opens a new Events stream on cc whenever
// the worker (re)connects.
func New(cc *grpc.ClientConn) *Channel {
	client := pb.NewNodeEventsClient(cc)
	return &Channel{
		dial: func(ctx context.Context) (pb.NodeEvents_EventsClient, error) {
			return client.Events(ctx)
		},
		live: make(chan *pb.NodeToControl, liveChannelCap),
		stop: make(chan struct{}),
	}
}

// Send enqueues an event without blocking. If the live channel is
// full, the event is buffered for replay instead of dropped outright.
func (c *Channel) Send(e *pb.NodeToControl) {
	select {
	case c.live <- e:
	default:
		c.bufferEvent(e)
	}
}

// bufferEvent appends to the replay buffer, dropping the oldest entry
// on overflow.
func (c *Channel) bufferEvent(e *pb.NodeToControl) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replay) >= replayBufferCap {
		c.replay = c.replay[1:]
	}
	c.replay = append(c.replay, e)
}

// ReplayDepth reports the current size of the replay buffer, for
// observability (internal/metrics.EventChannelReplayDepth).
func (c *Channel) ReplayDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replay)
}

// drainReplay returns and clears the current replay buffer.
func (c *Channel) drainReplay() []*pb.NodeToControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replay) == 0 {
		return nil
	}
	out := c.replay
	c.replay = nil
	return out
}

// Start launches the background stream worker.
func (c *Channel) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the worker to exit and waits for it.
func (c *Channel) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		stream, err := c.dial(ctx)
		if err != nil {
			log.Printf("eventchannel: connect failed: %v", err)
			if c.sleepOrStop() {
				return
			}
			continue
		}

		if !c.forward(stream) {
			return
		}
		if c.sleepOrStop() {
			return
		}
	}
}

// forward drains the replay buffer into the stream, then forwards live
// events until the stream breaks or Stop is called. Returns false if
// the worker should exit entirely.
func (c *Channel) forward(stream pb.NodeEvents_EventsClient) bool {
	for _, e := range c.drainReplay() {
		if err := stream.Send(e); err != nil {
			log.Printf("eventchannel: replay send failed: %v", err)
			c.bufferEvent(e)
			return true
		}
	}

	go c.drainInboundIgnored(stream)

	for {
		select {
		case <-c.stop:
			return false
		case e := <-c.live:
			if err := stream.Send(e); err != nil {
				log.Printf("eventchannel: send failed, buffering and reconnecting: %v", err)
				c.bufferEvent(e)
				return true
			}
		}
	}
}

// drainInboundIgnored reads and discards server-to-node messages; the
// command direction carries nothing actionable today.
func (c *Channel) drainInboundIgnored(stream pb.NodeEvents_EventsClient) {
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

// sleepOrStop sleeps for the reconnect interval, draining any events
// sent meanwhile into the replay buffer. Returns true if Stop fired
// during the sleep.
func (c *Channel) sleepOrStop() bool {
	timer := time.NewTimer(reconnectSleep)
	defer timer.Stop()
	for {
		select {
		case <-c.stop:
			return true
		case <-timer.C:
			return false
		case e := <-c.live:
			c.bufferEvent(e)
		}
	}
}
