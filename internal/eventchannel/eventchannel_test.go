package eventchannel

import (
	"testing"

	pb "github.com/opensandbox/sandchest/proto/node"
	"github.com/stretchr/testify/require"
)

func newTestChannel() *Channel {
	return &Channel{live: make(chan *pb.NodeToControl, liveChannelCap), stop: make(chan struct{})}
}

func TestBufferEventDropsOldestOnOverflow(t *testing.T) {
	c := newTestChannel()
	for i := 0; i < replayBufferCap+10; i++ {
		c.bufferEvent(&pb.NodeToControl{Kind: pb.NodeToControlHeartbeat})
	}
	require.Len(t, c.replay, replayBufferCap)
}

func TestDrainReplayClearsBuffer(t *testing.T) {
	c := newTestChannel()
	c.bufferEvent(&pb.NodeToControl{Kind: pb.NodeToControlHeartbeat})
	c.bufferEvent(&pb.NodeToControl{Kind: pb.NodeToControlExecOutput})

	drained := c.drainReplay()
	require.Len(t, drained, 2)
	require.Empty(t, c.replay)
	require.Nil(t, c.drainReplay())
}

func TestSendFallsBackToReplayWhenLiveFull(t *testing.T) {
	c := newTestChannel()
	c.live = make(chan *pb.NodeToControl, 1)
	c.Send(&pb.NodeToControl{Kind: pb.NodeToControlHeartbeat})
	c.Send(&pb.NodeToControl{Kind: pb.NodeToControlHeartbeat})

	require.Len(t, c.live, 1)
	require.Len(t, c.replay, 1)
}
