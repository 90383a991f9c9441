// Package agentclient dials the guest agent's gRPC surface, either
// directly over TCP (dev) or through the hypervisor's vsock UDS
// (production), and caches one connection per sandbox.
package agentclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
	"github.com/opensandbox/sandchest/pkg/types"
	sandchestproto "github.com/opensandbox/sandchest/proto"
	pb "github.com/opensandbox/sandchest/proto/agent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// AgentPort is the vsock port the guest agent listens on in
// production; 50052 is used instead for the direct-TCP dev transport.
const AgentPort = 52

const (
	connectTimeout = 5 * time.Second
	requestTimeout = 300 * time.Second
)

// Client is a long-lived handle to one guest agent.
type Client struct {
	conn   *grpc.ClientConn
	rpc    pb.GuestAgentClient
	closed bool
}

// Connect dials a guest agent. If vsockPath is non-empty, it dials the
// hypervisor's vsock UDS and performs the CONNECT handshake for
// AgentPort; otherwise it dials devAddr directly over TCP.
func Connect(ctx context.Context, vsockPath, devAddr string) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var target string
	var dialer func(context.Context, string) (net.Conn, error)

	if vsockPath != "" {
		target = "passthrough:///vsock"
		dialer = func(ctx context.Context, _ string) (net.Conn, error) {
			return dialVsockUDS(ctx, vsockPath, AgentPort)
		}
	} else {
		target = "passthrough:///" + devAddr
		dialer = func(ctx context.Context, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", devAddr)
		}
	}

	conn, err := grpc.DialContext(dialCtx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithContextDialer(dialer),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(sandchestproto.Codec())),
	)
	if err != nil {
		return nil, sandchesterr.Unavailablef("agentclient: dial: %v", err)
	}

	return &Client{conn: conn, rpc: pb.NewGuestAgentClient(conn)}, nil
}

// WaitForHealth polls Health at 100ms intervals until ready=true or the
// timeout elapses.
func WaitForHealth(ctx context.Context, c *Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		resp, err := c.rpc.Health(callCtx, &pb.HealthRequest{})
		cancel()
		if err == nil && resp.Ready {
			return nil
		}
		if time.Now().After(deadline) {
			return sandchesterr.Unavailablef("agentclient: health check timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// RPC exposes the generated guest agent client for callers
// (internal/nodeserver's exec, session and file forwarding) that need
// the full RPC surface.
func (c *Client) RPC() pb.GuestAgentClient { return c.rpc }

// Close tears down the connection.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// dialVsockUDS connects to the hypervisor's vsock UDS and performs the
// CONNECT <port>\n / OK handshake, matching Firecracker's host-to-guest
// vsock convention.
func dialVsockUDS(ctx context.Context, udsPath string, port int) (net.Conn, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(connectTimeout)
	}

	d := net.Dialer{Deadline: deadline}
	conn, err := d.DialContext(ctx, "unix", udsPath)
	if err != nil {
		return nil, fmt.Errorf("dial vsock uds %s: %w", udsPath, err)
	}

	_ = conn.SetDeadline(deadline)
	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT %d: %w", port, err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read vsock response: %w", err)
	}
	if line = strings.TrimSpace(line); !strings.HasPrefix(line, "OK") {
		conn.Close()
		return nil, fmt.Errorf("vsock CONNECT failed: %s", line)
	}

	_ = conn.SetDeadline(time.Time{})
	return &handshakeConn{Conn: conn, reader: reader}, nil
}

// handshakeConn wraps a net.Conn so bytes buffered by bufio.Reader
// during the CONNECT handshake aren't lost to the gRPC transport.
type handshakeConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *handshakeConn) Read(p []byte) (int, error) { return c.reader.Read(p) }

// Router caches one AgentClient per sandbox id and requires sandbox
// state to be Running before handing a client back.
type Router struct {
	mu      sync.RWMutex
	clients map[string]*Client

	// Status looks up a sandbox's current state; supplied by
	// SandboxManager so Router has no direct dependency on it.
	Status func(sandboxID string) (types.SandboxStatus, bool)
}

func NewRouter(status func(sandboxID string) (types.SandboxStatus, bool)) *Router {
	return &Router{clients: make(map[string]*Client), Status: status}
}

// Put registers a dialed client for a sandbox, replacing any prior one.
func (r *Router) Put(sandboxID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[sandboxID]; ok {
		existing.Close()
	}
	r.clients[sandboxID] = c
}

// GetAgent returns the cached client for a sandbox. The sandbox must
// be Running (FailedPrecondition otherwise) and tracked (NotFound
// otherwise).
func (r *Router) GetAgent(sandboxID string) (*Client, error) {
	status, ok := r.Status(sandboxID)
	if !ok {
		return nil, sandchesterr.NotFoundf("agentclient: sandbox %s not found", sandboxID)
	}
	if status != types.SandboxStatusRunning {
		return nil, sandchesterr.FailedPreconditionf("agentclient: sandbox %s is %s, not running", sandboxID, status)
	}

	r.mu.RLock()
	c, ok := r.clients[sandboxID]
	r.mu.RUnlock()
	if !ok {
		return nil, sandchesterr.NotFoundf("agentclient: no cached client for sandbox %s", sandboxID)
	}
	return c, nil
}

// RemoveClient closes and evicts the cached client for a sandbox. Must
// be called on destroy.
func (r *Router) RemoveClient(sandboxID string) {
	r.mu.Lock()
	c, ok := r.clients[sandboxID]
	if ok {
		delete(r.clients, sandboxID)
	}
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}
