// Package client is a Go SDK for the Sandchest Node RPC surface: a
// thin wrapper over the gRPC client that hides stream plumbing behind
// io.Reader/io.Writer file transfer and a callback-based exec.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opensandbox/sandchest/pkg/types"
	sandchestproto "github.com/opensandbox/sandchest/proto"
	pb "github.com/opensandbox/sandchest/proto/node"
)

const putFileChunkSize = 64 * 1024

// TLSFiles names the PEM files for a mutual-TLS connection. Zero value
// means plaintext.
type TLSFiles struct {
	Cert string
	Key  string
	CA   string
}

func (t TLSFiles) enabled() bool { return t.CA != "" || t.Cert != "" }

// Client is a connected handle to one Sandchest node.
type Client struct {
	cc   *grpc.ClientConn
	node pb.NodeClient
}

// Dial connects to a node at addr (host:port).
func Dial(addr string, tlsFiles TLSFiles) (*Client, error) {
	creds, err := transportCredentials(tlsFiles)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(sandchestproto.Codec())),
	)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc, node: pb.NewNodeClient(cc)}, nil
}

func transportCredentials(t TLSFiles) (credentials.TransportCredentials, error) {
	if !t.enabled() {
		return insecure.NewCredentials(), nil
	}
	cfg := &tls.Config{}
	if t.CA != "" {
		pem, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("client: read CA %s: %w", t.CA, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client: no certificates parsed from %s", t.CA)
		}
		cfg.RootCAs = pool
	}
	if t.Cert != "" && t.Key != "" {
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("client: load keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(cfg), nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.cc.Close() }

// CreateSandbox cold-boots a new sandbox.
func (c *Client) CreateSandbox(ctx context.Context, req *pb.CreateSandboxRequest) (*pb.SandboxResponse, error) {
	return c.node.CreateSandbox(ctx, req)
}

// CreateSandboxFromSnapshot warm-starts a sandbox from a saved
// snapshot directory on the node.
func (c *Client) CreateSandboxFromSnapshot(ctx context.Context, req *pb.CreateSandboxFromSnapshotRequest) (*pb.SandboxResponse, error) {
	return c.node.CreateSandboxFromSnapshot(ctx, req)
}

// ForkSandbox live-forks a running sandbox into a new one.
func (c *Client) ForkSandbox(ctx context.Context, parentID, childID string) (*pb.SandboxResponse, error) {
	return c.node.ForkSandbox(ctx, &pb.ForkSandboxRequest{ParentSandboxID: parentID, ChildSandboxID: childID})
}

// StopSandbox stops a sandbox.
func (c *Client) StopSandbox(ctx context.Context, sandboxID string) error {
	_, err := c.node.StopSandbox(ctx, &pb.StopSandboxRequest{SandboxID: sandboxID})
	return err
}

// DestroySandbox destroys a sandbox. Idempotent for unknown ids.
func (c *Client) DestroySandbox(ctx context.Context, sandboxID string) error {
	_, err := c.node.DestroySandbox(ctx, &pb.DestroySandboxRequest{SandboxID: sandboxID})
	return err
}

// Exec runs a command in a sandbox and invokes onEvent for every
// streamed event, the exit event last. It returns once the stream ends.
func (c *Client) Exec(ctx context.Context, req *pb.ExecRequest, onEvent func(types.ExecEvent)) error {
	stream, err := c.node.Exec(ctx, req)
	if err != nil {
		return err
	}
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		onEvent(toExecEvent(ev))
	}
}

func toExecEvent(ev *pb.ExecEvent) types.ExecEvent {
	out := types.ExecEvent{Seq: ev.Seq, Kind: types.ExecEventKind(ev.Kind)}
	switch ev.Kind {
	case pb.ExecEventStdout:
		out.Stdout = ev.Data
	case pb.ExecEventStderr:
		out.Stderr = ev.Data
	case pb.ExecEventExit:
		out.Exit = &types.ExecExit{
			ExitCode:        ev.ExitCode,
			CpuMs:           ev.CpuMs,
			PeakMemoryBytes: ev.PeakMemoryBytes,
			DurationMs:      ev.DurationMs,
		}
	}
	return out
}

// CreateSession opens a PTY-backed shell session in a sandbox.
func (c *Client) CreateSession(ctx context.Context, sandboxID, shell string, env map[string]string) (string, error) {
	resp, err := c.node.CreateSession(ctx, &pb.CreateSessionRequest{SandboxID: sandboxID, Shell: shell, Env: env})
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// SessionExec runs one command in a session and returns its de-echoed
// output and exit code.
func (c *Client) SessionExec(ctx context.Context, sandboxID, sessionID, cmd string, timeoutSeconds int) (*types.SessionExecResult, error) {
	resp, err := c.node.SessionExec(ctx, &pb.SessionExecRequest{
		SandboxID:      sandboxID,
		SessionID:      sessionID,
		Cmd:            cmd,
		TimeoutSeconds: timeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	return &types.SessionExecResult{Output: resp.Output, ExitCode: resp.ExitCode}, nil
}

// SessionInput writes raw bytes to a session's PTY.
func (c *Client) SessionInput(ctx context.Context, sandboxID, sessionID string, data []byte) error {
	_, err := c.node.SessionInput(ctx, &pb.SessionInputRequest{SandboxID: sandboxID, SessionID: sessionID, Data: data})
	return err
}

// DestroySession tears down a session and its process group.
func (c *Client) DestroySession(ctx context.Context, sandboxID, sessionID string) error {
	_, err := c.node.DestroySession(ctx, &pb.DestroySessionRequest{SandboxID: sandboxID, SessionID: sessionID})
	return err
}

// PutFile streams r's bytes to path inside the sandbox.
func (c *Client) PutFile(ctx context.Context, sandboxID, path string, r io.Reader) error {
	stream, err := c.node.PutFile(ctx)
	if err != nil {
		return err
	}

	buf := make([]byte, putFileChunkSize)
	var offset int64
	first := true
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := &pb.PutFileChunk{Data: append([]byte(nil), buf[:n]...), Offset: offset}
			if first {
				chunk.SandboxID = sandboxID
				chunk.Path = path
				first = false
			}
			if err := stream.Send(chunk); err != nil {
				return err
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if first {
		// Empty file: the first chunk still must carry the path.
		if err := stream.Send(&pb.PutFileChunk{SandboxID: sandboxID, Path: path, Done: true}); err != nil {
			return err
		}
	} else {
		if err := stream.Send(&pb.PutFileChunk{Done: true}); err != nil {
			return err
		}
	}
	_, err = stream.CloseAndRecv()
	return err
}

// GetFile streams path's bytes out of the sandbox into w.
func (c *Client) GetFile(ctx context.Context, sandboxID, path string, w io.Writer) error {
	stream, err := c.node.GetFile(ctx, &pb.GetFileRequest{SandboxID: sandboxID, Path: path})
	if err != nil {
		return err
	}
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(chunk.Data) > 0 {
			if _, err := w.Write(chunk.Data); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

// ListFiles lists a directory inside the sandbox, sorted by name.
func (c *Client) ListFiles(ctx context.Context, sandboxID, path string) ([]types.EntryInfo, error) {
	resp, err := c.node.ListFiles(ctx, &pb.ListFilesRequest{SandboxID: sandboxID, Path: path})
	if err != nil {
		return nil, err
	}
	entries := make([]types.EntryInfo, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, types.EntryInfo{Name: e.Name, IsDir: e.IsDir, Size: e.Size, Path: path + "/" + e.Name})
	}
	return entries, nil
}

// CollectArtifacts fetches the named guest files, returning their
// hashes and sizes; the node uploads them when object storage is
// configured.
func (c *Client) CollectArtifacts(ctx context.Context, sandboxID string, paths []string) ([]types.Artifact, error) {
	resp, err := c.node.CollectArtifacts(ctx, &pb.CollectArtifactsRequest{SandboxID: sandboxID, Paths: paths})
	if err != nil {
		return nil, err
	}
	artifacts := make([]types.Artifact, 0, len(resp.Artifacts))
	for _, a := range resp.Artifacts {
		artifacts = append(artifacts, types.Artifact{Path: a.Path, Sha256: a.Sha256, Size: a.Size})
	}
	return artifacts, nil
}

// WithTimeout derives a context bounded by the default request timeout,
// for one-shot CLI calls.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 120*time.Second)
}
