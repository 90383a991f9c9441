// Package nodeserver implements the Node's inbound gRPC surface: the
// control plane (or sandchestctl) calls it to create, fork, and destroy
// sandboxes and to reach the guest agent for exec, sessions, and file
// transfer. Request paths route through the sandbox manager for
// lifecycle operations and through the agent-client router for
// everything that terminates inside a guest.
package nodeserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/opensandbox/sandchest/internal/agentclient"
	"github.com/opensandbox/sandchest/internal/artifacts"
	"github.com/opensandbox/sandchest/internal/idgen"
	"github.com/opensandbox/sandchest/internal/metrics"
	"github.com/opensandbox/sandchest/internal/sandboxmanager"
	"github.com/opensandbox/sandchest/internal/sandchesterr"
	sandchestproto "github.com/opensandbox/sandchest/proto"
	agentpb "github.com/opensandbox/sandchest/proto/agent"
	pb "github.com/opensandbox/sandchest/proto/node"
)

// EventSink is the outbound event surface; satisfied by
// eventchannel.Channel.
type EventSink interface {
	Send(*pb.NodeToControl)
}

// Server implements pb.NodeServer.
type Server struct {
	nodeID   string
	manager  *sandboxmanager.Manager
	router   *agentclient.Router
	events   EventSink
	uploader *artifacts.Uploader // nil when S3 is not configured

	server *grpc.Server
}

// New wraps the manager and router in a gRPC server. creds may be nil
// for plaintext (dev) listeners.
func New(nodeID string, mgr *sandboxmanager.Manager, router *agentclient.Router, events EventSink, uploader *artifacts.Uploader, creds credentials.TransportCredentials) *Server {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(sandchestproto.Codec()),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	s := &Server{
		nodeID:   nodeID,
		manager:  mgr,
		router:   router,
		events:   events,
		uploader: uploader,
		server:   grpc.NewServer(opts...),
	}
	pb.RegisterNodeServer(s.server, s)
	return s
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("nodeserver: listen on %s: %w", addr, err)
	}
	log.Printf("nodeserver: listening on %s", addr)
	return s.server.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

func (s *Server) CreateSandbox(ctx context.Context, req *pb.CreateSandboxRequest) (*pb.SandboxResponse, error) {
	if req.SandboxID == "" {
		req.SandboxID = idgen.GenerateID(idgen.SandboxPrefix)
	}
	sb, err := s.manager.CreateSandbox(ctx, req)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.SandboxResponse{SandboxID: sb.ID, Status: string(sb.Status), BootDurationMs: sb.BootDurationMs}, nil
}

func (s *Server) CreateSandboxFromSnapshot(ctx context.Context, req *pb.CreateSandboxFromSnapshotRequest) (*pb.SandboxResponse, error) {
	if req.SandboxID == "" {
		req.SandboxID = idgen.GenerateID(idgen.SandboxPrefix)
	}
	sb, err := s.manager.CreateSandboxFromSnapshot(ctx, req)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.SandboxResponse{SandboxID: sb.ID, Status: string(sb.Status), BootDurationMs: sb.BootDurationMs}, nil
}

func (s *Server) ForkSandbox(ctx context.Context, req *pb.ForkSandboxRequest) (*pb.SandboxResponse, error) {
	if req.ChildSandboxID == "" {
		req.ChildSandboxID = idgen.GenerateID(idgen.SandboxPrefix)
	}
	sb, err := s.manager.ForkSandbox(ctx, req)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.SandboxResponse{SandboxID: sb.ID, Status: string(sb.Status), BootDurationMs: sb.BootDurationMs}, nil
}

func (s *Server) StopSandbox(ctx context.Context, req *pb.StopSandboxRequest) (*pb.Empty, error) {
	if err := s.manager.StopSandbox(req.SandboxID); err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.Empty{}, nil
}

func (s *Server) DestroySandbox(ctx context.Context, req *pb.DestroySandboxRequest) (*pb.Empty, error) {
	if err := s.manager.DestroySandbox(req.SandboxID); err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.Empty{}, nil
}

// Exec forwards a one-shot exec to the guest agent and relays its event
// stream back to the caller, mirroring stdout/stderr chunks and the
// exit summary onto the control-plane event stream as it goes.
func (s *Server) Exec(req *pb.ExecRequest, stream pb.Node_ExecServer) error {
	if req.ExecID == "" {
		req.ExecID = idgen.GenerateID(idgen.ExecPrefix)
	}
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return sandchesterr.ToStatus(err)
	}

	start := time.Now()
	agentStream, err := client.RPC().Exec(stream.Context(), &agentpb.ExecRequest{
		ExecID:         req.ExecID,
		Cmd:            req.Cmd,
		ShellCmd:       req.ShellCmd,
		Cwd:            req.Cwd,
		Env:            req.Env,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return sandchesterr.ToStatus(sandchesterr.WrapUnavailable(err, "nodeserver: exec on %s", req.SandboxID))
	}

	for {
		ev, err := agentStream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		out := &pb.ExecEvent{
			Seq:             ev.Seq,
			Kind:            pb.ExecEventKind(ev.Kind),
			Data:            ev.Data,
			ExitCode:        ev.ExitCode,
			CpuMs:           ev.CpuMs,
			PeakMemoryBytes: ev.PeakMemoryBytes,
			DurationMs:      ev.DurationMs,
		}
		if err := stream.Send(out); err != nil {
			// Receiver dropped; the agent-side context cancel kills the
			// process through the same path a timeout uses.
			return sandchesterr.ToStatus(sandchesterr.Cancelledf("nodeserver: exec stream receiver gone"))
		}
		s.mirrorExecEvent(req.SandboxID, req.ExecID, ev, start)
	}
}

func (s *Server) mirrorExecEvent(sandboxID, execID string, ev *agentpb.ExecEvent, start time.Time) {
	if s.events == nil {
		return
	}
	switch ev.Kind {
	case agentpb.ExecEventExit:
		outcome := "exited"
		if ev.ExitCode == -1 {
			outcome = "timeout"
		} else if ev.ExitCode > 128 {
			outcome = "signaled"
		}
		metrics.ExecDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		s.events.Send(&pb.NodeToControl{
			Kind: pb.NodeToControlExecCompleted,
			ExecCompleted: &pb.ExecCompletedPayload{
				SandboxID:       sandboxID,
				ExecID:          execID,
				ExitCode:        ev.ExitCode,
				CpuMs:           ev.CpuMs,
				PeakMemoryBytes: ev.PeakMemoryBytes,
				DurationMs:      ev.DurationMs,
			},
		})
	default:
		s.events.Send(&pb.NodeToControl{
			Kind: pb.NodeToControlExecOutput,
			ExecOutput: &pb.ExecOutputPayload{
				SandboxID: sandboxID,
				ExecID:    execID,
				Kind:      pb.ExecEventKind(ev.Kind),
				Data:      ev.Data,
				Seq:       ev.Seq,
			},
		})
	}
}

func (s *Server) CreateSession(ctx context.Context, req *pb.CreateSessionRequest) (*pb.CreateSessionResponse, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	resp, err := client.RPC().CreateSession(ctx, &agentpb.CreateSessionRequest{Shell: req.Shell, Env: req.Env})
	if err != nil {
		return nil, err
	}
	return &pb.CreateSessionResponse{SessionID: resp.SessionID}, nil
}

func (s *Server) SessionExec(ctx context.Context, req *pb.SessionExecRequest) (*pb.SessionExecResponse, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	resp, err := client.RPC().SessionExec(ctx, &agentpb.SessionExecRequest{
		SessionID:      req.SessionID,
		Cmd:            req.Cmd,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	if s.events != nil && len(resp.Output) > 0 {
		s.events.Send(&pb.NodeToControl{
			Kind: pb.NodeToControlSessionOutput,
			SessionOutput: &pb.SessionOutputPayload{
				SandboxID: req.SandboxID,
				SessionID: req.SessionID,
				Data:      []byte(resp.Output),
			},
		})
	}
	return &pb.SessionExecResponse{Output: resp.Output, ExitCode: resp.ExitCode}, nil
}

func (s *Server) SessionInput(ctx context.Context, req *pb.SessionInputRequest) (*pb.Empty, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	if _, err := client.RPC().SessionInput(ctx, &agentpb.SessionInputRequest{SessionID: req.SessionID, Data: req.Data}); err != nil {
		return nil, err
	}
	return &pb.Empty{}, nil
}

func (s *Server) DestroySession(ctx context.Context, req *pb.DestroySessionRequest) (*pb.Empty, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	if _, err := client.RPC().DestroySession(ctx, &agentpb.DestroySessionRequest{SessionID: req.SessionID}); err != nil {
		return nil, err
	}
	return &pb.Empty{}, nil
}

// PutFile relays a client-streamed upload into the guest. Only the
// first chunk carries sandbox_id and path; the agent connection is
// resolved from that chunk before anything is forwarded.
func (s *Server) PutFile(stream pb.Node_PutFileServer) error {
	first, err := stream.Recv()
	if err == io.EOF {
		return sandchesterr.ToStatus(sandchesterr.InvalidArgumentf("nodeserver: put_file: empty stream"))
	}
	if err != nil {
		return err
	}
	if first.SandboxID == "" || first.Path == "" {
		return sandchesterr.ToStatus(sandchesterr.InvalidArgumentf("nodeserver: put_file: first chunk missing sandbox_id or path"))
	}

	client, err := s.router.GetAgent(first.SandboxID)
	if err != nil {
		return sandchesterr.ToStatus(err)
	}

	agentStream, err := client.RPC().PutFile(stream.Context())
	if err != nil {
		return sandchesterr.ToStatus(sandchesterr.WrapUnavailable(err, "nodeserver: put_file on %s", first.SandboxID))
	}

	chunk := first
	for {
		if err := agentStream.Send(&agentpb.PutFileChunk{
			Path:   chunk.Path,
			Data:   chunk.Data,
			Offset: chunk.Offset,
			Done:   chunk.Done,
		}); err != nil {
			return err
		}
		if chunk.Done {
			break
		}
		chunk, err = stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if _, err := agentStream.CloseAndRecv(); err != nil {
		return err
	}
	return stream.SendAndClose(&pb.Empty{})
}

func (s *Server) GetFile(req *pb.GetFileRequest, stream pb.Node_GetFileServer) error {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return sandchesterr.ToStatus(err)
	}
	agentStream, err := client.RPC().GetFile(stream.Context(), &agentpb.GetFileRequest{Path: req.Path})
	if err != nil {
		return sandchesterr.ToStatus(sandchesterr.WrapUnavailable(err, "nodeserver: get_file on %s", req.SandboxID))
	}
	for {
		chunk, err := agentStream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Send(&pb.GetFileChunk{Data: chunk.Data, Done: chunk.Done}); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
}

func (s *Server) ListFiles(ctx context.Context, req *pb.ListFilesRequest) (*pb.ListFilesResponse, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	resp, err := client.RPC().ListFiles(ctx, &agentpb.ListFilesRequest{Path: req.Path})
	if err != nil {
		return nil, err
	}
	entries := make([]pb.FileEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, pb.FileEntry{Name: e.Name, IsDir: e.IsDir, Size: e.Size})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &pb.ListFilesResponse{Entries: entries}, nil
}

// CollectArtifacts fetches each requested path from the guest, computes
// its SHA-256, and hands the bytes to the external uploader when one is
// configured. The upload itself is a contract-only collaborator: a
// failed or absent uploader still yields the artifact's hash and size.
func (s *Server) CollectArtifacts(ctx context.Context, req *pb.CollectArtifactsRequest) (*pb.CollectArtifactsResponse, error) {
	client, err := s.router.GetAgent(req.SandboxID)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}

	out := make([]pb.Artifact, 0, len(req.Paths))
	for _, path := range req.Paths {
		data, err := fetchFile(ctx, client, path)
		if err != nil {
			return nil, sandchesterr.ToStatus(sandchesterr.WrapInternal(err, "nodeserver: collect %s from %s", path, req.SandboxID))
		}
		sum := sha256.Sum256(data)
		artifact := pb.Artifact{
			Path:   path,
			Sha256: hex.EncodeToString(sum[:]),
			Size:   int64(len(data)),
		}
		if s.uploader != nil {
			key := fmt.Sprintf("%s/%s%s", s.nodeID, req.SandboxID, path)
			if err := s.uploader.UploadBytes(ctx, key, data); err != nil {
				log.Printf("nodeserver: artifact upload %s: %v", key, err)
			}
		}
		out = append(out, artifact)
	}
	return &pb.CollectArtifactsResponse{Artifacts: out}, nil
}

func fetchFile(ctx context.Context, client *agentclient.Client, path string) ([]byte, error) {
	stream, err := client.RPC().GetFile(ctx, &agentpb.GetFileRequest{Path: path})
	if err != nil {
		return nil, err
	}
	var data []byte
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		data = append(data, chunk.Data...)
		if chunk.Done {
			return data, nil
		}
	}
}
