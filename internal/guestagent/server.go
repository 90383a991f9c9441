// Package guestagent wires the guest-side RPC surface onto execstream,
// session, and snapshotwatcher: the concrete GuestAgentServer
// implementation cmd/agent registers with gRPC. File paths resolve
// against the guest's own root filesystem.
package guestagent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opensandbox/sandchest/internal/guestagent/execstream"
	"github.com/opensandbox/sandchest/internal/guestagent/session"
	"github.com/opensandbox/sandchest/internal/sandchesterr"
	pb "github.com/opensandbox/sandchest/proto/agent"
)

const getFileChunkSize = 64 * 1024

// Server implements pb.GuestAgentServer inside the guest.
type Server struct {
	startTime time.Time
	sessions  *session.Manager
}

func NewServer() *Server {
	return &Server{startTime: time.Now(), sessions: session.NewManager()}
}

// Sessions exposes the session manager so cmd/agent can hand it to the
// snapshotwatcher as its SessionDestroyer.
func (s *Server) Sessions() *session.Manager { return s.sessions }

func (s *Server) Health(ctx context.Context, req *pb.HealthRequest) (*pb.HealthResponse, error) {
	return &pb.HealthResponse{Ready: true}, nil
}

func (s *Server) Exec(req *pb.ExecRequest, stream pb.GuestAgent_ExecServer) error {
	out := make(chan execstream.Event, 32)
	errCh := make(chan error, 1)

	go func() {
		errCh <- execstream.Run(stream.Context(), execstream.Request{
			Cmd:            req.Cmd,
			ShellCmd:       req.ShellCmd,
			Cwd:            req.Cwd,
			Env:            req.Env,
			TimeoutSeconds: req.TimeoutSeconds,
		}, out)
		close(out)
	}()

	for ev := range out {
		if err := stream.Send(toExecEvent(ev)); err != nil {
			return err
		}
	}
	return <-errCh
}

func toExecEvent(ev execstream.Event) *pb.ExecEvent {
	switch ev.Kind {
	case execstream.EventStdout:
		return &pb.ExecEvent{Seq: ev.Seq, Kind: pb.ExecEventStdout, Data: ev.Data}
	case execstream.EventStderr:
		return &pb.ExecEvent{Seq: ev.Seq, Kind: pb.ExecEventStderr, Data: ev.Data}
	default:
		return &pb.ExecEvent{
			Seq:             ev.Seq,
			Kind:            pb.ExecEventExit,
			ExitCode:        ev.ExitCode,
			CpuMs:           ev.CpuMs,
			PeakMemoryBytes: ev.PeakMemoryBytes,
			DurationMs:      ev.DurationMs,
		}
	}
}

func (s *Server) CreateSession(ctx context.Context, req *pb.CreateSessionRequest) (*pb.CreateSessionResponse, error) {
	id, err := s.sessions.Create(req.Shell, req.Env)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.CreateSessionResponse{SessionID: id}, nil
}

func (s *Server) SessionExec(ctx context.Context, req *pb.SessionExecRequest) (*pb.SessionExecResponse, error) {
	result, err := s.sessions.Exec(req.SessionID, req.Cmd, req.TimeoutSeconds)
	if err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.SessionExecResponse{Output: result.Output, ExitCode: result.ExitCode}, nil
}

func (s *Server) SessionInput(ctx context.Context, req *pb.SessionInputRequest) (*pb.Empty, error) {
	if err := s.sessions.Input(req.SessionID, req.Data); err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.Empty{}, nil
}

func (s *Server) DestroySession(ctx context.Context, req *pb.DestroySessionRequest) (*pb.Empty, error) {
	if err := s.sessions.Destroy(req.SessionID); err != nil {
		return nil, sandchesterr.ToStatus(err)
	}
	return &pb.Empty{}, nil
}

// PutFile receives a client-streamed sequence of chunks; only the
// first chunk is required to carry Path.
func (s *Server) PutFile(stream pb.GuestAgent_PutFileServer) error {
	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&pb.Empty{})
		}
		if err != nil {
			return err
		}

		if f == nil {
			if chunk.Path == "" {
				return sandchesterr.ToStatus(sandchesterr.InvalidArgumentf("guestagent: put_file: first chunk missing path"))
			}
			path := resolvePath(chunk.Path)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return sandchesterr.ToStatus(sandchesterr.WrapInternal(err, "guestagent: put_file: mkdir"))
			}
			f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return sandchesterr.ToStatus(sandchesterr.WrapInternal(err, "guestagent: put_file: open"))
			}
		}

		if len(chunk.Data) > 0 {
			if _, err := f.WriteAt(chunk.Data, chunk.Offset); err != nil {
				return sandchesterr.ToStatus(sandchesterr.WrapInternal(err, "guestagent: put_file: write"))
			}
		}
		if chunk.Done {
			return stream.SendAndClose(&pb.Empty{})
		}
	}
}

// GetFile streams a file's bytes in fixed-size chunks, terminated by
// an empty chunk carrying Done=true.
func (s *Server) GetFile(req *pb.GetFileRequest, stream pb.GuestAgent_GetFileServer) error {
	path := resolvePath(req.Path)
	f, err := os.Open(path)
	if err != nil {
		return sandchesterr.ToStatus(sandchesterr.NotFoundf("guestagent: get_file: %s: %v", path, err))
	}
	defer f.Close()

	buf := make([]byte, getFileChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if sendErr := stream.Send(&pb.GetFileChunk{Data: data}); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return stream.Send(&pb.GetFileChunk{Done: true})
		}
		if err != nil {
			return sandchesterr.ToStatus(sandchesterr.WrapInternal(err, "guestagent: get_file: read"))
		}
	}
}

func (s *Server) ListFiles(ctx context.Context, req *pb.ListFilesRequest) (*pb.ListFilesResponse, error) {
	path := resolvePath(req.Path)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, sandchesterr.ToStatus(sandchesterr.NotFoundf("guestagent: list_files: %s: %v", path, err))
	}

	out := make([]pb.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, pb.FileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return &pb.ListFilesResponse{Entries: out}, nil
}

func (s *Server) Shutdown(ctx context.Context, req *pb.ShutdownRequest) (*pb.Empty, error) {
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
	return &pb.Empty{}, nil
}

func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join("/", path)
}
