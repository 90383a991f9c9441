package nodeserver

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/opensandbox/sandchest/internal/agentclient"
	"github.com/opensandbox/sandchest/internal/config"
	"github.com/opensandbox/sandchest/internal/sandboxmanager"
	pb "github.com/opensandbox/sandchest/proto/node"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{NodeID: "node-test", DataDir: t.TempDir()}
	mgr := sandboxmanager.New(cfg, nil)
	router := agentclient.NewRouter(mgr.Status)
	mgr.SetRouter(router)
	return New(cfg.NodeID, mgr, router, nil, nil, nil)
}

type fakeExecStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent []*pb.ExecEvent
}

func (s *fakeExecStream) Context() context.Context { return s.ctx }
func (s *fakeExecStream) Send(ev *pb.ExecEvent) error {
	s.sent = append(s.sent, ev)
	return nil
}

type fakePutFileStream struct {
	grpc.ServerStream
	ctx    context.Context
	chunks []*pb.PutFileChunk
	pos    int
}

func (s *fakePutFileStream) Context() context.Context { return s.ctx }
func (s *fakePutFileStream) Recv() (*pb.PutFileChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}
func (s *fakePutFileStream) SendAndClose(*pb.Empty) error { return nil }

func TestExecUnknownSandboxIsNotFound(t *testing.T) {
	s := testServer(t)
	err := s.Exec(&pb.ExecRequest{SandboxID: "sb_missing", ShellCmd: "true"}, &fakeExecStream{ctx: context.Background()})
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestExecMintsExecID(t *testing.T) {
	s := testServer(t)
	req := &pb.ExecRequest{SandboxID: "sb_missing", ShellCmd: "true"}
	_ = s.Exec(req, &fakeExecStream{ctx: context.Background()})
	require.NotEmpty(t, req.ExecID)
	require.Contains(t, req.ExecID, "ex_")
}

func TestPutFileFirstChunkValidation(t *testing.T) {
	s := testServer(t)

	err := s.PutFile(&fakePutFileStream{ctx: context.Background()})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	err = s.PutFile(&fakePutFileStream{
		ctx:    context.Background(),
		chunks: []*pb.PutFileChunk{{Data: []byte("x"), Done: true}},
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSessionOpsRequireTrackedSandbox(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, &pb.CreateSessionRequest{SandboxID: "sb_missing"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.SessionExec(ctx, &pb.SessionExecRequest{SandboxID: "sb_missing", SessionID: "sess_0001", Cmd: "true"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.DestroySession(ctx, &pb.DestroySessionRequest{SandboxID: "sb_missing", SessionID: "sess_0001"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestDestroySandboxIdempotentOverRPC(t *testing.T) {
	s := testServer(t)
	_, err := s.DestroySandbox(context.Background(), &pb.DestroySandboxRequest{SandboxID: "sb_never_existed"})
	require.NoError(t, err)
}

func TestCollectArtifactsRequiresRunningSandbox(t *testing.T) {
	s := testServer(t)
	_, err := s.CollectArtifacts(context.Background(), &pb.CollectArtifactsRequest{SandboxID: "sb_missing", Paths: []string{"/out"}})
	require.Equal(t, codes.NotFound, status.Code(err))
}
