package agent

import (
	"context"

	"google.golang.org/grpc"

	// Registers the wire codec these message types are marshaled with.
	_ "github.com/opensandbox/sandchest/proto"
)

// ServiceName is the fully qualified gRPC service name, matching the
// path protoc-gen-go-grpc would have generated from a
// "sandchest.agent.GuestAgent" service declaration.
const ServiceName = "sandchest.agent.GuestAgent"

// GuestAgentClient is the guest-side RPC surface a node dials over
// vsock (production) or a UDS/TCP relay (dev).
type GuestAgentClient interface {
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
	Exec(ctx context.Context, in *ExecRequest, opts ...grpc.CallOption) (GuestAgent_ExecClient, error)
	CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error)
	SessionExec(ctx context.Context, in *SessionExecRequest, opts ...grpc.CallOption) (*SessionExecResponse, error)
	SessionInput(ctx context.Context, in *SessionInputRequest, opts ...grpc.CallOption) (*Empty, error)
	DestroySession(ctx context.Context, in *DestroySessionRequest, opts ...grpc.CallOption) (*Empty, error)
	PutFile(ctx context.Context, opts ...grpc.CallOption) (GuestAgent_PutFileClient, error)
	GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (GuestAgent_GetFileClient, error)
	ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error)
	Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*Empty, error)
}

type guestAgentClient struct {
	cc grpc.ClientConnInterface
}

func NewGuestAgentClient(cc grpc.ClientConnInterface) GuestAgentClient {
	return &guestAgentClient{cc: cc}
}

func (c *guestAgentClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Health", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GuestAgent_ExecClient interface {
	Recv() (*ExecEvent, error)
	grpc.ClientStream
}

func (c *guestAgentClient) Exec(ctx context.Context, in *ExecRequest, opts ...grpc.CallOption) (GuestAgent_ExecClient, error) {
	stream, err := c.cc.NewStream(ctx, &guestAgentServiceDesc.Streams[0], "/"+ServiceName+"/Exec", opts...)
	if err != nil {
		return nil, err
	}
	x := &guestAgentExecClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type guestAgentExecClient struct {
	grpc.ClientStream
}

func (x *guestAgentExecClient) Recv() (*ExecEvent, error) {
	m := new(ExecEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *guestAgentClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	out := new(CreateSessionResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CreateSession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *guestAgentClient) SessionExec(ctx context.Context, in *SessionExecRequest, opts ...grpc.CallOption) (*SessionExecResponse, error) {
	out := new(SessionExecResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SessionExec", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *guestAgentClient) SessionInput(ctx context.Context, in *SessionInputRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SessionInput", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *guestAgentClient) DestroySession(ctx context.Context, in *DestroySessionRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/DestroySession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GuestAgent_PutFileClient interface {
	Send(*PutFileChunk) error
	CloseAndRecv() (*Empty, error)
	grpc.ClientStream
}

func (c *guestAgentClient) PutFile(ctx context.Context, opts ...grpc.CallOption) (GuestAgent_PutFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &guestAgentServiceDesc.Streams[1], "/"+ServiceName+"/PutFile", opts...)
	if err != nil {
		return nil, err
	}
	return &guestAgentPutFileClient{stream}, nil
}

type guestAgentPutFileClient struct {
	grpc.ClientStream
}

func (x *guestAgentPutFileClient) Send(m *PutFileChunk) error {
	return x.ClientStream.SendMsg(m)
}

func (x *guestAgentPutFileClient) CloseAndRecv() (*Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type GuestAgent_GetFileClient interface {
	Recv() (*GetFileChunk, error)
	grpc.ClientStream
}

func (c *guestAgentClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (GuestAgent_GetFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &guestAgentServiceDesc.Streams[2], "/"+ServiceName+"/GetFile", opts...)
	if err != nil {
		return nil, err
	}
	x := &guestAgentGetFileClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type guestAgentGetFileClient struct {
	grpc.ClientStream
}

func (x *guestAgentGetFileClient) Recv() (*GetFileChunk, error) {
	m := new(GetFileChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *guestAgentClient) ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	out := new(ListFilesResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListFiles", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *guestAgentClient) Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Shutdown", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GuestAgentServer is the interface the in-guest agent process
// implements; cmd/agent registers a concrete implementation with
// RegisterGuestAgentServer.
type GuestAgentServer interface {
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	Exec(*ExecRequest, GuestAgent_ExecServer) error
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	SessionExec(context.Context, *SessionExecRequest) (*SessionExecResponse, error)
	SessionInput(context.Context, *SessionInputRequest) (*Empty, error)
	DestroySession(context.Context, *DestroySessionRequest) (*Empty, error)
	PutFile(GuestAgent_PutFileServer) error
	GetFile(*GetFileRequest, GuestAgent_GetFileServer) error
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	Shutdown(context.Context, *ShutdownRequest) (*Empty, error)
}

type GuestAgent_ExecServer interface {
	Send(*ExecEvent) error
	grpc.ServerStream
}

type guestAgentExecServer struct {
	grpc.ServerStream
}

func (x *guestAgentExecServer) Send(m *ExecEvent) error {
	return x.ServerStream.SendMsg(m)
}

type GuestAgent_PutFileServer interface {
	Recv() (*PutFileChunk, error)
	SendAndClose(*Empty) error
	grpc.ServerStream
}

type guestAgentPutFileServer struct {
	grpc.ServerStream
}

func (x *guestAgentPutFileServer) Recv() (*PutFileChunk, error) {
	m := new(PutFileChunk)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *guestAgentPutFileServer) SendAndClose(m *Empty) error {
	return x.ServerStream.SendMsg(m)
}

type GuestAgent_GetFileServer interface {
	Send(*GetFileChunk) error
	grpc.ServerStream
}

type guestAgentGetFileServer struct {
	grpc.ServerStream
}

func (x *guestAgentGetFileServer) Send(m *GetFileChunk) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterGuestAgentServer(s grpc.ServiceRegistrar, srv GuestAgentServer) {
	s.RegisterService(&guestAgentServiceDesc, srv)
}

func handleHealth(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Health"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleExec(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(GuestAgentServer).Exec(m, &guestAgentExecServer{stream})
}

func handleCreateSession(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).CreateSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CreateSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).CreateSession(ctx, req.(*CreateSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleSessionExec(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SessionExecRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).SessionExec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SessionExec"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).SessionExec(ctx, req.(*SessionExecRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleSessionInput(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SessionInputRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).SessionInput(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SessionInput"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).SessionInput(ctx, req.(*SessionInputRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleDestroySession(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DestroySessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).DestroySession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DestroySession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).DestroySession(ctx, req.(*DestroySessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handlePutFile(srv interface{}, stream grpc.ServerStream) error {
	return srv.(GuestAgentServer).PutFile(&guestAgentPutFileServer{stream})
}

func handleGetFile(srv interface{}, stream grpc.ServerStream) error {
	m := new(GetFileRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(GuestAgentServer).GetFile(m, &guestAgentGetFileServer{stream})
}

func handleListFiles(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListFilesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).ListFiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListFiles"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).ListFiles(ctx, req.(*ListFilesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleShutdown(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuestAgentServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Shutdown"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuestAgentServer).Shutdown(ctx, req.(*ShutdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var guestAgentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GuestAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: handleHealth},
		{MethodName: "CreateSession", Handler: handleCreateSession},
		{MethodName: "SessionExec", Handler: handleSessionExec},
		{MethodName: "SessionInput", Handler: handleSessionInput},
		{MethodName: "DestroySession", Handler: handleDestroySession},
		{MethodName: "ListFiles", Handler: handleListFiles},
		{MethodName: "Shutdown", Handler: handleShutdown},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Exec", Handler: handleExec, ServerStreams: true},
		{StreamName: "PutFile", Handler: handlePutFile, ClientStreams: true},
		{StreamName: "GetFile", Handler: handleGetFile, ServerStreams: true},
	},
	Metadata: "sandchest/agent.proto",
}
