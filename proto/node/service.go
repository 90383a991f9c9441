package node

import (
	"context"

	"google.golang.org/grpc"

	// Registers the wire codec these message types are marshaled with.
	_ "github.com/opensandbox/sandchest/proto"
)

// ServiceName is the Node RPC surface a control plane (or sandchestctl)
// dials directly.
const ServiceName = "sandchest.node.Node"

// EventStreamServiceName is the Node<->Control bidirectional event
// stream, always dialed outbound by the node process.
const EventStreamServiceName = "sandchest.node.NodeEvents"

type NodeClient interface {
	CreateSandbox(ctx context.Context, in *CreateSandboxRequest, opts ...grpc.CallOption) (*SandboxResponse, error)
	CreateSandboxFromSnapshot(ctx context.Context, in *CreateSandboxFromSnapshotRequest, opts ...grpc.CallOption) (*SandboxResponse, error)
	ForkSandbox(ctx context.Context, in *ForkSandboxRequest, opts ...grpc.CallOption) (*SandboxResponse, error)
	StopSandbox(ctx context.Context, in *StopSandboxRequest, opts ...grpc.CallOption) (*Empty, error)
	DestroySandbox(ctx context.Context, in *DestroySandboxRequest, opts ...grpc.CallOption) (*Empty, error)
	Exec(ctx context.Context, in *ExecRequest, opts ...grpc.CallOption) (Node_ExecClient, error)
	CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error)
	SessionExec(ctx context.Context, in *SessionExecRequest, opts ...grpc.CallOption) (*SessionExecResponse, error)
	SessionInput(ctx context.Context, in *SessionInputRequest, opts ...grpc.CallOption) (*Empty, error)
	DestroySession(ctx context.Context, in *DestroySessionRequest, opts ...grpc.CallOption) (*Empty, error)
	PutFile(ctx context.Context, opts ...grpc.CallOption) (Node_PutFileClient, error)
	GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (Node_GetFileClient, error)
	ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error)
	CollectArtifacts(ctx context.Context, in *CollectArtifactsRequest, opts ...grpc.CallOption) (*CollectArtifactsResponse, error)
}

type nodeClient struct {
	cc grpc.ClientConnInterface
}

func NewNodeClient(cc grpc.ClientConnInterface) NodeClient {
	return &nodeClient{cc: cc}
}

func (c *nodeClient) CreateSandbox(ctx context.Context, in *CreateSandboxRequest, opts ...grpc.CallOption) (*SandboxResponse, error) {
	out := new(SandboxResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CreateSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) CreateSandboxFromSnapshot(ctx context.Context, in *CreateSandboxFromSnapshotRequest, opts ...grpc.CallOption) (*SandboxResponse, error) {
	out := new(SandboxResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CreateSandboxFromSnapshot", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) ForkSandbox(ctx context.Context, in *ForkSandboxRequest, opts ...grpc.CallOption) (*SandboxResponse, error) {
	out := new(SandboxResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ForkSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) StopSandbox(ctx context.Context, in *StopSandboxRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/StopSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) DestroySandbox(ctx context.Context, in *DestroySandboxRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/DestroySandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type Node_ExecClient interface {
	Recv() (*ExecEvent, error)
	grpc.ClientStream
}

func (c *nodeClient) Exec(ctx context.Context, in *ExecRequest, opts ...grpc.CallOption) (Node_ExecClient, error) {
	stream, err := c.cc.NewStream(ctx, &nodeServiceDesc.Streams[0], "/"+ServiceName+"/Exec", opts...)
	if err != nil {
		return nil, err
	}
	x := &nodeExecClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type nodeExecClient struct {
	grpc.ClientStream
}

func (x *nodeExecClient) Recv() (*ExecEvent, error) {
	m := new(ExecEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *nodeClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	out := new(CreateSessionResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CreateSession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) SessionExec(ctx context.Context, in *SessionExecRequest, opts ...grpc.CallOption) (*SessionExecResponse, error) {
	out := new(SessionExecResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SessionExec", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) SessionInput(ctx context.Context, in *SessionInputRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SessionInput", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) DestroySession(ctx context.Context, in *DestroySessionRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/DestroySession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type Node_PutFileClient interface {
	Send(*PutFileChunk) error
	CloseAndRecv() (*Empty, error)
	grpc.ClientStream
}

func (c *nodeClient) PutFile(ctx context.Context, opts ...grpc.CallOption) (Node_PutFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &nodeServiceDesc.Streams[1], "/"+ServiceName+"/PutFile", opts...)
	if err != nil {
		return nil, err
	}
	return &nodePutFileClient{stream}, nil
}

type nodePutFileClient struct {
	grpc.ClientStream
}

func (x *nodePutFileClient) Send(m *PutFileChunk) error {
	return x.ClientStream.SendMsg(m)
}

func (x *nodePutFileClient) CloseAndRecv() (*Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type Node_GetFileClient interface {
	Recv() (*GetFileChunk, error)
	grpc.ClientStream
}

func (c *nodeClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (Node_GetFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &nodeServiceDesc.Streams[2], "/"+ServiceName+"/GetFile", opts...)
	if err != nil {
		return nil, err
	}
	x := &nodeGetFileClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type nodeGetFileClient struct {
	grpc.ClientStream
}

func (x *nodeGetFileClient) Recv() (*GetFileChunk, error) {
	m := new(GetFileChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *nodeClient) ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	out := new(ListFilesResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListFiles", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) CollectArtifacts(ctx context.Context, in *CollectArtifactsRequest, opts ...grpc.CallOption) (*CollectArtifactsResponse, error) {
	out := new(CollectArtifactsResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CollectArtifacts", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NodeServer is implemented by the node process (internal/sandboxmanager
// wired up through cmd/node).
type NodeServer interface {
	CreateSandbox(context.Context, *CreateSandboxRequest) (*SandboxResponse, error)
	CreateSandboxFromSnapshot(context.Context, *CreateSandboxFromSnapshotRequest) (*SandboxResponse, error)
	ForkSandbox(context.Context, *ForkSandboxRequest) (*SandboxResponse, error)
	StopSandbox(context.Context, *StopSandboxRequest) (*Empty, error)
	DestroySandbox(context.Context, *DestroySandboxRequest) (*Empty, error)
	Exec(*ExecRequest, Node_ExecServer) error
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	SessionExec(context.Context, *SessionExecRequest) (*SessionExecResponse, error)
	SessionInput(context.Context, *SessionInputRequest) (*Empty, error)
	DestroySession(context.Context, *DestroySessionRequest) (*Empty, error)
	PutFile(Node_PutFileServer) error
	GetFile(*GetFileRequest, Node_GetFileServer) error
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	CollectArtifacts(context.Context, *CollectArtifactsRequest) (*CollectArtifactsResponse, error)
}

type Node_ExecServer interface {
	Send(*ExecEvent) error
	grpc.ServerStream
}

type nodeExecServer struct{ grpc.ServerStream }

func (x *nodeExecServer) Send(m *ExecEvent) error { return x.ServerStream.SendMsg(m) }

type Node_PutFileServer interface {
	Recv() (*PutFileChunk, error)
	SendAndClose(*Empty) error
	grpc.ServerStream
}

type nodePutFileServer struct{ grpc.ServerStream }

func (x *nodePutFileServer) Recv() (*PutFileChunk, error) {
	m := new(PutFileChunk)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *nodePutFileServer) SendAndClose(m *Empty) error { return x.ServerStream.SendMsg(m) }

type Node_GetFileServer interface {
	Send(*GetFileChunk) error
	grpc.ServerStream
}

type nodeGetFileServer struct{ grpc.ServerStream }

func (x *nodeGetFileServer) Send(m *GetFileChunk) error { return x.ServerStream.SendMsg(m) }

func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&nodeServiceDesc, srv)
}

func unaryHandler(full string, newReq func() interface{}, call func(context.Context, interface{}, interface{}) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, srv, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, srv, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

func handleCreateSandbox(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/CreateSandbox", func() interface{} { return new(CreateSandboxRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).CreateSandbox(ctx, req.(*CreateSandboxRequest))
		})(srv, ctx, dec, interceptor)
}

func handleCreateSandboxFromSnapshot(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/CreateSandboxFromSnapshot", func() interface{} { return new(CreateSandboxFromSnapshotRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).CreateSandboxFromSnapshot(ctx, req.(*CreateSandboxFromSnapshotRequest))
		})(srv, ctx, dec, interceptor)
}

func handleForkSandbox(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/ForkSandbox", func() interface{} { return new(ForkSandboxRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).ForkSandbox(ctx, req.(*ForkSandboxRequest))
		})(srv, ctx, dec, interceptor)
}

func handleStopSandbox(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/StopSandbox", func() interface{} { return new(StopSandboxRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).StopSandbox(ctx, req.(*StopSandboxRequest))
		})(srv, ctx, dec, interceptor)
}

func handleDestroySandbox(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/DestroySandbox", func() interface{} { return new(DestroySandboxRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).DestroySandbox(ctx, req.(*DestroySandboxRequest))
		})(srv, ctx, dec, interceptor)
}

func handleCreateSession(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/CreateSession", func() interface{} { return new(CreateSessionRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).CreateSession(ctx, req.(*CreateSessionRequest))
		})(srv, ctx, dec, interceptor)
}

func handleSessionExec(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/SessionExec", func() interface{} { return new(SessionExecRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).SessionExec(ctx, req.(*SessionExecRequest))
		})(srv, ctx, dec, interceptor)
}

func handleSessionInput(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/SessionInput", func() interface{} { return new(SessionInputRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).SessionInput(ctx, req.(*SessionInputRequest))
		})(srv, ctx, dec, interceptor)
}

func handleDestroySession(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/DestroySession", func() interface{} { return new(DestroySessionRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).DestroySession(ctx, req.(*DestroySessionRequest))
		})(srv, ctx, dec, interceptor)
}

func handleListFiles(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/ListFiles", func() interface{} { return new(ListFilesRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).ListFiles(ctx, req.(*ListFilesRequest))
		})(srv, ctx, dec, interceptor)
}

func handleCollectArtifacts(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler("/"+ServiceName+"/CollectArtifacts", func() interface{} { return new(CollectArtifactsRequest) },
		func(ctx context.Context, srv interface{}, req interface{}) (interface{}, error) {
			return srv.(NodeServer).CollectArtifacts(ctx, req.(*CollectArtifactsRequest))
		})(srv, ctx, dec, interceptor)
}

func handleExec(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServer).Exec(m, &nodeExecServer{stream})
}

func handlePutFile(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeServer).PutFile(&nodePutFileServer{stream})
}

func handleGetFile(srv interface{}, stream grpc.ServerStream) error {
	m := new(GetFileRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServer).GetFile(m, &nodeGetFileServer{stream})
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSandbox", Handler: handleCreateSandbox},
		{MethodName: "CreateSandboxFromSnapshot", Handler: handleCreateSandboxFromSnapshot},
		{MethodName: "ForkSandbox", Handler: handleForkSandbox},
		{MethodName: "StopSandbox", Handler: handleStopSandbox},
		{MethodName: "DestroySandbox", Handler: handleDestroySandbox},
		{MethodName: "CreateSession", Handler: handleCreateSession},
		{MethodName: "SessionExec", Handler: handleSessionExec},
		{MethodName: "SessionInput", Handler: handleSessionInput},
		{MethodName: "DestroySession", Handler: handleDestroySession},
		{MethodName: "ListFiles", Handler: handleListFiles},
		{MethodName: "CollectArtifacts", Handler: handleCollectArtifacts},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Exec", Handler: handleExec, ServerStreams: true},
		{StreamName: "PutFile", Handler: handlePutFile, ClientStreams: true},
		{StreamName: "GetFile", Handler: handleGetFile, ServerStreams: true},
	},
	Metadata: "sandchest/node.proto",
}

// NodeEventsClient is the outbound half of the Node<->Control event
// stream: the node process dials out and opens one long-lived
// bidirectional stream, per EventChannel's reconnect contract.
type NodeEventsClient interface {
	Events(ctx context.Context, opts ...grpc.CallOption) (NodeEvents_EventsClient, error)
}

type NodeEvents_EventsClient interface {
	Send(*NodeToControl) error
	Recv() (*ControlToNode, error)
	grpc.ClientStream
}

type nodeEventsClient struct {
	cc grpc.ClientConnInterface
}

func NewNodeEventsClient(cc grpc.ClientConnInterface) NodeEventsClient {
	return &nodeEventsClient{cc: cc}
}

func (c *nodeEventsClient) Events(ctx context.Context, opts ...grpc.CallOption) (NodeEvents_EventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &nodeEventsServiceDesc.Streams[0], "/"+EventStreamServiceName+"/Events", opts...)
	if err != nil {
		return nil, err
	}
	return &nodeEventsEventsClient{stream}, nil
}

type nodeEventsEventsClient struct {
	grpc.ClientStream
}

func (x *nodeEventsEventsClient) Send(m *NodeToControl) error {
	return x.ClientStream.SendMsg(m)
}

func (x *nodeEventsEventsClient) Recv() (*ControlToNode, error) {
	m := new(ControlToNode)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NodeEventsServer is implemented by the control plane's receiving
// side; the node is always the dialer, so sandchest itself never
// registers this, but it is kept here so a test double (or a future
// in-tree control plane) can implement the same contract.
type NodeEventsServer interface {
	Events(NodeEvents_EventsServer) error
}

type NodeEvents_EventsServer interface {
	Send(*ControlToNode) error
	Recv() (*NodeToControl, error)
	grpc.ServerStream
}

type nodeEventsEventsServer struct {
	grpc.ServerStream
}

func (x *nodeEventsEventsServer) Send(m *ControlToNode) error { return x.ServerStream.SendMsg(m) }

func (x *nodeEventsEventsServer) Recv() (*NodeToControl, error) {
	m := new(NodeToControl)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func RegisterNodeEventsServer(s grpc.ServiceRegistrar, srv NodeEventsServer) {
	s.RegisterService(&nodeEventsServiceDesc, srv)
}

func handleEvents(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeEventsServer).Events(&nodeEventsEventsServer{stream})
}

var nodeEventsServiceDesc = grpc.ServiceDesc{
	ServiceName: EventStreamServiceName,
	HandlerType: (*NodeEventsServer)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: handleEvents, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "sandchest/node_events.proto",
}
