// sandchest-agent is the Guest Agent that runs inside each Firecracker
// microVM. It serves gRPC over vsock (production) or TCP (AGENT_DEV=1)
// and handles exec, PTY sessions, and file transfer, while a
// background watcher detects post-snapshot restores and repairs guest
// state.
package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/opensandbox/sandchest/internal/guestagent"
	"github.com/opensandbox/sandchest/internal/guestagent/snapshotwatcher"
	sandchestproto "github.com/opensandbox/sandchest/proto"
	pb "github.com/opensandbox/sandchest/proto/agent"
	"google.golang.org/grpc"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Printf("sandchest-agent %s starting", version)

	lis, err := listen()
	if err != nil {
		log.Fatalf("agent: failed to listen: %v", err)
	}

	srv := guestagent.NewServer()

	watcher := snapshotwatcher.New(srv.Sessions())
	stop := make(chan struct{})
	go watcher.Run(stop)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(sandchestproto.Codec()))
	pb.RegisterGuestAgentServer(grpcServer, srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("agent: received %v, shutting down", sig)
		close(stop)
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("agent: serve failed: %v", err)
	}
}

// listen binds vsock port 52 unless AGENT_DEV=1, in which case it
// binds TCP on AGENT_DEV_PORT (default 50052).
func listen() (net.Listener, error) {
	if os.Getenv("AGENT_DEV") == "1" {
		port := envOrDefaultInt("AGENT_DEV_PORT", 50052)
		addr := "0.0.0.0:" + strconv.Itoa(port)
		log.Printf("agent: AGENT_DEV=1, listening on tcp %s", addr)
		return net.Listen("tcp", addr)
	}
	port := uint32(envOrDefaultInt("AGENT_VSOCK_PORT", 52))
	return listenVsock(port)
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
