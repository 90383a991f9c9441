// sandchest-node is the host-side daemon: it supervises Firecracker
// microVM sandboxes (cold boot, warm start, live fork, destroy), plumbs
// their networking, serves the Node RPC surface to the control plane,
// and streams lifecycle events and heartbeats outbound.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opensandbox/sandchest/internal/agentclient"
	"github.com/opensandbox/sandchest/internal/artifacts"
	"github.com/opensandbox/sandchest/internal/config"
	"github.com/opensandbox/sandchest/internal/eventchannel"
	"github.com/opensandbox/sandchest/internal/heartbeat"
	"github.com/opensandbox/sandchest/internal/metrics"
	"github.com/opensandbox/sandchest/internal/nodeserver"
	"github.com/opensandbox/sandchest/internal/sandboxmanager"
	sandchestproto "github.com/opensandbox/sandchest/proto"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("node: failed to load config: %v", err)
	}

	log.Printf("sandchest-node: starting (id=%s, data_dir=%s)", cfg.NodeID, cfg.DataDir)

	for _, dir := range []string{cfg.SandboxesDir(), cfg.SnapshotsDir(), cfg.ImagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("node: create %s: %v", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbound event stream to the control plane, when one is
	// configured. Without it no channel is created: the event sinks stay
	// nil, lifecycle and exec events are dropped, and no heartbeat runs.
	var events *eventchannel.Channel
	if cfg.ControlPlaneURL != "" {
		creds, err := clientCredentials(cfg)
		if err != nil {
			log.Fatalf("node: control plane TLS: %v", err)
		}
		cc, err := grpc.NewClient(cfg.ControlPlaneURL,
			grpc.WithTransportCredentials(creds),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(sandchestproto.Codec())),
		)
		if err != nil {
			log.Fatalf("node: control plane client: %v", err)
		}
		defer cc.Close()
		events = eventchannel.New(cc)
		events.Start(ctx)
		defer events.Stop()
		log.Printf("sandchest-node: event stream target %s", cfg.ControlPlaneURL)
	}

	var sink sandboxmanager.EventSink
	if events != nil {
		sink = events
	}

	mgr := sandboxmanager.New(cfg, sink)
	router := agentclient.NewRouter(mgr.Status)
	mgr.SetRouter(router)

	var uploader *artifacts.Uploader
	s3cfg := artifacts.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}
	if s3cfg.Enabled() {
		uploader, err = artifacts.New(s3cfg)
		if err != nil {
			log.Fatalf("node: artifact uploader: %v", err)
		}
		log.Printf("sandchest-node: artifact uploads to s3://%s", cfg.S3Bucket)
	}

	if events != nil {
		hb := heartbeat.NewDriver(heartbeat.Source{
			NodeID:            cfg.NodeID,
			DataDir:           cfg.DataDir,
			SnapshotsDir:      cfg.SnapshotsDir(),
			RunningSandboxIDs: mgr.RunningSandboxIDs,
			SlotsUsed:         mgr.SlotsUsed,
		}, events)
		go hb.Run(ctx)
	}

	go func() {
		metricsAddr := ":9091"
		log.Printf("sandchest-node: metrics on %s/metrics", metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("node: metrics server: %v", err)
		}
	}()

	serverCreds, err := serverCredentials(cfg)
	if err != nil {
		log.Fatalf("node: server TLS: %v", err)
	}

	var nodeSink nodeserver.EventSink
	if events != nil {
		nodeSink = events
	}
	srv := nodeserver.New(cfg.NodeID, mgr, router, nodeSink, uploader, serverCreds)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.GRPCPort))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Printf("sandchest-node: received %v, shutting down", sig)
		cancel()
		srv.Stop()
	case err := <-errCh:
		// Bind or serve failure: exit non-zero.
		log.Fatalf("node: grpc server: %v", err)
	}
}

// serverCredentials builds the inbound listener's TLS credentials from
// GRPC_CERT/GRPC_KEY/GRPC_CA. All three present means mutual TLS;
// cert+key alone means plain server TLS; none means plaintext (dev).
func serverCredentials(cfg *config.Config) (credentials.TransportCredentials, error) {
	if cfg.GRPCCert == "" || cfg.GRPCKey == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.GRPCCert, cfg.GRPCKey)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if cfg.GRPCCA != "" {
		pool, err := loadCertPool(cfg.GRPCCA)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(tlsCfg), nil
}

// clientCredentials builds the outbound control-plane dial credentials.
// The same GRPC_CERT/GRPC_KEY pair identifies this node to the control
// plane when mTLS is configured; with no CA configured the stream runs
// plaintext (dev).
func clientCredentials(cfg *config.Config) (credentials.TransportCredentials, error) {
	if cfg.GRPCCA == "" {
		return insecure.NewCredentials(), nil
	}
	pool, err := loadCertPool(cfg.GRPCCA)
	if err != nil {
		return nil, err
	}
	tlsCfg := &tls.Config{RootCAs: pool}
	if cfg.GRPCCert != "" && cfg.GRPCKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.GRPCCert, cfg.GRPCKey)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(tlsCfg), nil
}

func loadCertPool(caPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", caPath)
	}
	return pool, nil
}
