// Package config loads the Node process's configuration once at
// startup from environment variables: a flat struct with grouped
// fields, a Load() function, defaults applied inline.
package config

import (
	"os"
	"strconv"
)

// Config holds everything a Node process needs, constructed once in
// cmd/node and passed down explicitly; no package reads the
// environment after startup.
type Config struct {
	NodeID          string
	GRPCPort        int
	DataDir         string
	KernelPath      string
	ControlPlaneURL string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	GRPCCert string
	GRPCKey  string
	GRPCCA   string

	Jailer JailerConfig

	AgentDev       bool
	AgentDevPort   int
	AgentVsockPort int

	OutboundIface string
	BandwidthMbps int
}

// JailerConfig mirrors the JAILER_* environment variables.
type JailerConfig struct {
	Enabled       bool
	Binary        string
	ChrootBaseDir string
	UID           int
	GID           int
	CgroupVersion int
	SeccompFilter string
	NewPidNS      bool
}

// Load reads configuration from environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		NodeID:          envOrDefault("NODE_ID", "node-local"),
		GRPCPort:        envOrDefaultInt("GRPC_PORT", 50051),
		DataDir:         envOrDefault("DATA_DIR", "/var/sandchest"),
		KernelPath:      os.Getenv("KERNEL_PATH"),
		ControlPlaneURL: os.Getenv("CONTROL_PLANE_URL"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),

		GRPCCert: os.Getenv("GRPC_CERT"),
		GRPCKey:  os.Getenv("GRPC_KEY"),
		GRPCCA:   os.Getenv("GRPC_CA"),

		Jailer: JailerConfig{
			Enabled:       envOrDefaultBool("JAILER_ENABLED", false),
			Binary:        envOrDefault("JAILER_BINARY", "jailer"),
			ChrootBaseDir: envOrDefault("JAILER_CHROOT_BASE_DIR", "/srv/jailer"),
			UID:           envOrDefaultInt("JAILER_UID", 10000),
			GID:           envOrDefaultInt("JAILER_GID", 10000),
			CgroupVersion: envOrDefaultInt("JAILER_CGROUP_VERSION", 2),
			SeccompFilter: os.Getenv("JAILER_SECCOMP_FILTER"),
			NewPidNS:      envOrDefaultBool("JAILER_NEW_PID_NS", false),
		},

		AgentDev:       os.Getenv("AGENT_DEV") == "1",
		AgentDevPort:   envOrDefaultInt("AGENT_DEV_PORT", 50052),
		AgentVsockPort: envOrDefaultInt("AGENT_VSOCK_PORT", 52),

		OutboundIface: envOrDefault("OUTBOUND_IFACE", "eth0"),
		BandwidthMbps: envOrDefaultInt("BANDWIDTH_MBPS", 100),
	}

	if cfg.KernelPath == "" {
		cfg.KernelPath = cfg.DataDir + "/images/vmlinux"
	}

	return cfg, nil
}

// SandboxesDir is the per-sandbox working directory root.
func (c *Config) SandboxesDir() string { return c.DataDir + "/sandboxes" }

// SnapshotsDir is the snapshot archive root.
func (c *Config) SnapshotsDir() string { return c.DataDir + "/snapshots" }

// ImagesDir is the base rootfs image root.
func (c *Config) ImagesDir() string { return c.DataDir + "/images" }

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}
