package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandchest/pkg/client"
)

var (
	nodeAddr string
	tlsCert  string
	tlsKey   string
	tlsCA    string
)

var rootCmd = &cobra.Command{
	Use:   "sandchestctl",
	Short: "Sandchest CLI - manage microVM sandboxes on a node",
	Long: `sandchestctl talks to a Sandchest node's gRPC surface.

It provides commands to create, fork, and destroy sandboxes, execute
commands, drive interactive shell sessions, and transfer files.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "addr", getEnvOrDefault("SANDCHEST_ADDR", "localhost:50051"), "node gRPC address")
	rootCmd.PersistentFlags().StringVar(&tlsCert, "cert", os.Getenv("SANDCHEST_CERT"), "client certificate for mTLS")
	rootCmd.PersistentFlags().StringVar(&tlsKey, "key", os.Getenv("SANDCHEST_KEY"), "client key for mTLS")
	rootCmd.PersistentFlags().StringVar(&tlsCA, "ca", os.Getenv("SANDCHEST_CA"), "CA certificate for mTLS")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func newClient() (*client.Client, error) {
	return client.Dial(nodeAddr, client.TLSFiles{Cert: tlsCert, Key: tlsKey, CA: tlsCA})
}
