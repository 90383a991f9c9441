package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandchest/pkg/client"
	pb "github.com/opensandbox/sandchest/proto/node"
)

var (
	createCPU    int
	createMemMB  int
	createKernel string
	createRootfs string
	createEnv    []string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage sandbox lifecycle",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create <sandbox-id>",
	Short: "Cold-boot a new sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		resp, err := c.CreateSandbox(ctx, &pb.CreateSandboxRequest{
			SandboxID: args[0],
			KernelRef: createKernel,
			RootfsRef: createRootfs,
			CpuCores:  createCPU,
			MemoryMB:  createMemMB,
			Env:       parseEnv(createEnv),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (boot %dms)\n", resp.SandboxID, resp.Status, resp.BootDurationMs)
		return nil
	},
}

var sandboxFromSnapshotCmd = &cobra.Command{
	Use:   "restore <sandbox-id> <snapshot-ref>",
	Short: "Warm-start a sandbox from a saved snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		resp, err := c.CreateSandboxFromSnapshot(ctx, &pb.CreateSandboxFromSnapshotRequest{
			SandboxID:   args[0],
			SnapshotRef: args[1],
			Env:         parseEnv(createEnv),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (boot %dms)\n", resp.SandboxID, resp.Status, resp.BootDurationMs)
		return nil
	},
}

var sandboxForkCmd = &cobra.Command{
	Use:   "fork <parent-sandbox-id> <child-sandbox-id>",
	Short: "Live-fork a running sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		resp, err := c.ForkSandbox(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (boot %dms)\n", resp.SandboxID, resp.Status, resp.BootDurationMs)
		return nil
	},
}

var sandboxStopCmd = &cobra.Command{
	Use:   "stop <sandbox-id>",
	Short: "Stop a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := client.WithTimeout(context.Background())
		defer cancel()
		if err := c.StopSandbox(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s stopped\n", args[0])
		return nil
	},
}

var sandboxDestroyCmd = &cobra.Command{
	Use:   "destroy <sandbox-id>",
	Short: "Destroy a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := client.WithTimeout(context.Background())
		defer cancel()
		if err := c.DestroySandbox(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s destroyed\n", args[0])
		return nil
	},
}

func parseEnv(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if k, v, ok := strings.Cut(p, "="); ok {
			env[k] = v
		}
	}
	return env
}

func init() {
	sandboxCreateCmd.Flags().IntVar(&createCPU, "cpu", 2, "vCPU count")
	sandboxCreateCmd.Flags().IntVar(&createMemMB, "memory", 4096, "memory in MiB")
	sandboxCreateCmd.Flags().StringVar(&createKernel, "kernel", "", "kernel image reference")
	sandboxCreateCmd.Flags().StringVar(&createRootfs, "rootfs", "", "base rootfs image reference")
	sandboxCreateCmd.Flags().StringArrayVar(&createEnv, "env", nil, "KEY=VALUE environment entries")
	sandboxFromSnapshotCmd.Flags().StringArrayVar(&createEnv, "env", nil, "KEY=VALUE environment entries")

	sandboxCmd.AddCommand(sandboxCreateCmd, sandboxFromSnapshotCmd, sandboxForkCmd, sandboxStopCmd, sandboxDestroyCmd)
	rootCmd.AddCommand(sandboxCmd)
}
