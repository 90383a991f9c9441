package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandchest/pkg/types"
	pb "github.com/opensandbox/sandchest/proto/node"
)

var (
	execCwd     string
	execTimeout int
	execEnv     []string
	execID      string
)

var execCmd = &cobra.Command{
	Use:   "exec <sandbox-id> <command> [args...]",
	Short: "Execute a command in a sandbox and stream its output",
	Long: `Execute a command in a running sandbox, streaming stdout and stderr
as they arrive. Example: sandchestctl exec sb_abc123 ls -la /workspace`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExec(&pb.ExecRequest{
			SandboxID:      args[0],
			ExecID:         execID,
			Cmd:            args[1:],
			Cwd:            execCwd,
			Env:            parseEnv(execEnv),
			TimeoutSeconds: execTimeout,
		})
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell <sandbox-id> <command>",
	Short: "Execute a shell command (via /bin/sh -c) in a sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExec(&pb.ExecRequest{
			SandboxID:      args[0],
			ExecID:         execID,
			ShellCmd:       args[1],
			Cwd:            execCwd,
			Env:            parseEnv(execEnv),
			TimeoutSeconds: execTimeout,
		})
	},
}

func runExec(req *pb.ExecRequest) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCode := 0
	err = c.Exec(ctx, req, func(ev types.ExecEvent) {
		switch ev.Kind {
		case types.ExecEventStdout:
			os.Stdout.Write(ev.Stdout)
		case types.ExecEventStderr:
			os.Stderr.Write(ev.Stderr)
		case types.ExecEventExit:
			exitCode = ev.Exit.ExitCode
		}
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("command exited with code %d", exitCode)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{execCmd, shellCmd} {
		c.Flags().StringVar(&execCwd, "cwd", "", "working directory inside the sandbox")
		c.Flags().IntVar(&execTimeout, "timeout", 0, "wall-clock timeout in seconds (0 = none)")
		c.Flags().StringArrayVar(&execEnv, "env", nil, "KEY=VALUE environment entries")
		c.Flags().StringVar(&execID, "exec-id", "", "exec id for event correlation")
	}
	rootCmd.AddCommand(execCmd, shellCmd)
}
