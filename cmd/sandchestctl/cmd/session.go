package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sessionShell   string
	sessionTimeout int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage PTY-backed shell sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <sandbox-id>",
	Short: "Create a shell session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		id, err := c.CreateSession(ctx, args[0], sessionShell, nil)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var sessionExecCmd = &cobra.Command{
	Use:   "exec <sandbox-id> <session-id> <command>",
	Short: "Run one command in a session",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		resp, err := c.SessionExec(ctx, args[0], args[1], args[2], sessionTimeout)
		if err != nil {
			return err
		}
		fmt.Print(resp.Output)
		if resp.ExitCode != 0 {
			return fmt.Errorf("command exited with code %d", resp.ExitCode)
		}
		return nil
	},
}

var sessionDestroyCmd = &cobra.Command{
	Use:   "destroy <sandbox-id> <session-id>",
	Short: "Destroy a session and its process group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := c.DestroySession(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s destroyed\n", args[1])
		return nil
	},
}

var sessionAttachCmd = &cobra.Command{
	Use:   "attach <sandbox-id> [session-id]",
	Short: "Interactive shell: each line runs in the session",
	Long: `Attach an interactive line-oriented shell to a session. Each line you
enter is executed in the session's PTY and its output printed. With no
session id, a new session is created (and destroyed on exit).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sandboxID := args[0]
		sessionID := ""
		created := false
		if len(args) == 2 {
			sessionID = args[1]
		} else {
			sessionID, err = c.CreateSession(ctx, sandboxID, sessionShell, nil)
			if err != nil {
				return err
			}
			created = true
			fmt.Fprintf(os.Stderr, "session %s\n", sessionID)
		}
		if created {
			defer c.DestroySession(context.Background(), sandboxID, sessionID)
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("attach requires a terminal on stdin")
		}
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)

		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}, sandboxID+"$ ")

		for {
			line, err := t.ReadLine()
			if err != nil {
				// io.EOF on ctrl-D
				return nil
			}
			if line == "" {
				continue
			}
			resp, err := c.SessionExec(ctx, sandboxID, sessionID, line, sessionTimeout)
			if err != nil {
				fmt.Fprintf(t, "error: %v\r\n", err)
				continue
			}
			t.Write([]byte(resp.Output))
		}
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionShell, "shell", "", "shell binary (default /bin/bash)")
	sessionCmd.PersistentFlags().IntVar(&sessionTimeout, "timeout", 60, "per-command timeout in seconds")
	sessionCmd.AddCommand(sessionCreateCmd, sessionExecCmd, sessionDestroyCmd, sessionAttachCmd)
	rootCmd.AddCommand(sessionCmd)
}
