package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Transfer and list files in a sandbox",
}

var filesPutCmd = &cobra.Command{
	Use:   "put <sandbox-id> <local-path> <remote-path>",
	Short: "Upload a local file into the sandbox",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := c.PutFile(ctx, args[0], args[2], f); err != nil {
			return err
		}
		fmt.Printf("uploaded %s -> %s\n", args[1], args[2])
		return nil
	},
}

var filesGetCmd = &cobra.Command{
	Use:   "get <sandbox-id> <remote-path> [local-path]",
	Short: "Download a file from the sandbox (stdout if no local path)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if len(args) == 2 {
			return c.GetFile(ctx, args[0], args[1], os.Stdout)
		}

		f, err := os.Create(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := c.GetFile(ctx, args[0], args[1], f); err != nil {
			return err
		}
		fmt.Printf("downloaded %s -> %s\n", args[1], args[2])
		return nil
	},
}

var filesLsCmd = &cobra.Command{
	Use:   "ls <sandbox-id> <remote-path>",
	Short: "List a directory in the sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		entries, err := c.ListFiles(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		for _, e := range entries {
			kind := "-"
			if e.IsDir {
				kind = "d"
			}
			fmt.Printf("%s %10d %s\n", kind, e.Size, e.Name)
		}
		return nil
	},
}

var filesCollectCmd = &cobra.Command{
	Use:   "collect <sandbox-id> <remote-path>...",
	Short: "Collect artifacts: fetch files, print their SHA-256 and size",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		artifacts, err := c.CollectArtifacts(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		for _, a := range artifacts {
			fmt.Printf("%s %10d %s\n", a.Sha256, a.Size, a.Path)
		}
		return nil
	},
}

func init() {
	filesCmd.AddCommand(filesPutCmd, filesGetCmd, filesLsCmd, filesCollectCmd)
	rootCmd.AddCommand(filesCmd)
}
