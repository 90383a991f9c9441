// sandchestctl is the operator CLI for a Sandchest node: create, fork,
// and destroy sandboxes, run commands, drive shell sessions, and move
// files, all over the node's gRPC surface.
package main

import (
	"os"

	"github.com/opensandbox/sandchest/cmd/sandchestctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
