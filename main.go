// simple-sls is a user-space checkpoint/restore tool for long-running
// Linux processes.
//
// Commands:
//
//	checkpoint - attach to a running process and periodically snapshot it
//	restore    - reconstruct a process from its most recent checkpoint
//	version    - print version information
package main

import (
	"fmt"
	"os"

	"github.com/Codadillo/simple-sls/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
