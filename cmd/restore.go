package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Codadillo/simple-sls/bootstrap"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reconstruct a process from the most recent checkpoint",
	Long: `restore reads the most recent checkpoint under cpath and spawns a
bootstrapper that reconstructs the target's address space, registers, and
open file descriptors, then hands off execution at the checkpointed
instruction. The supervising process waits for the restored process and
exits with its exit code.`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

var (
	restorePath string
	restoreHang bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restorePath, "cpath", "/tmp/slsdir", "checkpoint directory")
	restoreCmd.Flags().BoolVar(&restoreHang, "hang", false, "leave the bootstrapper stopped after restore and print its PID")
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	result, err := bootstrap.Restore(ctx, restorePath, restoreHang)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if restoreHang {
		fmt.Printf("%d\n", result.PID)
		return nil
	}

	os.Exit(result.ExitCode)
	return nil
}
