// Package cmd implements the CLI commands for simple-sls.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Codadillo/simple-sls/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalLogLevel  string
	globalLogFormat string
)

// rootCmd is the base command for simple-sls.
var rootCmd = &cobra.Command{
	Use:   "simple-sls",
	Short: "Checkpoint/restore for long-running compute processes",
	Long: `simple-sls attaches to a running process by PID, periodically snapshots
its registers, memory, and open files to disk, and can later reconstruct a
new process from any such snapshot so execution continues at the captured
instruction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", envOr("SLS_LOG", "info"), "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log output format: text or json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogging() {
	logger := logging.NewLogger(logging.Config{
		Level:  logging.ParseLevel(globalLogLevel),
		Format: globalLogFormat,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
}
