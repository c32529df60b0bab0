package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Codadillo/simple-sls/checkpoint"
	sserrors "github.com/Codadillo/simple-sls/errors"
	"github.com/Codadillo/simple-sls/logging"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Attach to a running process and periodically snapshot it",
	Long: `checkpoint attaches to a running process by PID and periodically writes
its registers, memory regions, and open file descriptors to a checkpoint
directory. With --period alone it runs on a fixed cadence; with --overhead
it instead targets a pause-time overhead ratio and adapts the period to
match (see --max-period to bound the adaptation).`,
	Args: cobra.NoArgs,
	RunE: runCheckpoint,
}

var (
	checkpointPID       int
	checkpointPeriod    float64
	checkpointOverhead  float64
	checkpointMaxPeriod float64
	checkpointPath      string
	checkpointMax       int
	checkpointReset     bool
	checkpointStatsPath string
)

func init() {
	rootCmd.AddCommand(checkpointCmd)

	checkpointCmd.Flags().IntVar(&checkpointPID, "pid", 0, "PID of the target process (required)")
	checkpointCmd.Flags().Float64Var(&checkpointPeriod, "period", 0, "checkpoint period in seconds (minimum period if --overhead is set)")
	checkpointCmd.Flags().Float64Var(&checkpointOverhead, "overhead", 0, "target pause-time overhead ratio; activates adaptive mode")
	checkpointCmd.Flags().Float64Var(&checkpointMaxPeriod, "max-period", 0, "maximum period in adaptive mode (0 = unbounded)")
	checkpointCmd.Flags().StringVar(&checkpointPath, "cpath", "/tmp/slsdir", "checkpoint directory")
	checkpointCmd.Flags().IntVar(&checkpointMax, "max", 3, "number of checkpoints to retain")
	checkpointCmd.Flags().BoolVar(&checkpointReset, "reset", false, "delete cpath before starting")
	checkpointCmd.Flags().StringVar(&checkpointStatsPath, "stats", "", "append per-checkpoint pause_ns,total_ns CSV lines to this path")

	checkpointCmd.MarkFlagRequired("pid")
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	log := logging.WithPID(logging.Default(), checkpointPID)

	if checkpointReset {
		if err := os.RemoveAll(checkpointPath); err != nil {
			return fmt.Errorf("reset cpath: %w", err)
		}
	}

	if err := os.MkdirAll(checkpointPath, 0o755); err != nil {
		return fmt.Errorf("create cpath: %w", err)
	}

	var stats *os.File
	if checkpointStatsPath != "" {
		f, err := os.OpenFile(checkpointStatsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open stats file: %w", err)
		}
		defer f.Close()
		stats = f
	}

	engine, err := checkpoint.Attach(checkpointPID, checkpointPath)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer engine.Close()

	log.Info("attached", "cpath", checkpointPath, "max", checkpointMax)

	if checkpointOverhead > 0 {
		lo := time.Duration(checkpointPeriod * float64(time.Second))
		var hi time.Duration
		if checkpointMaxPeriod > 0 {
			hi = time.Duration(checkpointMaxPeriod * float64(time.Second))
		}
		err = engine.RunAdaptive(ctx, checkpointOverhead, lo, hi, checkpointMax, stats)
	} else if checkpointPeriod > 0 {
		period := time.Duration(checkpointPeriod * float64(time.Second))
		err = engine.Run(ctx, period, checkpointMax, stats)
	} else {
		var st checkpoint.Stats
		st, err = engine.Checkpoint()
		if err == nil {
			err = checkpoint.WriteStatsLine(stats, st)
		}
	}

	// SLSError.Is matches any error of the same Kind, so compare against the
	// sentinel itself.
	var serr *sserrors.SLSError
	if sserrors.As(err, &serr) && serr == sserrors.ErrTargetGone {
		log.Info("target exited")
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoint loop: %w", err)
	}

	return nil
}
