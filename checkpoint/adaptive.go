package checkpoint

import (
	"context"
	"io"
	"time"

	"github.com/Codadillo/simple-sls/errors"
)

// RunAdaptive takes checkpoints on a period that adapts to keep the
// target's pause-time overhead near alpha. After each checkpoint measures
// pause duration p and total duration w, it computes the free-run time
// f = p / alpha and sleeps max(0, f - (w - p)) before the next checkpoint,
// so the target runs freely for f since being resumed. lo and hi (zero
// means unbounded) clamp the sleep by lo-w and hi-w respectively.
//
// alpha <= 0 is rejected immediately; the loop is never entered.
func (e *Engine) RunAdaptive(ctx context.Context, alpha float64, lo, hi time.Duration, maxCps int, stats io.Writer) error {
	if alpha <= 0 {
		return errors.ErrBadOverhead
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st, err := e.Checkpoint()
		if err != nil {
			return err
		}
		if err := writeStatsLine(stats, st); err != nil {
			return err
		}
		if err := e.Cull(maxCps); err != nil {
			return err
		}

		sleep := adaptiveSleep(st.Pause, st.Total, alpha, lo, hi)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func adaptiveSleep(pause, total time.Duration, alpha float64, lo, hi time.Duration) time.Duration {
	f := time.Duration(float64(pause) / alpha)
	sleep := f - (total - pause)
	if sleep < 0 {
		sleep = 0
	}

	if lo > 0 {
		if floor := lo - total; floor > sleep {
			sleep = floor
		}
	}
	if hi > 0 {
		if ceil := hi - total; ceil < sleep {
			sleep = ceil
		}
	}
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}
