// Package bootstrap synthesizes and launches the small executable that
// recreates a checkpointed target's address space and file descriptors,
// then hands off to a tracer for register injection.
package bootstrap

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/Codadillo/simple-sls/checkpoint"
	"github.com/Codadillo/simple-sls/errors"
	"github.com/Codadillo/simple-sls/logging"
	"github.com/Codadillo/simple-sls/ptrace"
	"github.com/Codadillo/simple-sls/regs"
	"github.com/Codadillo/simple-sls/utils"
)

// handshakeTimeout bounds how long the parent waits for the bootstrapper's
// readiness byte before concluding it exited or hung early.
const handshakeTimeout = 10 * time.Second

// Result is the outcome of a restore: the bootstrapper's PID, and (when not
// in hang mode) the exit code of the process it became once resumed.
type Result struct {
	PID      int
	ExitCode int
}

// Restore reconstructs the newest checkpoint under root: it builds and
// launches a bootstrapper executable, waits for it to self-stop with its
// full address space and descriptors in place, injects the checkpointed
// registers, and either resumes it (returning once it exits) or leaves it
// stopped for a debugger when hang is true.
func Restore(ctx context.Context, root string, hang bool) (Result, error) {
	seq, err := checkpoint.ReadSeq(root)
	if err != nil {
		return Result{}, err
	}
	if seq == 0 {
		return Result{}, errors.ErrNoCheckpoints
	}

	log := logging.WithSeq(logging.Default(), seq)

	bank, err := checkpoint.ReadRegs(root, seq)
	if err != nil {
		return Result{}, err
	}
	regions, err := checkpoint.ReadMaps(root, seq)
	if err != nil {
		return Result{}, err
	}
	files, err := checkpoint.ReadFiles(root, seq)
	if err != nil {
		return Result{}, err
	}

	base, err := chooseBaseAddress(regions)
	if err != nil {
		return Result{}, err
	}

	prog, err := buildProgram(base, root, seq, regions, files, true)
	if err != nil {
		return Result{}, err
	}

	elfBytes := buildELF(base, prog)
	if len(elfBytes) > pageSize {
		return Result{}, errors.New(errors.ErrPrecondition, "bootstrap", "generated executable exceeds the single-page code window")
	}

	binPath := checkpoint.BootstrapPath(root, seq)
	if err := os.WriteFile(binPath, elfBytes, 0o750); err != nil {
		return Result{}, errors.Wrap(err, errors.ErrIo, "write bootstrapper executable")
	}

	log.Info("bootstrapper built", "path", binPath, "base", base, "regions", len(regions), "files", len(files))

	return launch(ctx, binPath, bank, hang)
}

// launch spawns the bootstrapper executable, waits for it to self-stop,
// attaches and injects bank's register state, then either resumes it
// (blocking for its exit) or leaves it stopped when hang is true.
func launch(ctx context.Context, binPath string, bank regs.RegisterBank, hang bool) (Result, error) {
	pipe, err := utils.NewSyncPipe()
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrOs, "create handshake pipe")
	}
	defer pipe.Close()

	cmd := exec.CommandContext(ctx, binPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pipe.ChildFile()}

	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrap(err, errors.ErrOs, "spawn bootstrapper")
	}
	pipe.CloseChild()

	tr := ptrace.New(cmd.Process.Pid)

	if err := tr.WaitStoppedUntraced(); err != nil {
		return Result{}, errors.Wrap(err, errors.ErrOs, "wait for bootstrapper self-stop")
	}
	if err := pipe.WaitTimeout(handshakeTimeout); err != nil {
		return Result{}, errors.ErrHandshakeTimeout
	}

	if err := tr.Attach(); err != nil {
		return Result{}, err
	}
	if err := tr.WaitStopped(); err != nil {
		return Result{}, err
	}
	if err := tr.SetRegs(bank); err != nil {
		return Result{}, err
	}

	if hang {
		// Queue a plain SIGSTOP before detaching so the bootstrapper is
		// still stopped once PTRACE_DETACH releases it, leaving it
		// genuinely stopped for an external debugger to attach to.
		if err := tr.Stop(); err != nil {
			return Result{}, err
		}
		if err := tr.Detach(); err != nil {
			return Result{}, err
		}
		return Result{PID: cmd.Process.Pid}, nil
	}

	if err := tr.Detach(); err != nil {
		return Result{}, err
	}
	// The bootstrapper self-stopped before the attach, so it is still in a
	// job-control stop after PTRACE_DETACH; SIGCONT lets it run.
	if err := tr.Resume(); err != nil {
		return Result{}, err
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return Result{}, errors.Wrap(err, errors.ErrOs, "wait for restored process")
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{PID: cmd.Process.Pid, ExitCode: exitCode}, nil
}
