// Package ptrace mediates all use of the kernel's process-attach debugging
// primitive: attach/detach, stop/continue, and reading and writing the
// general and floating-point register banks of a stopped target.
package ptrace

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/Codadillo/simple-sls/errors"
	"github.com/Codadillo/simple-sls/regs"
)

// Tracer wraps a single target process under ptrace. Every exported method
// locks its calling goroutine to its OS thread for the duration of the
// underlying syscalls, since ptrace state (the tracer/tracee relationship)
// is per-thread on Linux — a single Tracer must always be driven from the
// same goroutine.
type Tracer struct {
	pid int
}

// New constructs a Tracer for pid without any side effect on the target.
func New(pid int) *Tracer {
	return &Tracer{pid: pid}
}

// PID returns the target's process ID.
func (t *Tracer) PID() int {
	return t.pid
}

// Attach asks the kernel to begin tracing the target. On success the
// target stops at its next scheduling boundary; the caller must then call
// WaitStopped.
func (t *Tracer) Attach() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceAttach(t.pid); err != nil {
		return errors.Wrap(err, errors.ErrOs, "ptrace attach")
	}
	return nil
}

// WaitStopped blocks until the target has reached ptrace-stopped state.
func (t *Tracer) WaitStopped() error {
	return t.wait(true)
}

// WaitStoppedUntraced blocks until the target has stopped, including a
// stop caused outside a trace relationship (the restore bootstrapper's
// self-SIGSTOP before any tracer has attached).
func (t *Tracer) WaitStoppedUntraced() error {
	return t.wait(false)
}

func (t *Tracer) wait(traced bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var ws unix.WaitStatus
	op := "waitpid"
	options := 0
	if traced {
		op = "waitpid(traced)"
	} else {
		// A self-SIGSTOP before any ptrace attach is a stop of an
		// untraced child; Wait4 only reports that with WUNTRACED, not
		// with options == 0.
		options = unix.WUNTRACED
	}

	for {
		wpid, err := unix.Wait4(t.pid, &ws, options, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, errors.ErrOs, op)
		}
		if wpid != t.pid {
			continue
		}
		if ws.Stopped() {
			return nil
		}
		if ws.Exited() || ws.Signaled() {
			return errors.ErrTargetGone
		}
	}
}

// Stop raises SIGSTOP in the target, re-entering ptrace-stopped state for
// a target already under an active trace relationship.
func (t *Tracer) Stop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Kill(t.pid, unix.SIGSTOP); err != nil {
		return errors.Wrap(err, errors.ErrOs, "kill(SIGSTOP)")
	}
	return nil
}

// Resume raises SIGCONT in the target.
func (t *Tracer) Resume() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Kill(t.pid, unix.SIGCONT); err != nil {
		return errors.Wrap(err, errors.ErrOs, "kill(SIGCONT)")
	}
	return nil
}

// GetRegs reads both register banks of the stopped target. Calling this
// while the target is not stopped is undefined, per the kernel's ptrace
// contract.
func (t *Tracer) GetRegs() (regs.RegisterBank, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var kregs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.pid, &kregs); err != nil {
		return regs.RegisterBank{}, errors.Wrap(err, errors.ErrOs, "ptrace getregs")
	}

	fp, err := regs.GetFPRegs(t.pid)
	if err != nil {
		return regs.RegisterBank{}, err
	}

	return regs.RegisterBank{
		General: regs.GeneralRegsFromKernel(&kregs),
		FP:      fp,
	}, nil
}

// SetRegs writes both register banks of the stopped target.
func (t *Tracer) SetRegs(bank regs.RegisterBank) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	kregs := bank.General.ToKernel()
	if err := unix.PtraceSetRegs(t.pid, kregs); err != nil {
		return errors.Wrap(err, errors.ErrOs, "ptrace setregs")
	}

	if err := regs.SetFPRegs(t.pid, bank.FP); err != nil {
		return err
	}
	return nil
}

// Detach releases the trace relationship with the target.
func (t *Tracer) Detach() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceDetach(t.pid); err != nil {
		return errors.Wrap(err, errors.ErrOs, "ptrace detach")
	}
	return nil
}

// Close attempts to detach and ignores any failure, per the contract that
// a dropped tracer must attempt detach but a failed detach is not fatal
// (the target is likely already gone).
func (t *Tracer) Close() {
	_ = t.Detach()
}
