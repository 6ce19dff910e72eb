//go:build linux

package toolexec

import (
	"math"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}

// applyLimits caps address space and CPU seconds of the started child. The
// CPU budget is the wall clock timeout scaled by the CPU share.
func applyLimits(pid int, l Limits) error {
	mem := uint64(l.MemoryBytes)
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: mem, Max: mem}, nil); err != nil {
		return err
	}
	cpu := uint64(math.Ceil(l.Timeout.Seconds() * l.CPU))
	if cpu == 0 {
		cpu = 1
	}
	return unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 1}, nil)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}

// killedByMemoryLimit treats SIGKILL and SIGSEGV we did not send as the
// kernel enforcing RLIMIT_AS or the OOM killer.
func killedByMemoryLimit(cmd *exec.Cmd) bool {
	if cmd.ProcessState == nil {
		return false
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	switch ws.Signal() {
	case syscall.SIGKILL, syscall.SIGSEGV:
		return true
	}
	return false
}
