//go:build !linux

package toolexec

import "os/exec"

func configureProcess(*exec.Cmd) {}

func applyLimits(int, Limits) error { return nil }

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killedByMemoryLimit(*exec.Cmd) bool { return false }
