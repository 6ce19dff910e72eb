package toolexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ProcessExecutor runs tools as direct child processes in their own process
// group. On timeout the whole group is killed.
type ProcessExecutor struct {
	lookPath func(string) (string, error)
	now      func() time.Time
}

func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{lookPath: exec.LookPath, now: time.Now}
}

func (e *ProcessExecutor) Kind() string { return "process" }

func (e *ProcessExecutor) Run(ctx context.Context, spec Spec) (Result, error) {
	binary := strings.TrimSpace(spec.Binary)
	if binary == "" {
		return Result{}, errors.New("binary is required")
	}
	path, err := e.lookPath(binary)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}
	limits := spec.Limits.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, spec.Argv...)
	configureProcess(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	stdout := newCappedBuffer(limits.StdoutCap)
	stderr := newCappedBuffer(limits.StderrCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := e.now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", binary, err)
	}
	limitErr := applyLimits(cmd.Process.Pid, limits)
	waitErr := cmd.Wait()

	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        e.now().Sub(start),
		TimedOut:        errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if limitErr != nil {
		res.Stderr = appendNote(res.Stderr, "resource limits not applied: "+limitErr.Error(), limits.StderrCap)
	}
	res.ReturnCode = exitCode(cmd, waitErr)
	if !res.TimedOut && killedByMemoryLimit(cmd) {
		res.MemoryExceeded = true
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		return -1
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func appendNote(s, note string, limit int) string {
	out := strings.TrimRight(s, "\n")
	if out != "" {
		out += "\n"
	}
	out += note
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
