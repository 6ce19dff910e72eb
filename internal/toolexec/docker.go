package toolexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DockerExecutor runs each tool inside a throwaway container. The image must
// carry the tool binary on its PATH.
type DockerExecutor struct {
	DockerBin string
	Network   string
	PidsLimit int

	now func() time.Time
}

func NewDockerExecutor() *DockerExecutor {
	return &DockerExecutor{DockerBin: "docker", Network: "host", PidsLimit: 256, now: time.Now}
}

func (e *DockerExecutor) Kind() string { return "docker" }

func (e *DockerExecutor) Run(ctx context.Context, spec Spec) (Result, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return Result{}, errors.New("image is required")
	}
	binary := strings.TrimSpace(spec.Binary)
	if binary == "" {
		return Result{}, errors.New("binary is required")
	}
	dockerBin := e.DockerBin
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrBinaryNotFound, dockerBin)
	}
	limits := spec.Limits.withDefaults()
	name := containerName(spec.Name)

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, dockerBin, e.runArgs(name, binary, spec, limits)...)
	cmd.Cancel = func() error {
		// The client exiting does not stop the container.
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = exec.CommandContext(killCtx, dockerBin, "kill", name).Run()
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	stdout := newCappedBuffer(limits.StdoutCap)
	stderr := newCappedBuffer(limits.StderrCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := e.clock()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start docker: %w", err)
	}
	waitErr := cmd.Wait()

	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        e.clock().Sub(start),
		TimedOut:        errors.Is(runCtx.Err(), context.DeadlineExceeded),
		ReturnCode:      exitCode(cmd, waitErr),
	}
	// 137 is 128+SIGKILL, which docker reports for cgroup OOM kills.
	if !res.TimedOut && res.ReturnCode == 137 {
		res.MemoryExceeded = true
	}
	return res, nil
}

func (e *DockerExecutor) runArgs(name, binary string, spec Spec, l Limits) []string {
	network := e.Network
	if network == "" {
		network = "host"
	}
	args := []string{
		"run", "--rm",
		"--name", name,
		"--network", network,
		"--cpus", strconv.FormatFloat(l.CPU, 'f', -1, 64),
		"--memory", strconv.FormatInt(l.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(l.MemoryBytes, 10),
		"--security-opt", "no-new-privileges",
	}
	if e.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(e.PidsLimit))
	}
	if spec.Stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, "--entrypoint", binary, spec.Image)
	return append(args, spec.Argv...)
}

func (e *DockerExecutor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func containerName(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	if b.Len() == 0 {
		return "sf-tool-" + suffix
	}
	s := b.String()
	if len(s) > 40 {
		s = s[:40]
	}
	return "sf-" + s + "-" + suffix
}

// New returns the executor for kind ("process" or "docker").
func New(kind string) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "process":
		return NewProcessExecutor(), nil
	case "docker":
		return NewDockerExecutor(), nil
	default:
		return nil, fmt.Errorf("unknown executor %q", kind)
	}
}
