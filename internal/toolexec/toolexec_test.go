package toolexec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestCappedBufferTruncates(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	n, err = b.Write([]byte("defgh"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if b.String() != "abcde" {
		t.Fatalf("content = %q", b.String())
	}
	if !b.Truncated() {
		t.Fatalf("expected truncated")
	}
}

func TestCappedBufferExactFitNotTruncated(t *testing.T) {
	b := newCappedBuffer(3)
	_, _ = b.Write([]byte("abc"))
	if b.Truncated() {
		t.Fatalf("exact fit must not be truncated")
	}
}

func TestProcessExecutorCapturesOutput(t *testing.T) {
	requireBinary(t, "sh")
	res, err := NewProcessExecutor().Run(context.Background(), Spec{
		Binary: "sh",
		Argv:   []string{"-c", "echo hello; echo oops >&2; exit 3"},
		Limits: Limits{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ReturnCode != 3 {
		t.Fatalf("return code = %d", res.ReturnCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if res.LimitExceeded() {
		t.Fatalf("unexpected limit flag: %+v", res)
	}
}

func TestProcessExecutorArgvIsNotShellExpanded(t *testing.T) {
	requireBinary(t, "echo")
	res, err := NewProcessExecutor().Run(context.Background(), Spec{
		Binary: "echo",
		Argv:   []string{"a;b", "$(id)"},
		Limits: Limits{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "a;b $(id)" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestProcessExecutorStdoutCap(t *testing.T) {
	requireBinary(t, "sh")
	res, err := NewProcessExecutor().Run(context.Background(), Spec{
		Binary: "sh",
		Argv:   []string{"-c", "i=0; while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done"},
		Limits: Limits{Timeout: 5 * time.Second, StdoutCap: 100},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stdout) != 100 || !res.StdoutTruncated {
		t.Fatalf("len=%d truncated=%v", len(res.Stdout), res.StdoutTruncated)
	}
}

func TestProcessExecutorTimeoutKillsGroup(t *testing.T) {
	requireBinary(t, "sh")
	started := time.Now()
	res, err := NewProcessExecutor().Run(context.Background(), Spec{
		Binary: "sh",
		Argv:   []string{"-c", "sleep 30 & sleep 30"},
		Limits: Limits{Timeout: 200 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout: %+v", res)
	}
	if time.Since(started) > 10*time.Second {
		t.Fatalf("timeout did not stop the process group")
	}
}

func TestProcessExecutorMissingBinary(t *testing.T) {
	_, err := NewProcessExecutor().Run(context.Background(), Spec{Binary: "definitely-not-a-real-tool-xyz"})
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestDockerRunArgs(t *testing.T) {
	e := NewDockerExecutor()
	args := e.runArgs("sf-a1", "httpx", Spec{Image: "projectdiscovery/httpx:latest", Argv: []string{"-u", "https://example.com"}},
		Limits{CPU: 0.5, MemoryBytes: 256 << 20}.withDefaults())
	joined := strings.Join(args, " ")
	for _, want := range []string{"run --rm", "--network host", "--cpus 0.5", "--memory 268435456", "--pids-limit 256", "--entrypoint httpx projectdiscovery/httpx:latest -u https://example.com"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(joined, " -i ") {
		t.Fatalf("stdin flag set without stdin: %q", joined)
	}
}

func TestContainerNameSanitized(t *testing.T) {
	name := containerName("Action/1 x")
	if !strings.HasPrefix(name, "sf-action-1-x-") {
		t.Fatalf("name = %q", name)
	}
}

func TestNewExecutorKinds(t *testing.T) {
	for kind, want := range map[string]string{"": "process", "process": "process", "DOCKER": "docker"} {
		e, err := New(kind)
		if err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
		if e.Kind() != want {
			t.Fatalf("New(%q).Kind() = %q", kind, e.Kind())
		}
	}
	if _, err := New("vm"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
