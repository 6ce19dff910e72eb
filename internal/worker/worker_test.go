package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/client"
	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
)

func TestRunOnceExecutesVerifiedAction(t *testing.T) {
	codec := newCodec(t)
	item := approvedItem(t, codec, "a1", domain.HTTPXArgs{Method: "GET"}, testNow.Add(-time.Minute), time.Hour)
	api := newFakeAPI(item)
	exec := &fakeExecutor{result: toolexec.Result{
		ReturnCode: 0,
		Stdout:     `{"url":"https://example.com","status_code":200,"title":"Example"}` + "\n",
		Duration:   1500 * time.Millisecond,
	}}

	if n := newTestWorker(api, codec, exec).RunOnce(context.Background()); n != 1 {
		t.Fatalf("completed = %d", n)
	}
	if exec.calls() != 1 {
		t.Fatalf("executor calls = %d", exec.calls())
	}
	spec := exec.specs[0]
	if spec.Binary != "httpx" || spec.Limits.Timeout != 60*time.Second || spec.Limits.StderrCap != 5<<10 {
		t.Fatalf("unexpected spec %+v", spec)
	}
	req := api.completed["a1"]
	if req.Status != domain.ActionStatusExecuted {
		t.Fatalf("status = %s", req.Status)
	}
	art := req.Artifact
	if art.WorkerID != "worker-test" || art.DurationMs != 1500 || art.Tool != domain.ToolHTTPX {
		t.Fatalf("artifact = %+v", art)
	}
	if art.Summary == nil || art.Summary["responses"] == nil {
		t.Fatalf("missing httpx summary: %+v", art.Summary)
	}
}

func TestExpiredTokenIsRefusedWithEvidence(t *testing.T) {
	codec := newCodec(t)
	// Token issued two hours ago with a one hour TTL.
	item := approvedItem(t, codec, "a1", domain.HTTPXArgs{}, testNow.Add(-2*time.Hour), time.Hour)
	api := newFakeAPI(item)
	exec := &fakeExecutor{}

	newTestWorker(api, codec, exec).RunOnce(context.Background())

	if exec.calls() != 0 {
		t.Fatalf("expired token must not execute")
	}
	req, ok := api.completed["a1"]
	if !ok {
		t.Fatalf("refusal must still be completed")
	}
	if req.Status != domain.ActionStatusFailed || req.Artifact.ErrorCode != domain.CodeTokenInvalid {
		t.Fatalf("completion = %+v", req)
	}
	if req.Artifact.Error != "execution token expired" {
		t.Fatalf("error = %q", req.Artifact.Error)
	}
}

func TestKilledRunRefusesBeforeExecution(t *testing.T) {
	codec := newCodec(t)
	api := newFakeAPI(approvedItem(t, codec, "a1", domain.HTTPXArgs{}, testNow, time.Hour))
	api.runStatus = domain.RunStatusAborted
	exec := &fakeExecutor{}

	newTestWorker(api, codec, exec).RunOnce(context.Background())

	if exec.calls() != 0 {
		t.Fatalf("aborted run must not execute")
	}
	if got := api.completed["a1"].Artifact.ErrorCode; got != domain.CodeRunNotRunning {
		t.Fatalf("code = %s", got)
	}
}

func TestClaimLostSkipsAction(t *testing.T) {
	codec := newCodec(t)
	api := newFakeAPI(approvedItem(t, codec, "a1", domain.HTTPXArgs{}, testNow, time.Hour))
	api.claimErr = &client.APIError{StatusCode: 409, Code: domain.CodeInvalidTransition}
	exec := &fakeExecutor{}

	if n := newTestWorker(api, codec, exec).RunOnce(context.Background()); n != 0 {
		t.Fatalf("completed = %d", n)
	}
	if exec.calls() != 0 || len(api.completed) != 0 {
		t.Fatalf("lost claim must not execute or complete")
	}
}

func TestTimeoutMapsToResourceLimit(t *testing.T) {
	codec := newCodec(t)
	api := newFakeAPI(approvedItem(t, codec, "a1", domain.NmapArgs{Flags: []string{"-sV"}}, testNow, time.Hour))
	exec := &fakeExecutor{result: toolexec.Result{ReturnCode: -1, TimedOut: true}}

	newTestWorker(api, codec, exec).RunOnce(context.Background())

	req := api.completed["a1"]
	if req.Status != domain.ActionStatusFailed || req.Artifact.ErrorCode != domain.CodeResourceLimitExceeded {
		t.Fatalf("completion = %+v", req)
	}
	if exec.specs[0].Limits.Timeout != 300*time.Second {
		t.Fatalf("nmap timeout = %s", exec.specs[0].Limits.Timeout)
	}
}

func TestMissingBinaryFailsExecution(t *testing.T) {
	codec := newCodec(t)
	api := newFakeAPI(approvedItem(t, codec, "a1", domain.SubfinderArgs{}, testNow, time.Hour))
	exec := &fakeExecutor{err: toolexec.ErrBinaryNotFound}

	newTestWorker(api, codec, exec).RunOnce(context.Background())

	if got := api.completed["a1"].Artifact.ErrorCode; got != domain.CodeExecutionFailed {
		t.Fatalf("code = %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	codec := newCodec(t)
	api := newFakeAPI()
	w := newTestWorker(api, codec, &fakeExecutor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
