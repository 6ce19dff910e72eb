package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/client"
	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu        sync.Mutex
	items     []domain.WorkItem
	runStatus domain.RunStatus
	claimErr  error
	completed map[string]execution.CompleteRequest
	claims    int
}

func newFakeAPI(items ...domain.WorkItem) *fakeAPI {
	return &fakeAPI{items: items, runStatus: domain.RunStatusRunning, completed: map[string]execution.CompleteRequest{}}
}

func (f *fakeAPI) PollActions(context.Context, int) ([]domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WorkItem(nil), f.items...), nil
}

func (f *fakeAPI) ClaimAction(_ context.Context, id string) (domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return domain.WorkItem{}, f.claimErr
	}
	for _, it := range f.items {
		if it.Action.ID == id {
			it.Action.Status = domain.ActionStatusExecuting
			return it, nil
		}
	}
	return domain.WorkItem{}, &client.APIError{StatusCode: 404, Code: domain.CodeNotFound}
}

func (f *fakeAPI) CompleteAction(_ context.Context, id string, req execution.CompleteRequest) (execution.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = req
	return execution.Result{
		Action:   domain.ActionSpec{ID: id, Status: req.Status},
		Evidence: domain.Evidence{ID: "ev-" + id},
	}, nil
}

func (f *fakeAPI) RunStatus(context.Context, string) (domain.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runStatus, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	specs  []toolexec.Spec
	result toolexec.Result
	err    error
}

func (e *fakeExecutor) Kind() string { return "fake" }

func (e *fakeExecutor) Run(_ context.Context, spec toolexec.Spec) (toolexec.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append(e.specs, spec)
	return e.result, e.err
}

func (e *fakeExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.specs)
}

func newCodec(t *testing.T) token.Codec {
	t.Helper()
	codec, err := token.NewHMACCodec("worker-test-secret-0123")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

// approvedItem builds an APPROVED action with a token valid at testNow for ttl.
func approvedItem(t *testing.T, codec token.Signer, id string, args domain.ToolArgs, issuedAt time.Time, ttl time.Duration) domain.WorkItem {
	t.Helper()
	action := domain.ActionSpec{
		ID:                id,
		RunID:             "run-1",
		Invocation:        domain.NewInvocation(args),
		Target:            "https://example.com",
		Status:            domain.ActionStatusApproved,
		Tier:              domain.TierA,
		RequiredApprovals: 0,
	}
	hash, err := action.ComputeHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	action.ContentHash = hash
	tok, err := codec.Sign(token.Claims{
		RunID:         action.RunID,
		ActionID:      action.ID,
		ContentHash:   hash,
		IssuedAtUnix:  issuedAt.Unix(),
		ExpiresAtUnix: issuedAt.Add(ttl).Unix(),
	}, issuedAt)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return domain.WorkItem{Action: action, Token: tok}
}

func newTestWorker(api API, codec token.Verifier, exec toolexec.Executor) *Worker {
	cfg := Config{WorkerID: "worker-test", PollInterval: 10 * time.Millisecond, BatchSize: 10, MemoryLimit: 256 << 20, CPULimit: 1}
	return New(cfg, api, codec, exec, WithClock(func() time.Time { return testNow }))
}
