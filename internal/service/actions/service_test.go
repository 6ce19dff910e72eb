package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/policy"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

func TestProposeTierAIssuesToken(t *testing.T) {
	f := newFixture(t, nil)
	p := f.propose(t, domain.ToolHTTPX, map[string]any{"method": "GET"}, "https://example.com")

	if p.Decision.Rejected() {
		t.Fatalf("unexpected rejection: %v", p.Decision.Rejection)
	}
	if p.Action.Status != domain.ActionStatusApproved || p.Action.Tier != domain.TierA {
		t.Fatalf("expected auto approved tier A, got %s/%s", p.Action.Status, p.Action.Tier)
	}
	claims, err := f.codec.Verify(p.Action.Token, fixtureNow)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.ActionID != p.Action.ID || claims.ContentHash != p.Action.ContentHash {
		t.Fatalf("token not bound to action: %+v", claims)
	}

	stored, err := f.store.Actions().Get(context.Background(), p.Action.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.ActionStatusApproved || stored.Token != p.Action.Token {
		t.Fatalf("stored action mismatch: %+v", stored)
	}
	entries, err := f.store.Audit().ListByRun(context.Background(), f.runID, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != domain.EventActionApproved {
		t.Fatalf("expected one ACTION_APPROVED entry, got %+v", entries)
	}
}

func TestProposeOutOfScopeIsRejectedWithoutToken(t *testing.T) {
	f := newFixture(t, nil)
	p := f.propose(t, domain.ToolNmap, map[string]any{}, "10.0.0.1")

	if p.Decision.Rejection == nil || p.Decision.Rejection.Code != domain.CodeScopeViolation {
		t.Fatalf("expected SCOPE_VIOLATION, got %+v", p.Decision.Rejection)
	}
	if p.Action.Status != domain.ActionStatusRejected || p.Action.Token != "" {
		t.Fatalf("expected rejected action without token, got %+v", p.Action)
	}
	stored, err := f.store.Actions().Get(context.Background(), p.Action.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.RejectionCode != domain.CodeScopeViolation || stored.Token != "" {
		t.Fatalf("stored rejection mismatch: %+v", stored)
	}
}

func TestProposeRequiresRunningRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.store.Runs().CompareAndSetStatus(ctx, f.runID, domain.RunStatusRunning, domain.RunStatusAborted, repo.RunPatch{}); err != nil {
		t.Fatalf("abort run: %v", err)
	}
	_, err := f.svc.Propose(ctx, agent, f.runID, ProposeRequest{Tool: domain.ToolHTTPX, Target: "https://example.com"})
	if !domain.IsCode(err, domain.CodeRunNotRunning) {
		t.Fatalf("expected RUN_NOT_RUNNING, got %v", err)
	}
	actions, err := f.store.Actions().List(ctx, repo.ActionFilter{RunID: f.runID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("no action may be stored for a stopped run, got %d", len(actions))
	}
}

// stoppingCounter aborts the run while the engine is evaluating a proposal.
type stoppingCounter struct {
	policy.RateCounter
	stop func(ctx context.Context)
}

func (c stoppingCounter) CountRecent(ctx context.Context, runID string, tool domain.ToolName, target string, since time.Time) (int, error) {
	c.stop(ctx)
	return c.RateCounter.CountRecent(ctx, runID, tool, target, since)
}

func TestProposeRefusedWhenRunStopsDuringEvaluation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	clock := func() time.Time { return fixtureNow }
	counter := stoppingCounter{RateCounter: f.store.Actions(), stop: func(ctx context.Context) {
		if err := f.store.Runs().CompareAndSetStatus(ctx, f.runID, domain.RunStatusRunning, domain.RunStatusAborted, repo.RunPatch{}); err != nil {
			t.Errorf("abort run: %v", err)
		}
	}}
	engine := policy.NewEngine(policy.DefaultConfig(), counter, policy.WithClock(clock))
	svc := New(f.store, engine, f.codec, WithClock(clock))

	_, err := svc.Propose(ctx, agent, f.runID, ProposeRequest{
		Tool:      domain.ToolHTTPX,
		Arguments: json.RawMessage(`{"method":"GET"}`),
		Target:    "https://example.com",
	})
	if !domain.IsCode(err, domain.CodeRunNotRunning) {
		t.Fatalf("expected RUN_NOT_RUNNING, got %v", err)
	}
	actions, err := f.store.Actions().List(ctx, repo.ActionFilter{RunID: f.runID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("no action may be stored once the run stopped, got %d", len(actions))
	}
	run, err := f.store.Runs().Get(ctx, f.runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Iteration != 0 {
		t.Fatalf("iteration must not advance, got %d", run.Iteration)
	}
}

func TestProposeUnknownToolFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	p := f.propose(t, "masscan", map[string]any{"rate": 1000}, "https://example.com")
	if p.Decision.Rejection == nil || p.Decision.Rejection.Code != domain.CodeToolNotAllowed {
		t.Fatalf("expected TOOL_NOT_ALLOWED, got %+v", p.Decision.Rejection)
	}
	if p.Action.Status != domain.ActionStatusRejected {
		t.Fatalf("expected REJECTED, got %s", p.Action.Status)
	}
}

func TestApproveIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.propose(t, domain.ToolNmap, map[string]any{"flags": []string{"-sV"}}, "https://example.com")
	if p.Action.Status != domain.ActionStatusPendingApproval || p.Action.Tier != domain.TierB {
		t.Fatalf("expected pending tier B, got %s/%s", p.Action.Status, p.Action.Tier)
	}

	first, err := f.svc.Approve(ctx, alice, p.Action.ID, "looks fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if first.Action.Status != domain.ActionStatusApproved || first.Action.Token == "" {
		t.Fatalf("expected approved with token, got %+v", first.Action)
	}

	second, err := f.svc.Approve(ctx, bob, p.Action.ID, "again")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !second.Unchanged {
		t.Fatalf("second approve must be a no-op")
	}
	if second.Action.Token != first.Action.Token {
		t.Fatalf("second approve issued a new token")
	}
	approvals, err := f.svc.Approvals(ctx, p.Action.ID)
	if err != nil {
		t.Fatalf("approvals: %v", err)
	}
	if len(approvals) != 1 || approvals[0].ApprovedBy != "alice" || approvals[0].Signature == "" {
		t.Fatalf("expected one signed approval by alice, got %+v", approvals)
	}
	payload, err := ApprovalPayload(approvals[0], p.Action.ContentHash)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if sig, _ := f.codec.SignBytes(payload); sig != approvals[0].Signature {
		t.Fatalf("approval signature does not verify")
	}
}

func TestDualApprovalNeedsDistinctReviewers(t *testing.T) {
	f := newFixture(t, func(c *policy.Config) { c.DualApprovalThreshold = 0.55 })
	ctx := context.Background()
	p := f.propose(t, domain.ToolNmap, map[string]any{}, "api.example.com")
	if p.Action.RequiredApprovals != 2 {
		t.Fatalf("expected two required approvals, got %d (score %v)", p.Action.RequiredApprovals, p.Action.RiskScore)
	}

	first, err := f.svc.Approve(ctx, alice, p.Action.ID, "")
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if first.Action.Status != domain.ActionStatusPendingApproval || first.Approvals != 1 {
		t.Fatalf("expected still pending after one approval, got %s (%d)", first.Action.Status, first.Approvals)
	}
	if _, err := f.svc.Approve(ctx, alice, p.Action.ID, ""); !domain.IsCode(err, domain.CodeApproverConflict) {
		t.Fatalf("expected APPROVER_CONFLICT for the same reviewer, got %v", err)
	}
	second, err := f.svc.Approve(ctx, bob, p.Action.ID, "")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if second.Action.Status != domain.ActionStatusApproved || second.Action.Token == "" {
		t.Fatalf("expected approved after two reviewers, got %+v", second.Action)
	}

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "approval_latency_seconds_count 1") {
		t.Fatalf("expected one approval latency sample, got:\n%s", rec.Body.String())
	}
}

func TestConcurrentDualApprovalsApproveOnce(t *testing.T) {
	f := newFixture(t, func(c *policy.Config) { c.DualApprovalThreshold = 0.55 })
	ctx := context.Background()
	p := f.propose(t, domain.ToolNmap, map[string]any{}, "api.example.com")
	if p.Action.RequiredApprovals != 2 {
		t.Fatalf("expected two required approvals, got %d", p.Action.RequiredApprovals)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, reviewer := range []status.AuditInfo{alice, bob} {
		wg.Add(1)
		go func(i int, reviewer status.AuditInfo) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, reviewer, p.Action.ID, "")
		}(i, reviewer)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
	}

	stored, err := f.store.Actions().Get(ctx, p.Action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if stored.Status != domain.ActionStatusApproved || stored.Token == "" {
		t.Fatalf("expected approved with token after both reviewers, got %s", stored.Status)
	}
	entries, err := f.store.Audit().ListByRun(ctx, f.runID, 50)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	approved := 0
	for _, e := range entries {
		if e.EventType == domain.EventActionApproved {
			approved++
		}
	}
	if approved != 1 {
		t.Fatalf("expected one ACTION_APPROVED entry, got %d", approved)
	}
}

func TestManualOnlyActionsBecomeTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.propose(t, domain.ToolSQLMap, map[string]any{"level": 1}, "https://example.com")

	if p.Action.Tier != domain.TierC || !p.Action.ManualOnly || p.Action.Status != domain.ActionStatusPendingApproval {
		t.Fatalf("expected manual only tier C pending, got %+v", p.Action)
	}
	if p.ManualTask == nil || p.ManualTask.Status != domain.ManualTaskOpen {
		t.Fatalf("expected an open manual task, got %+v", p.ManualTask)
	}
	if p.Action.Token != "" {
		t.Fatalf("manual only actions never get a token")
	}
	if _, err := f.svc.Approve(ctx, alice, p.Action.ID, ""); !domain.IsCode(err, domain.CodeManualOnlyRefused) {
		t.Fatalf("expected MANUAL_ONLY_REFUSED, got %v", err)
	}
	pending, err := f.svc.Pending(ctx, "", 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != p.Action.ID {
		t.Fatalf("expected the manual action to be pending review, got %d", len(pending))
	}
}

func TestRejectClosesPendingAction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.propose(t, domain.ToolNmap, map[string]any{}, "https://example.com")

	r, err := f.svc.Reject(ctx, alice, p.Action.ID, "too noisy")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if r.Action.Status != domain.ActionStatusRejected {
		t.Fatalf("expected REJECTED, got %s", r.Action.Status)
	}
	if _, err := f.svc.Approve(ctx, bob, p.Action.ID, ""); !domain.IsCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION approving a rejected action, got %v", err)
	}
	again, err := f.svc.Reject(ctx, bob, p.Action.ID, "")
	if err != nil || !again.Unchanged {
		t.Fatalf("second reject must be a no-op, got %+v %v", again, err)
	}
}

func TestRateLimitRejectsAtCeiling(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 20; i++ {
		p := f.propose(t, domain.ToolHTTPX, map[string]any{}, "https://example.com")
		if p.Decision.Rejected() {
			t.Fatalf("proposal %d rejected early: %v", i, p.Decision.Rejection)
		}
	}
	p := f.propose(t, domain.ToolHTTPX, map[string]any{}, "https://example.com")
	if p.Decision.Rejection == nil || p.Decision.Rejection.Code != domain.CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %+v", p.Decision.Rejection)
	}
}
