package manualtasks

import (
	"context"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/objectstore"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *evidence.Service, *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()
	store, db, err := sqlstore.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Scopes().Create(ctx, domain.Scope{
		ID: "scope-1", ProjectID: "proj-1", Status: domain.ScopeStatusDraft, Version: 1, CreatedBy: "alice",
		Definition: domain.ScopeDefinition{Targets: []domain.Target{{Value: "example.com", Type: domain.TargetDomain}}},
		CreatedAt:  testNow, UpdatedAt: testNow,
	}); err != nil {
		t.Fatalf("create scope: %v", err)
	}
	if err := store.Runs().Create(ctx, domain.Run{
		ID: "run-1", ProjectID: "proj-1", ScopeID: "scope-1", Status: domain.RunStatusRunning,
		PolicyVersion: "v1", CreatedBy: "alice", CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	action := domain.ActionSpec{
		ID:         "action-1",
		RunID:      "run-1",
		Invocation: domain.NewInvocation(&domain.SQLMapArgs{Level: 1}),
		Target:     "https://example.com/login",
		Tier:       domain.TierC,
		ManualOnly: true,
		Status:     domain.ActionStatusPendingApproval,
		ProposedBy: "agent-1",
		CreatedAt:  testNow,
	}
	action.ContentHash, _ = action.ComputeHash()
	if err := store.Actions().Create(ctx, action); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if err := store.ManualTasks().Create(ctx, domain.ManualTask{
		ID: "task-1", RunID: "run-1", ActionID: "action-1", Tool: domain.ToolSQLMap,
		Target: action.Target, Procedure: "run sqlmap by hand", Status: domain.ManualTaskOpen, CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	clock := func() time.Time { return testNow }
	ev := evidence.New(store, objectstore.NewMemoryStore("evidence-test"), nil).WithClock(clock)
	return New(store, ev).WithClock(clock), ev, store
}

func TestCompleteClosesActionAsHumanExecuted(t *testing.T) {
	svc, ev, store := setup(t)
	ctx := context.Background()
	alice := status.AuditInfo{Actor: "alice"}

	task, err := svc.Complete(ctx, alice, "task-1", CompleteRequest{Notes: "not injectable", Output: "all tests negative"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != domain.ManualTaskCompleted || task.EvidenceID == "" || task.CompletedBy != "alice" {
		t.Fatalf("unexpected task: %+v", task)
	}

	action, err := store.Actions().Get(ctx, "action-1")
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if action.Status != domain.ActionStatusRejected || action.RejectionReason != HumanExecuted {
		t.Fatalf("expected REJECTED/%s, got %s/%s", HumanExecuted, action.Status, action.RejectionReason)
	}
	if _, _, err := ev.Get(ctx, task.EvidenceID); err != nil {
		t.Fatalf("attached evidence does not verify: %v", err)
	}

	if _, err := svc.Complete(ctx, alice, "task-1", CompleteRequest{Notes: "again"}); !domain.IsCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION on second completion, got %v", err)
	}
}

func TestCompleteRequiresNotes(t *testing.T) {
	svc, _, _ := setup(t)
	if _, err := svc.Complete(context.Background(), status.AuditInfo{Actor: "alice"}, "task-1", CompleteRequest{}); !domain.IsCode(err, domain.CodeInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestListByRun(t *testing.T) {
	svc, _, _ := setup(t)
	tasks, err := svc.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}
