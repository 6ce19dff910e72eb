package scopes

import (
	"context"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

func newService(t *testing.T) (*Service, *sqlstore.Store) {
	t.Helper()
	store, db, err := sqlstore.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	codec, err := token.NewHMACCodec("scope-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	return New(store, codec).WithClock(func() time.Time { return now }), store
}

func definition() domain.ScopeDefinition {
	return domain.ScopeDefinition{
		Targets:       []domain.Target{{Value: "example.com", Criticality: "low"}},
		ApprovedTools: []string{"HTTPX"},
	}
}

func TestCreateNormalizesAndAudits(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	info := status.AuditInfo{Actor: "alice", RequestID: "req-1"}

	scope, err := svc.Create(ctx, info, "proj-1", definition())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if scope.Status != domain.ScopeStatusDraft || scope.Version != 1 {
		t.Fatalf("unexpected scope: %+v", scope)
	}
	got, err := svc.Get(ctx, scope.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Definition.ApprovedTools[0] != "httpx" {
		t.Fatalf("approved tools not normalized: %v", got.Definition.ApprovedTools)
	}
	if got.Definition.Targets[0].Criticality != domain.CriticalityLow {
		t.Fatalf("criticality not normalized: %q", got.Definition.Targets[0].Criticality)
	}
}

func TestCreateRejectsEmptyTargets(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), status.AuditInfo{Actor: "alice"}, "proj-1", domain.ScopeDefinition{})
	if !domain.IsCode(err, domain.CodeInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestLockedScopeRejectsUpdatesAndSecondLock(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	info := status.AuditInfo{Actor: "alice"}

	scope, err := svc.Create(ctx, info, "proj-1", definition())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := svc.Update(ctx, info, scope.ID, scope.Version, domain.ScopeDefinition{
		Targets:       []domain.Target{{Value: "example.com"}, {Value: "10.0.0.0/24"}},
		ApprovedTools: []string{"httpx", "nmap"},
	})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	if _, err := svc.Update(ctx, info, scope.ID, 1, definition()); !domain.IsCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected stale version conflict, got %v", err)
	}

	locked, err := svc.Lock(ctx, info, scope.ID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !locked.IsLocked() || locked.LockSignature == "" || locked.LockedBy != "alice" {
		t.Fatalf("unexpected locked scope: %+v", locked)
	}

	if _, err := svc.Update(ctx, info, scope.ID, 0, definition()); !domain.IsCode(err, domain.CodeScopeLocked) {
		t.Fatalf("expected SCOPE_LOCKED, got %v", err)
	}
	if _, err := svc.Lock(ctx, info, scope.ID); !domain.IsCode(err, domain.CodeInvalidRequest) {
		t.Fatalf("expected second lock to fail with INVALID_REQUEST, got %v", err)
	}

	stored, err := svc.Get(ctx, scope.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Definition.Targets) != 2 {
		t.Fatalf("locked definition changed: %+v", stored.Definition)
	}
}

func TestLockPayloadIsStable(t *testing.T) {
	scope := domain.Scope{ID: "scope-1", ProjectID: "proj-1", Version: 3, Definition: definition()}
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	h1, p1, err := LockPayload(scope, "alice", at)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	h2, p2, err := LockPayload(scope, "alice", at)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if h1 != h2 || string(p1) != string(p2) {
		t.Fatalf("lock payload not deterministic")
	}
	scope.Version = 4
	_, p3, _ := LockPayload(scope, "alice", at)
	if string(p3) == string(p1) {
		t.Fatalf("payload must change with version")
	}
}

func TestGetMissingScope(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Get(context.Background(), "nope"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
