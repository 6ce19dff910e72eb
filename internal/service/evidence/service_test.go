package evidence

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/objectstore"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *sqlstore.Store, *objectstore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store, db, err := sqlstore.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	scope := domain.Scope{
		ID:         "scope-1",
		ProjectID:  "proj-1",
		Definition: domain.ScopeDefinition{Targets: []domain.Target{{Value: "example.com", Type: domain.TargetDomain}}},
		Status:     domain.ScopeStatusDraft,
		Version:    1,
		CreatedBy:  "alice",
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	if err := store.Scopes().Create(ctx, scope); err != nil {
		t.Fatalf("create scope: %v", err)
	}
	if err := store.Runs().Create(ctx, domain.Run{
		ID: "run-1", ProjectID: "proj-1", ScopeID: "scope-1", Status: domain.RunStatusRunning,
		PolicyVersion: "v1", CreatedBy: "alice", CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	objects := objectstore.NewMemoryStore("evidence-test")
	svc := New(store, objects, nil).WithClock(func() time.Time { return testNow })
	return svc, store, objects
}

func TestCreateAndVerifyRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	body := []byte(`{"stdout":"200 OK","tool":"httpx"}`)

	ev, err := svc.Create(ctx, status.AuditInfo{Actor: "worker-1"}, Draft{
		RunID:       "run-1",
		Type:        domain.EvidenceToolOutput,
		GeneratedBy: "worker-1",
		Body:        body,
		Metadata:    domain.Metadata{"returncode": 0},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.ContentHash != domain.SumBytes(body) {
		t.Fatalf("hash mismatch: %s", ev.ContentHash)
	}
	wantURI := "s3://evidence-test/" + objectstore.EvidenceKey("run-1", domain.HexDigest(ev.ContentHash))
	if ev.ArtifactURI != wantURI {
		t.Fatalf("expected uri %s, got %s", wantURI, ev.ArtifactURI)
	}

	got, gotBody, err := svc.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContentHash != ev.ContentHash || !reflect.DeepEqual(gotBody, body) {
		t.Fatalf("round trip mismatch")
	}
	if domain.SumBytes(gotBody) != got.ContentHash {
		t.Fatalf("recomputed hash differs from recorded hash")
	}
}

func TestGetDetectsTampering(t *testing.T) {
	svc, _, objects := newService(t)
	ctx := context.Background()
	ev, err := svc.Create(ctx, status.AuditInfo{Actor: "worker-1"}, Draft{
		RunID: "run-1", Type: domain.EvidenceToolOutput, GeneratedBy: "worker-1", Body: []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	objects.Corrupt(objectstore.EvidenceKey("run-1", domain.HexDigest(ev.ContentHash)), []byte(`{"a":2}`))

	if _, _, err := svc.Get(ctx, ev.ID); !domain.IsCode(err, domain.CodeIntegrityMismatch) {
		t.Fatalf("expected EVIDENCE_INTEGRITY_MISMATCH, got %v", err)
	}
}

func TestIdenticalArtifactsShareKey(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	draft := Draft{RunID: "run-1", Type: domain.EvidenceToolOutput, GeneratedBy: "worker-1", Body: []byte(`{"same":true}`)}
	first, err := svc.Create(ctx, status.AuditInfo{Actor: "worker-1"}, draft)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Create(ctx, status.AuditInfo{Actor: "worker-1"}, draft)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID == second.ID || first.ArtifactURI != second.ArtifactURI {
		t.Fatalf("expected two records over one content addressed object")
	}
}

func TestAttemptDeleteAlwaysForbiddenAndAudited(t *testing.T) {
	svc, store, objects := newService(t)
	ctx := context.Background()
	ev, err := svc.Create(ctx, status.AuditInfo{Actor: "worker-1"}, Draft{
		RunID: "run-1", Type: domain.EvidenceToolOutput, GeneratedBy: "worker-1", Body: []byte(`{"keep":true}`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, caller := range []status.AuditInfo{
		{Actor: "admin", IP: "10.1.1.1", UserAgent: "curl/8"},
		{},
	} {
		if err := svc.AttemptDelete(ctx, caller, ev.ID); !domain.IsCode(err, domain.CodeEvidenceDeleteForbidden) {
			t.Fatalf("expected EVIDENCE_DELETE_FORBIDDEN for %+v, got %v", caller, err)
		}
	}
	if _, err := objects.Get(ctx, objectstore.EvidenceKey("run-1", domain.HexDigest(ev.ContentHash))); err != nil {
		t.Fatalf("artifact must survive delete attempts: %v", err)
	}
	if _, _, err := svc.Get(ctx, ev.ID); err != nil {
		t.Fatalf("record must survive delete attempts: %v", err)
	}

	entries, err := store.Audit().ListByRun(ctx, "run-1", 50)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	attempts := 0
	for _, e := range entries {
		if e.EventType == domain.EventEvidenceDeleteAttempted {
			attempts++
			if e.ResourceID != ev.ID {
				t.Fatalf("attempt audited against %s", e.ResourceID)
			}
		}
	}
	if attempts != 2 {
		t.Fatalf("expected two audited attempts, got %d", attempts)
	}
}

func TestServiceHasNoDeleteOperation(t *testing.T) {
	typ := reflect.TypeOf(&Service{})
	for i := 0; i < typ.NumMethod(); i++ {
		name := typ.Method(i).Name
		if name == "Delete" || name == "Update" || name == "Overwrite" {
			t.Fatalf("evidence service exposes %s", name)
		}
	}
}

func TestCreateHumanEvidence(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ev, err := svc.CreateHuman(ctx, status.AuditInfo{Actor: "alice"}, "run-1", HumanUpload{Title: "manual check", Content: "login page confirmed"})
	if err != nil {
		t.Fatalf("create human: %v", err)
	}
	if ev.EvidenceType != domain.EvidenceManualResult || ev.GeneratedBy != "alice" || ev.ActionID != "" {
		t.Fatalf("unexpected evidence: %+v", ev)
	}
	if _, err := svc.CreateHuman(ctx, status.AuditInfo{Actor: "alice"}, "missing", HumanUpload{Content: "x"}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown run, got %v", err)
	}
}
