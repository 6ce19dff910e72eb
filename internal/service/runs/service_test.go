package runs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]domain.RunStatus
}

func (c *memoryCache) Get(_ context.Context, runID string) (domain.RunStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.data[runID]
	return st, ok, nil
}

func (c *memoryCache) Set(_ context.Context, runID string, st domain.RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string]domain.RunStatus{}
	}
	c.data[runID] = st
	return nil
}

func (c *memoryCache) Ping(context.Context) error { return nil }

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *sqlstore.Store, *memoryCache) {
	t.Helper()
	store, db, err := sqlstore.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cache := &memoryCache{}
	svc := New(store, "v1", WithCache(cache), WithClock(func() time.Time { return testNow }))
	return svc, store, cache
}

func seedScope(t *testing.T, store *sqlstore.Store, id string, locked bool) {
	t.Helper()
	ctx := context.Background()
	scope := domain.Scope{
		ID:        id,
		ProjectID: "proj-1",
		Definition: domain.ScopeDefinition{
			Targets:       []domain.Target{{Value: "example.com", Type: domain.TargetDomain, Criticality: domain.CriticalityLow}},
			ApprovedTools: []string{"httpx"},
		},
		Status:    domain.ScopeStatusDraft,
		Version:   1,
		CreatedBy: "alice",
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	if err := store.Scopes().Create(ctx, scope); err != nil {
		t.Fatalf("create scope: %v", err)
	}
	if locked {
		if err := store.Scopes().Lock(ctx, id, "alice", "sig", testNow); err != nil {
			t.Fatalf("lock scope: %v", err)
		}
	}
}

func TestCreateRequiresLockedScope(t *testing.T) {
	svc, store, _ := newService(t)
	seedScope(t, store, "draft", false)
	info := status.AuditInfo{Actor: "alice"}

	if _, err := svc.Create(context.Background(), info, "", "draft"); !domain.IsCode(err, domain.CodeScopeNotLocked) {
		t.Fatalf("expected SCOPE_NOT_LOCKED, got %v", err)
	}
	if _, err := svc.Create(context.Background(), info, "", "missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestLifecycleUpdatesCacheAndTimeline(t *testing.T) {
	svc, store, cache := newService(t)
	seedScope(t, store, "scope-1", true)
	ctx := context.Background()
	info := status.AuditInfo{Actor: "alice"}

	run, err := svc.Create(ctx, info, "proj-1", "scope-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.Status != domain.RunStatusCreated || run.PolicyVersion != "v1" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if _, err := svc.Stop(ctx, info, run.ID); !domain.IsCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected stop of CREATED run to fail, got %v", err)
	}
	if _, err := svc.Start(ctx, info, run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st, _, _ := cache.Get(ctx, run.ID); st != domain.RunStatusRunning {
		t.Fatalf("cache not updated on start: %q", st)
	}
	if _, err := svc.Start(ctx, info, run.ID); !domain.IsCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected double start to fail, got %v", err)
	}
	stopped, err := svc.Stop(ctx, info, run.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stopped.Status)
	}

	timeline, err := svc.Timeline(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	want := []domain.EventType{domain.EventRunCreated, domain.EventRunStarted, domain.EventRunStopped}
	if len(timeline) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(timeline))
	}
	for i, ev := range want {
		if timeline[i].EventType != ev {
			t.Fatalf("entry %d: expected %s, got %s", i, ev, timeline[i].EventType)
		}
	}
}

func TestKillIsIdempotent(t *testing.T) {
	svc, store, cache := newService(t)
	seedScope(t, store, "scope-1", true)
	ctx := context.Background()
	info := status.AuditInfo{Actor: "alice"}

	run, err := svc.Create(ctx, info, "", "scope-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Start(ctx, info, run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	killed, err := svc.Kill(ctx, info, run.ID, "operator stop")
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if killed.Status != domain.RunStatusAborted || killed.AbortReason != "operator stop" {
		t.Fatalf("unexpected killed run: %+v", killed)
	}
	again, err := svc.Kill(ctx, info, run.ID, "second")
	if err != nil {
		t.Fatalf("second kill: %v", err)
	}
	if again.AbortReason != "operator stop" {
		t.Fatalf("second kill must not rewrite the reason, got %q", again.AbortReason)
	}
	if st, _, _ := cache.Get(ctx, run.ID); st != domain.RunStatusAborted {
		t.Fatalf("cache not updated on kill: %q", st)
	}

	timeline, err := svc.Timeline(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	kills := 0
	for _, e := range timeline {
		if e.EventType == domain.EventKillSwitchActivated {
			kills++
		}
	}
	if kills != 1 {
		t.Fatalf("expected one kill audit entry, got %d", kills)
	}
}

func TestStatusFallsBackToStore(t *testing.T) {
	svc, store, cache := newService(t)
	seedScope(t, store, "scope-1", true)
	ctx := context.Background()

	run, err := svc.Create(ctx, status.AuditInfo{Actor: "alice"}, "", "scope-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cache.data = nil
	st, err := svc.Status(ctx, run.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st != domain.RunStatusCreated {
		t.Fatalf("expected CREATED, got %s", st)
	}
	if cached, ok, _ := cache.Get(ctx, run.ID); !ok || cached != domain.RunStatusCreated {
		t.Fatalf("status lookup should repopulate cache")
	}
}

func TestStatsCountsAudit(t *testing.T) {
	svc, store, _ := newService(t)
	seedScope(t, store, "scope-1", true)
	ctx := context.Background()

	run, err := svc.Create(ctx, status.AuditInfo{Actor: "alice"}, "", "scope-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stats, err := svc.Stats(ctx, run.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ActionSpecsCount != 0 || stats.EvidenceCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastActivityAt == nil || !stats.LastActivityAt.Equal(testNow) {
		t.Fatalf("expected last activity at %v, got %v", testNow, stats.LastActivityAt)
	}
}
