package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/policy"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

var fixtureNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *sqlstore.Store
	codec   *token.HMACCodec
	metrics *metrics.Registry
	runID   string
}

func newFixture(t *testing.T, mutate func(*policy.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	store, db, err := sqlstore.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := policy.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := func() time.Time { return fixtureNow }
	engine := policy.NewEngine(cfg, store.Actions(), policy.WithClock(clock))
	codec, err := token.NewHMACCodec("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	scope := domain.Scope{
		ID:        "scope-1",
		ProjectID: "proj-1",
		Definition: domain.ScopeDefinition{
			Targets: []domain.Target{
				{Value: "https://example.com", Type: domain.TargetURL, Criticality: domain.CriticalityMedium},
				{Value: "api.example.com", Type: domain.TargetDomain, Criticality: domain.CriticalityHigh},
			},
			ApprovedTools: []string{"httpx", "nmap", "sqlmap"},
		},
		Status:    domain.ScopeStatusDraft,
		Version:   1,
		CreatedBy: "alice",
		CreatedAt: fixtureNow,
		UpdatedAt: fixtureNow,
	}
	if err := store.Scopes().Create(ctx, scope); err != nil {
		t.Fatalf("create scope: %v", err)
	}
	if err := store.Scopes().Lock(ctx, scope.ID, "alice", "sig", fixtureNow); err != nil {
		t.Fatalf("lock scope: %v", err)
	}
	run := domain.Run{
		ID:            "run-1",
		ProjectID:     "proj-1",
		ScopeID:       scope.ID,
		Status:        domain.RunStatusRunning,
		PolicyVersion: cfg.Version,
		CreatedBy:     "alice",
		CreatedAt:     fixtureNow,
	}
	if err := store.Runs().Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	reg := metrics.NewRegistry()
	svc := New(store, engine, codec, WithClock(clock), WithTokenTTL(10*time.Minute), WithMetrics(reg))
	return &fixture{svc: svc, store: store, codec: codec, metrics: reg, runID: run.ID}
}

func (f *fixture) propose(t *testing.T, tool domain.ToolName, args any, target string) Proposal {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	p, err := f.svc.Propose(context.Background(), agent, f.runID, ProposeRequest{
		Tool:          tool,
		Arguments:     raw,
		Target:        target,
		Justification: "map the attack surface",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return p
}

var (
	agent = status.AuditInfo{Actor: "agent-1", RequestID: "req-agent"}
	alice = status.AuditInfo{Actor: "alice"}
	bob   = status.AuditInfo{Actor: "bob"}
)
