package actions

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

func TestConcurrentClaimHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	p := f.propose(t, domain.ToolHTTPX, map[string]any{}, "https://example.com")
	if p.Action.Status != domain.ActionStatusApproved {
		t.Fatalf("expected approved action, got %s", p.Action.Status)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info := status.AuditInfo{Actor: fmt.Sprintf("worker-%d", i)}
			_, err := f.svc.Claim(context.Background(), info, p.Action.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, info.Actor)
			case domain.IsCode(err, domain.CodeInvalidTransition):
				losers++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 || losers != workers-1 {
		t.Fatalf("expected one winner and %d losers, got %v and %d", workers-1, winners, losers)
	}
	entries, err := f.store.Audit().ListByRun(context.Background(), f.runID, 50)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	started := 0
	for _, e := range entries {
		if e.EventType == domain.EventExecutionStarted {
			started++
			if e.Details["worker_id"] != winners[0] {
				t.Fatalf("audit names %v, winner was %s", e.Details["worker_id"], winners[0])
			}
		}
	}
	if started != 1 {
		t.Fatalf("expected one EXECUTION_STARTED entry, got %d", started)
	}
	stored, err := f.store.Actions().Get(context.Background(), p.Action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if stored.ClaimedBy != winners[0] {
		t.Fatalf("claimed_by = %q, winner was %s", stored.ClaimedBy, winners[0])
	}
}

func TestClaimRefusesStoppedRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.propose(t, domain.ToolHTTPX, map[string]any{}, "https://example.com")
	if err := f.store.Runs().CompareAndSetStatus(ctx, f.runID, domain.RunStatusRunning, domain.RunStatusAborted, repo.RunPatch{AbortReason: "kill"}); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := f.svc.Claim(ctx, status.AuditInfo{Actor: "worker-1"}, p.Action.ID); !domain.IsCode(err, domain.CodeRunNotRunning) {
		t.Fatalf("expected RUN_NOT_RUNNING, got %v", err)
	}
	executable, err := f.svc.Executable(ctx, 10)
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	if len(executable) != 0 {
		t.Fatalf("aborted runs must not offer work, got %d", len(executable))
	}
	stored, err := f.store.Actions().Get(ctx, p.Action.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.ActionStatusApproved {
		t.Fatalf("refused claim mutated the action: %s", stored.Status)
	}
}

func TestExecutableCarriesToken(t *testing.T) {
	f := newFixture(t, nil)
	p := f.propose(t, domain.ToolHTTPX, map[string]any{}, "https://example.com")
	f.propose(t, domain.ToolSQLMap, map[string]any{}, "https://example.com")

	items, err := f.svc.Executable(context.Background(), 10)
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	if len(items) != 1 || items[0].ID != p.Action.ID || items[0].Token == "" {
		t.Fatalf("expected only the approved httpx action with token, got %+v", items)
	}
}
