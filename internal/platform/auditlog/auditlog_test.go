package auditlog

import (
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

func TestPrepare_DeterministicIntegrity(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := domain.AuditEntry{
		RunID:     "run-1",
		Actor:     "policy-engine",
		EventType: domain.EventActionProposed,
		IP:        "10.1.2.3:5555",
		Details:   domain.Metadata{"tier": "A", "risk_score": 0.35},
		Timestamp: at,
	}
	a, detailsA, err := Prepare(entry, time.Time{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	b, detailsB, _ := Prepare(entry, time.Time{})
	if a.IntegritySHA256 == "" || a.IntegritySHA256 != b.IntegritySHA256 {
		t.Fatalf("integrity mismatch %q vs %q", a.IntegritySHA256, b.IntegritySHA256)
	}
	if string(detailsA) != string(detailsB) {
		t.Fatalf("details not canonical")
	}
	if a.IP != "10.1.2.3" {
		t.Fatalf("IP=%q, want 10.1.2.3", a.IP)
	}
}

func TestVerifyIntegrity_DetectsTamper(t *testing.T) {
	sealed, _, err := Prepare(domain.AuditEntry{
		Actor:     "worker-1",
		EventType: domain.EventExecutionStarted,
		Details:   domain.Metadata{"action_id": "a1"},
	}, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ok, err := VerifyIntegrity(sealed)
	if err != nil || !ok {
		t.Fatalf("VerifyIntegrity ok=%v err=%v", ok, err)
	}
	sealed.Actor = "someone-else"
	if ok, _ := VerifyIntegrity(sealed); ok {
		t.Fatalf("expected tampered entry to fail verification")
	}
}

func TestPrepare_RequiresActor(t *testing.T) {
	if _, _, err := Prepare(domain.AuditEntry{EventType: domain.EventRunCreated}, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
