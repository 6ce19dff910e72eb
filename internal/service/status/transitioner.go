package status

import (
	"context"
	"errors"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

// AuditInfo identifies the caller behind a state change.
type AuditInfo struct {
	Actor     string
	RequestID string
	IP        string
	UserAgent string
}

// Event is the audit record written alongside a transition.
type Event struct {
	Info      AuditInfo
	EventType domain.EventType
	Details   domain.Metadata
}

type Transitioner struct {
	now func() time.Time
}

func New() *Transitioner {
	return &Transitioner{now: time.Now}
}

// WithClock returns a copy of t reading time from now.
func (t *Transitioner) WithClock(now func() time.Time) *Transitioner {
	if now == nil {
		return t
	}
	return &Transitioner{now: now}
}

func (t *Transitioner) TransitionRun(ctx context.Context, tx repo.Tx, runID string, from, to domain.RunStatus, patch repo.RunPatch, ev Event) (domain.AuditEntry, error) {
	if err := domain.ValidateRunTransition(from, to); err != nil {
		return domain.AuditEntry{}, err
	}
	if err := tx.Runs().CompareAndSetStatus(ctx, runID, from, to, patch); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.AuditEntry{}, domain.NewError(domain.CodeInvalidTransition, "run %s is no longer %s", runID, from)
		}
		return domain.AuditEntry{}, err
	}
	return tx.Audit().Append(ctx, t.entry(runID, "run", runID, string(from), string(to), ev))
}

func (t *Transitioner) TransitionAction(ctx context.Context, tx repo.Tx, action domain.ActionSpec, to domain.ActionStatus, patch repo.ActionPatch, ev Event) (domain.AuditEntry, error) {
	from := action.Status
	if err := domain.ValidateActionTransition(from, to); err != nil {
		return domain.AuditEntry{}, err
	}
	if err := tx.Actions().CompareAndSetStatus(ctx, action.ID, from, to, patch, t.now()); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.AuditEntry{}, domain.NewError(domain.CodeInvalidTransition, "action %s is no longer %s", action.ID, from)
		}
		return domain.AuditEntry{}, err
	}
	ev.Details = ev.Details.Clone()
	if _, ok := ev.Details["tool"]; !ok && action.Invocation.Tool != "" {
		ev.Details["tool"] = string(action.Invocation.Tool)
	}
	if patch.RejectionCode != "" {
		ev.Details["code"] = string(patch.RejectionCode)
	}
	return tx.Audit().Append(ctx, t.entry(action.RunID, "action", action.ID, string(from), string(to), ev))
}

func (t *Transitioner) entry(runID, resourceType, resourceID, from, to string, ev Event) domain.AuditEntry {
	details := ev.Details.Clone()
	details["from"] = from
	details["to"] = to
	return domain.AuditEntry{
		RunID:        runID,
		Actor:        ev.Info.Actor,
		EventType:    ev.EventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    ev.Info.RequestID,
		IP:           ev.Info.IP,
		UserAgent:    ev.Info.UserAgent,
		Details:      details,
		Timestamp:    t.now(),
	}
}
