// Package manualtasks tracks human-only validation of manual-only actions.
// Completing a task attaches the human's evidence and closes the action as
// REJECTED with reason human_executed, so no worker ever runs it.
package manualtasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

const HumanExecuted = "human_executed"

type Service struct {
	store       repo.Store
	evidence    *evidence.Service
	transitions *status.Transitioner
	now         func() time.Time
}

func New(store repo.Store, ev *evidence.Service) *Service {
	return &Service{store: store, evidence: ev, transitions: status.New(), now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
		s.transitions = status.New().WithClock(now)
	}
	return s
}

type CompleteRequest struct {
	Notes  string          `json:"notes"`
	Output string          `json:"output"`
	Meta   domain.Metadata `json:"metadata,omitempty"`
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.evidence == nil {
		return fmt.Errorf("manual task service not initialized")
	}
	return nil
}

func (s *Service) ListByRun(ctx context.Context, runID string) ([]domain.ManualTask, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.ManualTasks().ListByRun(ctx, strings.TrimSpace(runID))
}

func (s *Service) Get(ctx context.Context, id string) (domain.ManualTask, error) {
	if err := s.ready(); err != nil {
		return domain.ManualTask{}, err
	}
	task, err := s.store.ManualTasks().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ManualTask{}, domain.NewError(domain.CodeNotFound, "manual task %s not found", id)
	}
	return task, err
}

func (s *Service) Complete(ctx context.Context, info status.AuditInfo, taskID string, req CompleteRequest) (domain.ManualTask, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return domain.ManualTask{}, err
	}
	if task.Status != domain.ManualTaskOpen {
		return domain.ManualTask{}, domain.NewError(domain.CodeInvalidTransition, "manual task %s is already %s", task.ID, task.Status)
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return domain.ManualTask{}, domain.NewError(domain.CodeInvalidRequest, "notes are required")
	}
	action, err := s.store.Actions().Get(ctx, task.ActionID)
	if err != nil {
		return domain.ManualTask{}, err
	}
	if action.Status != domain.ActionStatusPendingApproval {
		return domain.ManualTask{}, domain.NewError(domain.CodeInvalidTransition, "action %s is %s, not PENDING_APPROVAL", action.ID, action.Status)
	}

	now := s.now().UTC()
	body, err := domain.CanonicalJSON(map[string]any{
		"task_id":      task.ID,
		"action_id":    action.ID,
		"tool":         string(task.Tool),
		"target":       task.Target,
		"notes":        notes,
		"output":       req.Output,
		"metadata":     req.Meta.Clone(),
		"completed_by": info.Actor,
		"completed_at": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.ManualTask{}, domain.WrapError(domain.CodeInvalidRequest, err, "metadata is not serializable")
	}
	ev, err := s.evidence.Put(ctx, evidence.Draft{
		RunID:       task.RunID,
		ActionID:    action.ID,
		Type:        domain.EvidenceManualResult,
		GeneratedBy: info.Actor,
		Body:        body,
		Metadata:    domain.Metadata{"task_id": task.ID, "tool": string(task.Tool)},
	})
	if err != nil {
		return domain.ManualTask{}, err
	}

	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := s.evidence.Record(ctx, tx, info, ev); err != nil {
			return err
		}
		if err := tx.ManualTasks().Complete(ctx, task.ID, info.Actor, notes, ev.ID, now); err != nil {
			return err
		}
		if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusRejected,
			repo.ActionPatch{RejectionReason: HumanExecuted},
			status.Event{Info: info, EventType: domain.EventActionRejected, Details: domain.Metadata{"reason": HumanExecuted, "task_id": task.ID}}); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, domain.AuditEntry{
			RunID:        task.RunID,
			Actor:        info.Actor,
			EventType:    domain.EventManualTaskCompleted,
			ResourceType: "manual_task",
			ResourceID:   task.ID,
			RequestID:    info.RequestID,
			IP:           info.IP,
			UserAgent:    info.UserAgent,
			Details:      domain.Metadata{"action_id": action.ID, "evidence_id": ev.ID},
			Timestamp:    now,
		})
		return err
	})
	if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrDuplicate) {
		return domain.ManualTask{}, domain.NewError(domain.CodeInvalidTransition, "manual task %s was completed concurrently", task.ID)
	}
	if err != nil {
		return domain.ManualTask{}, err
	}
	task.Status = domain.ManualTaskCompleted
	task.CompletedBy = info.Actor
	task.Notes = notes
	task.EvidenceID = ev.ID
	task.CompletedAt = &now
	return task, nil
}
