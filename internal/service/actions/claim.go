package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

// Executable lists APPROVED, worker executable actions of RUNNING runs. The
// returned actions carry their execution token.
func (s *Service) Executable(ctx context.Context, limit int) ([]domain.ActionSpec, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.Actions().ListExecutable(ctx, limit)
}

// Claim moves an APPROVED action to EXECUTING for workerID. Exactly one
// caller wins; the others get INVALID_TRANSITION. A run that is not RUNNING
// refuses the claim with RUN_NOT_RUNNING.
func (s *Service) Claim(ctx context.Context, info status.AuditInfo, actionID string) (domain.ActionSpec, error) {
	if err := s.ready(); err != nil {
		return domain.ActionSpec{}, err
	}
	workerID := strings.TrimSpace(info.Actor)
	if workerID == "" {
		return domain.ActionSpec{}, domain.NewError(domain.CodeInvalidRequest, "worker identity is required")
	}
	actionID = strings.TrimSpace(actionID)

	var claimed domain.ActionSpec
	err := s.store.InTx(ctx, func(tx repo.Tx) error {
		action, err := tx.Actions().Get(ctx, actionID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.NewError(domain.CodeNotFound, "action %s not found", actionID)
		}
		if err != nil {
			return err
		}
		if action.ManualOnly {
			return domain.NewError(domain.CodeManualOnlyRefused, "action %s is manual only", action.ID)
		}
		run, err := tx.Runs().Get(ctx, action.RunID)
		if err != nil {
			return err
		}
		if run.Status != domain.RunStatusRunning {
			return domain.NewError(domain.CodeRunNotRunning, "run %s is %s", run.ID, run.Status)
		}
		if action.Status != domain.ActionStatusApproved {
			return domain.NewError(domain.CodeInvalidTransition, "action %s is %s, not APPROVED", action.ID, action.Status)
		}
		if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusExecuting, repo.ActionPatch{ClaimedBy: workerID},
			status.Event{Info: info, EventType: domain.EventExecutionStarted, Details: domain.Metadata{"worker_id": workerID}}); err != nil {
			return err
		}
		action.Status = domain.ActionStatusExecuting
		action.ClaimedBy = workerID
		claimed = action
		return nil
	})
	if err != nil {
		return domain.ActionSpec{}, err
	}
	s.logger.Info("action claimed", "action_id", claimed.ID, "run_id", claimed.RunID, "worker_id", workerID)
	return claimed, nil
}
