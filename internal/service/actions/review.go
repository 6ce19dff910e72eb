package actions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

// Review is the result of an approval or rejection.
type Review struct {
	Action    domain.ActionSpec `json:"action"`
	Approval  *domain.Approval  `json:"approval,omitempty"`
	Approvals int               `json:"approvals"`
	// Unchanged is set when the action had already reached the requested
	// outcome and nothing was written.
	Unchanged bool `json:"unchanged,omitempty"`
}

// Approve records an approval by the caller. The action becomes APPROVED and
// receives its token once RequiredApprovals distinct approvers signed off.
// Approving an APPROVED action is a no-op and never issues a second token.
func (s *Service) Approve(ctx context.Context, info status.AuditInfo, actionID, reason string) (Review, error) {
	return s.review(ctx, info, actionID, domain.DecisionApprove, reason)
}

// Reject closes a pending action as REJECTED.
func (s *Service) Reject(ctx context.Context, info status.AuditInfo, actionID, reason string) (Review, error) {
	return s.review(ctx, info, actionID, domain.DecisionReject, reason)
}

func (s *Service) review(ctx context.Context, info status.AuditInfo, actionID string, decision domain.Decision, reason string) (Review, error) {
	if strings.TrimSpace(info.Actor) == "" {
		return Review{}, domain.NewError(domain.CodeInvalidRequest, "reviewer identity is required")
	}
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return Review{}, err
	}
	if done, ok := alreadyDone(action, decision); ok {
		return done, nil
	}
	if decision == domain.DecisionApprove && action.ManualOnly {
		return Review{}, domain.NewError(domain.CodeManualOnlyRefused, "action %s is manual only and can not be approved for worker execution", action.ID)
	}
	if action.Status != domain.ActionStatusPendingApproval {
		return Review{}, domain.NewError(domain.CodeInvalidTransition, "action %s is %s, not PENDING_APPROVAL", action.ID, action.Status)
	}
	run, err := s.store.Runs().Get(ctx, action.RunID)
	if err != nil {
		return Review{}, err
	}
	if decision == domain.DecisionApprove && run.Status.Terminal() {
		return Review{}, domain.NewError(domain.CodeRunNotRunning, "run %s is %s", run.ID, run.Status)
	}

	out, err := s.recordReview(ctx, info, action, decision, strings.TrimSpace(reason))
	if domain.IsCode(err, domain.CodeInvalidTransition) {
		// A concurrent reviewer moved the action first.
		if current, getErr := s.Get(ctx, action.ID); getErr == nil {
			if done, ok := alreadyDone(current, decision); ok {
				return done, nil
			}
		}
	}
	return out, err
}

func alreadyDone(action domain.ActionSpec, decision domain.Decision) (Review, bool) {
	switch {
	case decision == domain.DecisionApprove && action.Status == domain.ActionStatusApproved:
		return Review{Action: action, Unchanged: true}, true
	case decision == domain.DecisionReject && action.Status == domain.ActionStatusRejected:
		return Review{Action: action, Unchanged: true}, true
	}
	return Review{}, false
}

func (s *Service) recordReview(ctx context.Context, info status.AuditInfo, action domain.ActionSpec, decision domain.Decision, reason string) (Review, error) {
	now := s.now().UTC()
	approval := domain.Approval{
		ID:            uuid.NewString(),
		ActionID:      action.ID,
		RunID:         action.RunID,
		ApprovedBy:    info.Actor,
		Decision:      decision,
		Reason:        reason,
		PolicyVersion: action.PolicyVersion,
		CreatedAt:     now,
	}
	sig, err := s.signApproval(approval, action.ContentHash)
	if err != nil {
		return Review{}, err
	}
	approval.Signature = sig

	out := Review{Approval: &approval}
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		// Reviewers of the same action serialize here; the approval count below then sees every committed vote.
		if err := tx.Actions().Lock(ctx, action.ID, domain.ActionStatusPendingApproval); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return domain.NewError(domain.CodeInvalidTransition, "action %s is no longer PENDING_APPROVAL", action.ID)
			}
			return err
		}
		if err := tx.Approvals().Create(ctx, approval); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return domain.NewError(domain.CodeApproverConflict, "%s already reviewed action %s; a distinct reviewer is required", info.Actor, action.ID)
			}
			return err
		}
		details := domain.Metadata{
			"approval_id":        approval.ID,
			"approved_by":        approval.ApprovedBy,
			"decision":           string(decision),
			"required_approvals": action.RequiredApprovals,
		}
		if reason != "" {
			details["reason"] = reason
		}

		if decision == domain.DecisionReject {
			msg := "rejected by reviewer"
			if reason != "" {
				msg += ": " + reason
			}
			if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusRejected,
				repo.ActionPatch{RejectionReason: msg},
				status.Event{Info: info, EventType: domain.EventActionRejected, Details: details}); err != nil {
				return err
			}
			action.Status = domain.ActionStatusRejected
			action.RejectionReason = msg
			out.Action = action
			return nil
		}

		approvals, err := tx.Approvals().ListByAction(ctx, action.ID)
		if err != nil {
			return err
		}
		for _, a := range approvals {
			if a.Decision == domain.DecisionApprove {
				out.Approvals++
			}
		}
		details["approvals"] = out.Approvals
		required := action.RequiredApprovals
		if required < 1 {
			required = 1
		}
		if out.Approvals < required {
			_, err := tx.Audit().Append(ctx, domain.AuditEntry{
				RunID:        action.RunID,
				Actor:        info.Actor,
				EventType:    domain.EventActionApprovalRecorded,
				ResourceType: "action",
				ResourceID:   action.ID,
				RequestID:    info.RequestID,
				IP:           info.IP,
				UserAgent:    info.UserAgent,
				Details:      details,
				Timestamp:    now,
			})
			out.Action = action
			return err
		}

		patch, err := s.issueToken(action)
		if err != nil {
			return err
		}
		if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusApproved, patch,
			status.Event{Info: info, EventType: domain.EventActionApproved, Details: details}); err != nil {
			return err
		}
		action.Status = domain.ActionStatusApproved
		action.Token, action.TokenExpiresAt = patch.Token, patch.TokenExpiresAt
		out.Action = action
		return nil
	})
	if err != nil {
		return Review{}, err
	}
	if out.Action.Status == domain.ActionStatusApproved {
		s.metrics.ObserveApprovalLatency(now.Sub(action.CreatedAt))
	}
	return out, nil
}

// ApprovalPayload is the canonical form signed for an approval record.
func ApprovalPayload(a domain.Approval, contentHash string) ([]byte, error) {
	return domain.CanonicalJSON(map[string]any{
		"approval_id":    a.ID,
		"action_id":      a.ActionID,
		"run_id":         a.RunID,
		"content_hash":   contentHash,
		"approved_by":    a.ApprovedBy,
		"decision":       string(a.Decision),
		"policy_version": a.PolicyVersion,
		"created_at":     a.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Service) signApproval(a domain.Approval, contentHash string) (string, error) {
	payload, err := ApprovalPayload(a, contentHash)
	if err != nil {
		return "", err
	}
	return s.signer.SignBytes(payload)
}
