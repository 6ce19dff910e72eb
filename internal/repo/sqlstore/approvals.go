package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

type approvalStore struct {
	c conn
}

const (
	insertApprovalQuery = `INSERT INTO approvals (id, action_id, run_id, approved_by, decision, reason, signature, policy_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	listApprovalsQuery = `SELECT id, action_id, run_id, approved_by, decision, reason, signature, policy_version, created_at
		FROM approvals WHERE action_id = ? ORDER BY created_at, id`
)

// Create returns repo.ErrDuplicate when the approver already decided on the action.
func (s approvalStore) Create(ctx context.Context, approval domain.Approval) error {
	if err := approval.Validate(); err != nil {
		return err
	}
	_, err := s.c.exec(ctx, insertApprovalQuery,
		approval.ID,
		approval.ActionID,
		approval.RunID,
		approval.ApprovedBy,
		string(approval.Decision),
		nullIfEmpty(approval.Reason),
		approval.Signature,
		approval.PolicyVersion,
		normalizeTime(approval.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", handleDuplicate(err))
	}
	return nil
}

func (s approvalStore) ListByAction(ctx context.Context, actionID string) ([]domain.Approval, error) {
	rows, err := s.c.query(ctx, listApprovalsQuery, actionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		var (
			a        domain.Approval
			decision string
			reason   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ActionID, &a.RunID, &a.ApprovedBy, &decision, &reason, &a.Signature, &a.PolicyVersion, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.Decision = domain.Decision(decision)
		a.Reason = reason.String
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
