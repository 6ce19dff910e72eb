package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type actionStore struct {
	c conn
}

const (
	actionColumns = `id, run_id, tool, arguments, target, justification, content_hash, risk_score, tier, manual_only,
		required_approvals, status, rejection_code, rejection_reason, token, token_expires_at, claimed_by, proposed_by,
		policy_version, created_at, updated_at`
	insertActionQuery = `INSERT INTO action_specs (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectActionQuery     = `SELECT ` + actionColumns + ` FROM action_specs WHERE id = ?`
	selectExecutableQuery = `SELECT a.id, a.run_id, a.tool, a.arguments, a.target, a.justification, a.content_hash, a.risk_score,
		a.tier, a.manual_only, a.required_approvals, a.status, a.rejection_code, a.rejection_reason, a.token, a.token_expires_at,
		a.claimed_by, a.proposed_by, a.policy_version, a.created_at, a.updated_at
		FROM action_specs a JOIN runs r ON r.id = a.run_id
		WHERE a.status = ? AND a.manual_only = ? AND r.status = ?
		ORDER BY a.created_at, a.id LIMIT ?`
	// The status predicate makes the write a compare-and-set. Exactly one caller wins a race.
	casActionStatusQuery = `UPDATE action_specs SET status = ?, updated_at = ?,
		token = COALESCE(?, token),
		token_expires_at = COALESCE(?, token_expires_at),
		rejection_code = COALESCE(?, rejection_code),
		rejection_reason = COALESCE(?, rejection_reason),
		claimed_by = COALESCE(?, claimed_by)
		WHERE id = ? AND status = ?`
	// The no-op write takes the row lock, so concurrent reviewers of one action queue behind each other.
	lockActionQuery         = `UPDATE action_specs SET updated_at = updated_at WHERE id = ? AND status = ?`
	countRecentActionsQuery = `SELECT COUNT(*) FROM action_specs
		WHERE run_id = ? AND tool = ? AND target = ? AND created_at >= ? AND status <> 'REJECTED'`
	countActionsByStatusQuery = `SELECT status, COUNT(*) FROM action_specs WHERE run_id = ? GROUP BY status`
)

func (s actionStore) Create(ctx context.Context, action domain.ActionSpec) error {
	args, err := action.Invocation.RawArguments()
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	created := normalizeTime(action.CreatedAt)
	updated := created
	if !action.UpdatedAt.IsZero() {
		updated = normalizeTime(action.UpdatedAt)
	}
	_, err = s.c.exec(ctx, insertActionQuery,
		action.ID,
		action.RunID,
		string(action.Invocation.Tool),
		[]byte(args),
		action.Target,
		action.Justification,
		action.ContentHash,
		action.RiskScore,
		string(action.Tier),
		action.ManualOnly,
		action.RequiredApprovals,
		string(action.Status),
		nullIfEmpty(string(action.RejectionCode)),
		nullIfEmpty(action.RejectionReason),
		nullIfEmpty(action.Token),
		nullTime(action.TokenExpiresAt),
		nullIfEmpty(action.ClaimedBy),
		action.ProposedBy,
		action.PolicyVersion,
		created,
		updated,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", handleDuplicate(err))
	}
	return nil
}

func (s actionStore) Get(ctx context.Context, id string) (domain.ActionSpec, error) {
	action, err := scanAction(s.c.queryRow(ctx, selectActionQuery, id))
	if err != nil {
		return domain.ActionSpec{}, handleNotFound(err)
	}
	return action, nil
}

func (s actionStore) List(ctx context.Context, filter repo.ActionFilter) ([]domain.ActionSpec, error) {
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.RunID); v != "" {
		where = append(where, "run_id = ?")
		args = append(args, v)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+s.c.placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + actionColumns + ` FROM action_specs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, clampLimit(filter.Limit, 200, 1000))
	return s.list(ctx, query, args...)
}

func (s actionStore) ListExecutable(ctx context.Context, limit int) ([]domain.ActionSpec, error) {
	return s.list(ctx, selectExecutableQuery,
		string(domain.ActionStatusApproved),
		false,
		string(domain.RunStatusRunning),
		clampLimit(limit, 10, 100),
	)
}

func (s actionStore) list(ctx context.Context, query string, args ...any) ([]domain.ActionSpec, error) {
	rows, err := s.c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionSpec
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

func (s actionStore) CompareAndSetStatus(ctx context.Context, id string, from, to domain.ActionStatus, patch repo.ActionPatch, at time.Time) error {
	res, err := s.c.exec(ctx, casActionStatusQuery,
		string(to),
		normalizeTime(at),
		nullIfEmpty(patch.Token),
		nullTime(patch.TokenExpiresAt),
		nullIfEmpty(string(patch.RejectionCode)),
		nullIfEmpty(patch.RejectionReason),
		nullIfEmpty(patch.ClaimedBy),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update action status: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func (s actionStore) Lock(ctx context.Context, id string, expected domain.ActionStatus) error {
	res, err := s.c.exec(ctx, lockActionQuery, id, string(expected))
	if err != nil {
		return fmt.Errorf("lock action: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func (s actionStore) CountRecent(ctx context.Context, runID string, tool domain.ToolName, target string, since time.Time) (int, error) {
	var n int
	if err := s.c.queryRow(ctx, countRecentActionsQuery, runID, string(tool), target, normalizeTime(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent actions: %w", err)
	}
	return n, nil
}

func (s actionStore) CountByStatus(ctx context.Context, runID string) (map[domain.ActionStatus]int, error) {
	rows, err := s.c.query(ctx, countActionsByStatusQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}
	defer rows.Close()

	out := map[domain.ActionStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.ActionStatus(status)] = n
	}
	return out, rows.Err()
}

func scanAction(row rowScanner) (domain.ActionSpec, error) {
	var (
		action                         domain.ActionSpec
		tool, tier, status             string
		args                           []byte
		rejectionCode, rejectionReason sql.NullString
		token, claimedBy               sql.NullString
		tokenExpiresAt                 sql.NullTime
	)
	if err := row.Scan(
		&action.ID,
		&action.RunID,
		&tool,
		&args,
		&action.Target,
		&action.Justification,
		&action.ContentHash,
		&action.RiskScore,
		&tier,
		&action.ManualOnly,
		&action.RequiredApprovals,
		&status,
		&rejectionCode,
		&rejectionReason,
		&token,
		&tokenExpiresAt,
		&claimedBy,
		&action.ProposedBy,
		&action.PolicyVersion,
		&action.CreatedAt,
		&action.UpdatedAt,
	); err != nil {
		return domain.ActionSpec{}, err
	}
	// Rejected proposals may carry arguments that never parsed; the raw form is kept.
	action.Invocation, _ = domain.ParseInvocation(domain.ToolName(tool), args)
	action.Tier = domain.Tier(tier)
	action.Status = domain.ActionStatus(status)
	action.RejectionCode = domain.Code(rejectionCode.String)
	action.RejectionReason = rejectionReason.String
	action.Token = token.String
	action.TokenExpiresAt = timePtr(tokenExpiresAt)
	action.ClaimedBy = claimedBy.String
	action.CreatedAt = action.CreatedAt.UTC()
	action.UpdatedAt = action.UpdatedAt.UTC()
	return action, nil
}
