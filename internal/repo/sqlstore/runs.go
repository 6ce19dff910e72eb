package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type runStore struct {
	c conn
}

const (
	runColumns     = `id, project_id, scope_id, status, iteration, policy_version, created_by, abort_reason, created_at, started_at, completed_at`
	insertRunQuery = `INSERT INTO runs (id, project_id, scope_id, status, iteration, policy_version, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectRunQuery = `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	// The status predicate makes the write a compare-and-set.
	casRunStatusQuery = `UPDATE runs SET status = ?,
		started_at = COALESCE(?, started_at),
		completed_at = COALESCE(?, completed_at),
		abort_reason = COALESCE(?, abort_reason)
		WHERE id = ? AND status = ?`
	incrementRunIterationQuery = `UPDATE runs SET iteration = iteration + 1 WHERE id = ? AND status = ?`
)

func (s runStore) Create(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.c.exec(ctx, insertRunQuery,
		run.ID,
		run.ProjectID,
		run.ScopeID,
		string(run.Status),
		run.Iteration,
		run.PolicyVersion,
		run.CreatedBy,
		normalizeTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", handleDuplicate(err))
	}
	return nil
}

func (s runStore) Get(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(s.c.queryRow(ctx, selectRunQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s runStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.ProjectID); v != "" {
		where = append(where, "project_id = ?")
		args = append(args, v)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit, 100, 1000))

	rows, err := s.c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s runStore) CompareAndSetStatus(ctx context.Context, id string, from, to domain.RunStatus, patch repo.RunPatch) error {
	res, err := s.c.exec(ctx, casRunStatusQuery,
		string(to),
		nullTime(patch.StartedAt),
		nullTime(patch.CompletedAt),
		nullIfEmpty(patch.AbortReason),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func (s runStore) IncrementIteration(ctx context.Context, id string) error {
	res, err := s.c.exec(ctx, incrementRunIterationQuery, id, string(domain.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("increment run iteration: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run                    domain.Run
		status                 string
		abortReason            sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.ScopeID,
		&status,
		&run.Iteration,
		&run.PolicyVersion,
		&run.CreatedBy,
		&abortReason,
		&run.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	run.AbortReason = abortReason.String
	run.CreatedAt = run.CreatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return run, nil
}
