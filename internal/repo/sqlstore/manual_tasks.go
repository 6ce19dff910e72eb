package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type manualTaskStore struct {
	c conn
}

const (
	manualTaskColumns     = `id, run_id, action_id, tool, target, procedure_text, status, assigned_to, completed_by, notes, evidence_id, created_at, completed_at`
	insertManualTaskQuery = `INSERT INTO manual_tasks (id, run_id, action_id, tool, target, procedure_text, status, assigned_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectManualTaskQuery         = `SELECT ` + manualTaskColumns + ` FROM manual_tasks WHERE id = ?`
	selectManualTaskByActionQuery = `SELECT ` + manualTaskColumns + ` FROM manual_tasks WHERE action_id = ?`
	listManualTasksByRunQuery     = `SELECT ` + manualTaskColumns + ` FROM manual_tasks WHERE run_id = ? ORDER BY created_at, id`
	completeManualTaskQuery       = `UPDATE manual_tasks SET status = 'COMPLETED', completed_by = ?, notes = ?, evidence_id = ?, completed_at = ?
		WHERE id = ? AND status = 'OPEN'`
)

func (s manualTaskStore) Create(ctx context.Context, task domain.ManualTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	status := task.Status
	if status == "" {
		status = domain.ManualTaskOpen
	}
	_, err := s.c.exec(ctx, insertManualTaskQuery,
		task.ID,
		task.RunID,
		task.ActionID,
		string(task.Tool),
		task.Target,
		task.Procedure,
		string(status),
		nullIfEmpty(task.AssignedTo),
		normalizeTime(task.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert manual task: %w", handleDuplicate(err))
	}
	return nil
}

func (s manualTaskStore) Get(ctx context.Context, id string) (domain.ManualTask, error) {
	task, err := scanManualTask(s.c.queryRow(ctx, selectManualTaskQuery, id))
	if err != nil {
		return domain.ManualTask{}, handleNotFound(err)
	}
	return task, nil
}

func (s manualTaskStore) GetByAction(ctx context.Context, actionID string) (domain.ManualTask, error) {
	task, err := scanManualTask(s.c.queryRow(ctx, selectManualTaskByActionQuery, actionID))
	if err != nil {
		return domain.ManualTask{}, handleNotFound(err)
	}
	return task, nil
}

func (s manualTaskStore) ListByRun(ctx context.Context, runID string) ([]domain.ManualTask, error) {
	rows, err := s.c.query(ctx, listManualTasksByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list manual tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.ManualTask
	for rows.Next() {
		task, err := scanManualTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s manualTaskStore) Complete(ctx context.Context, id, completedBy, notes, evidenceID string, at time.Time) error {
	res, err := s.c.exec(ctx, completeManualTaskQuery, completedBy, notes, nullIfEmpty(evidenceID), normalizeTime(at), id)
	if err != nil {
		return fmt.Errorf("complete manual task: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func scanManualTask(row rowScanner) (domain.ManualTask, error) {
	var (
		task                           domain.ManualTask
		tool, status                   string
		assignedTo, completedBy, notes sql.NullString
		evidenceID                     sql.NullString
		completedAt                    sql.NullTime
	)
	if err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.ActionID,
		&tool,
		&task.Target,
		&task.Procedure,
		&status,
		&assignedTo,
		&completedBy,
		&notes,
		&evidenceID,
		&task.CreatedAt,
		&completedAt,
	); err != nil {
		return domain.ManualTask{}, err
	}
	task.Tool = domain.ToolName(tool)
	task.Status = domain.ManualTaskStatus(status)
	task.AssignedTo = assignedTo.String
	task.CompletedBy = completedBy.String
	task.Notes = notes.String
	task.EvidenceID = evidenceID.String
	task.CreatedAt = task.CreatedAt.UTC()
	task.CompletedAt = timePtr(completedAt)
	return task, nil
}
