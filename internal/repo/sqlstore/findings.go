package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type findingStore struct {
	c conn
}

const (
	findingColumns = `id, run_id, project_id, scope_id, title, severity, category, affected_target, description_md,
		reproducibility_md, evidence_ids, status, created_by, reviewed_by, review_reason, created_at, updated_at`
	insertFindingQuery = `INSERT INTO findings (` + findingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectFindingQuery     = `SELECT ` + findingColumns + ` FROM findings WHERE id = ?`
	listFindingsByRunQuery = `SELECT ` + findingColumns + ` FROM findings WHERE run_id = ? ORDER BY created_at DESC, id`
	updateFindingQuery     = `UPDATE findings SET title = ?, severity = ?, category = ?, affected_target = ?, description_md = ?,
		reproducibility_md = ?, evidence_ids = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	casFindingStatusQuery = `UPDATE findings SET status = ?, updated_at = ?,
		reviewed_by = COALESCE(?, reviewed_by),
		review_reason = COALESCE(?, review_reason)
		WHERE id = ? AND status = ?`
)

func (s findingStore) Create(ctx context.Context, finding domain.Finding) error {
	if err := finding.Validate(); err != nil {
		return err
	}
	evidenceIDs, err := encodeIDs(finding.EvidenceIDs)
	if err != nil {
		return err
	}
	status := finding.Status
	if status == "" {
		status = domain.FindingDraft
	}
	created := normalizeTime(finding.CreatedAt)
	updated := created
	if !finding.UpdatedAt.IsZero() {
		updated = normalizeTime(finding.UpdatedAt)
	}
	_, err = s.c.exec(ctx, insertFindingQuery,
		finding.ID,
		finding.RunID,
		finding.ProjectID,
		finding.ScopeID,
		finding.Title,
		string(finding.Severity),
		string(finding.Category),
		finding.AffectedTarget,
		finding.DescriptionMD,
		nullIfEmpty(finding.ReproducibilityMD),
		evidenceIDs,
		string(status),
		finding.CreatedBy,
		nullIfEmpty(finding.ReviewedBy),
		nullIfEmpty(finding.ReviewReason),
		created,
		updated,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", handleDuplicate(err))
	}
	return nil
}

func (s findingStore) Get(ctx context.Context, id string) (domain.Finding, error) {
	finding, err := scanFinding(s.c.queryRow(ctx, selectFindingQuery, id))
	if err != nil {
		return domain.Finding{}, handleNotFound(err)
	}
	return finding, nil
}

func (s findingStore) ListByRun(ctx context.Context, runID string) ([]domain.Finding, error) {
	rows, err := s.c.query(ctx, listFindingsByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []domain.Finding
	for rows.Next() {
		finding, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, finding)
	}
	return out, rows.Err()
}

func (s findingStore) UpdateContent(ctx context.Context, finding domain.Finding, expected domain.FindingStatus) error {
	if err := finding.Validate(); err != nil {
		return err
	}
	evidenceIDs, err := encodeIDs(finding.EvidenceIDs)
	if err != nil {
		return err
	}
	res, err := s.c.exec(ctx, updateFindingQuery,
		finding.Title,
		string(finding.Severity),
		string(finding.Category),
		finding.AffectedTarget,
		finding.DescriptionMD,
		nullIfEmpty(finding.ReproducibilityMD),
		evidenceIDs,
		normalizeTime(finding.UpdatedAt),
		finding.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func (s findingStore) CompareAndSetStatus(ctx context.Context, id string, from, to domain.FindingStatus, patch repo.FindingPatch, at time.Time) error {
	res, err := s.c.exec(ctx, casFindingStatusQuery,
		string(to),
		normalizeTime(at),
		nullIfEmpty(patch.ReviewedBy),
		nullIfEmpty(patch.ReviewReason),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func encodeIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal ids: %w", err)
	}
	return raw, nil
}

func scanFinding(row rowScanner) (domain.Finding, error) {
	var (
		finding                   domain.Finding
		severity, category        string
		status                    string
		evidenceIDs               []byte
		reproducibility, reviewer sql.NullString
		reviewReason              sql.NullString
	)
	if err := row.Scan(
		&finding.ID,
		&finding.RunID,
		&finding.ProjectID,
		&finding.ScopeID,
		&finding.Title,
		&severity,
		&category,
		&finding.AffectedTarget,
		&finding.DescriptionMD,
		&reproducibility,
		&evidenceIDs,
		&status,
		&finding.CreatedBy,
		&reviewer,
		&reviewReason,
		&finding.CreatedAt,
		&finding.UpdatedAt,
	); err != nil {
		return domain.Finding{}, err
	}
	if len(evidenceIDs) > 0 {
		if err := json.Unmarshal(evidenceIDs, &finding.EvidenceIDs); err != nil {
			return domain.Finding{}, fmt.Errorf("decode evidence ids: %w", err)
		}
	}
	if finding.EvidenceIDs == nil {
		finding.EvidenceIDs = []string{}
	}
	finding.Severity = domain.Severity(severity)
	finding.Category = domain.FindingCategory(category)
	finding.Status = domain.FindingStatus(status)
	finding.ReproducibilityMD = reproducibility.String
	finding.ReviewedBy = reviewer.String
	finding.ReviewReason = reviewReason.String
	finding.CreatedAt = finding.CreatedAt.UTC()
	finding.UpdatedAt = finding.UpdatedAt.UTC()
	return finding, nil
}
