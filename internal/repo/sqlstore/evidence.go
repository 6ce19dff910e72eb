package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// evidenceStore has no update or delete path. The schema triggers reject both as well.
type evidenceStore struct {
	c conn
}

const (
	evidenceColumns             = `id, run_id, action_id, evidence_type, artifact_uri, content_hash, size_bytes, generated_by, metadata, created_at`
	insertEvidenceQuery         = `INSERT INTO evidence (` + evidenceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectEvidenceQuery         = `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = ?`
	selectEvidenceByActionQuery = `SELECT ` + evidenceColumns + ` FROM evidence WHERE action_id = ?`
	listEvidenceByRunQuery      = `SELECT ` + evidenceColumns + ` FROM evidence WHERE run_id = ? ORDER BY created_at, id LIMIT ?`
	countEvidenceByRunQuery     = `SELECT COUNT(*) FROM evidence WHERE run_id = ?`
)

// Create returns repo.ErrDuplicate when the action already has evidence.
func (s evidenceStore) Create(ctx context.Context, ev domain.Evidence) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal evidence metadata: %w", err)
	}
	_, err = s.c.exec(ctx, insertEvidenceQuery,
		ev.ID,
		ev.RunID,
		nullIfEmpty(ev.ActionID),
		string(ev.EvidenceType),
		ev.ArtifactURI,
		ev.ContentHash,
		ev.SizeBytes,
		ev.GeneratedBy,
		meta,
		normalizeTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", handleDuplicate(err))
	}
	return nil
}

func (s evidenceStore) Get(ctx context.Context, id string) (domain.Evidence, error) {
	ev, err := scanEvidence(s.c.queryRow(ctx, selectEvidenceQuery, id))
	if err != nil {
		return domain.Evidence{}, handleNotFound(err)
	}
	return ev, nil
}

func (s evidenceStore) GetByAction(ctx context.Context, actionID string) (domain.Evidence, error) {
	ev, err := scanEvidence(s.c.queryRow(ctx, selectEvidenceByActionQuery, actionID))
	if err != nil {
		return domain.Evidence{}, handleNotFound(err)
	}
	return ev, nil
}

func (s evidenceStore) ListByRun(ctx context.Context, runID string, limit int) ([]domain.Evidence, error) {
	rows, err := s.c.query(ctx, listEvidenceByRunQuery, runID, clampLimit(limit, 200, 1000))
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []domain.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s evidenceStore) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.c.queryRow(ctx, countEvidenceByRunQuery, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count evidence: %w", err)
	}
	return n, nil
}

func scanEvidence(row rowScanner) (domain.Evidence, error) {
	var (
		ev       domain.Evidence
		actionID sql.NullString
		evType   string
		meta     []byte
	)
	if err := row.Scan(
		&ev.ID,
		&ev.RunID,
		&actionID,
		&evType,
		&ev.ArtifactURI,
		&ev.ContentHash,
		&ev.SizeBytes,
		&ev.GeneratedBy,
		&meta,
		&ev.CreatedAt,
	); err != nil {
		return domain.Evidence{}, err
	}
	decoded, err := decodeMetadata(meta)
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("decode evidence metadata: %w", err)
	}
	ev.ActionID = actionID.String
	ev.EvidenceType = domain.EvidenceType(evType)
	ev.Metadata = decoded
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}
