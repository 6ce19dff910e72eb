package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auditlog"
)

type auditStore struct {
	c conn
}

const (
	insertAuditQuery = `INSERT INTO audit_log (run_id, actor, event_type, resource_type, resource_id, request_id, ip, user_agent, details, integrity_sha256, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	listAuditByRunQuery = `SELECT id, run_id, actor, event_type, resource_type, resource_id, request_id, ip, user_agent, details, integrity_sha256, occurred_at
		FROM audit_log WHERE run_id = ? ORDER BY id LIMIT ?`
	lastAuditActivityQuery = `SELECT occurred_at FROM audit_log WHERE run_id = ? ORDER BY id DESC LIMIT 1`
)

// Append seals and inserts entry. The entry is handed to the export sink, which
// defers it until commit when the store is transactional.
func (s auditStore) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	sealed, details, err := auditlog.Prepare(entry, time.Now())
	if err != nil {
		return domain.AuditEntry{}, err
	}
	var id int64
	err = s.c.queryRow(ctx, insertAuditQuery,
		nullIfEmpty(sealed.RunID),
		sealed.Actor,
		string(sealed.EventType),
		nullIfEmpty(sealed.ResourceType),
		nullIfEmpty(sealed.ResourceID),
		nullIfEmpty(sealed.RequestID),
		nullIfEmpty(sealed.IP),
		nullIfEmpty(sealed.UserAgent),
		details,
		sealed.IntegritySHA256,
		sealed.Timestamp,
	).Scan(&id)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	sealed.ID = id
	if sealed.Details == nil {
		sealed.Details = domain.Metadata{}
	}
	if s.c.onAudit != nil {
		s.c.onAudit(ctx, sealed)
	}
	return sealed, nil
}

func (s auditStore) ListByRun(ctx context.Context, runID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.c.query(ctx, listAuditByRunQuery, runID, clampLimit(limit, 500, 5000))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e                             domain.AuditEntry
			eventType                     string
			rid, resourceType, resourceID sql.NullString
			requestID, ip, userAgent      sql.NullString
			details                       []byte
		)
		if err := rows.Scan(&e.ID, &rid, &e.Actor, &eventType, &resourceType, &resourceID, &requestID, &ip, &userAgent, &details, &e.IntegritySHA256, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		meta, err := decodeMetadata(details)
		if err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		e.RunID = rid.String
		e.EventType = domain.EventType(eventType)
		e.ResourceType = resourceType.String
		e.ResourceID = resourceID.String
		e.RequestID = requestID.String
		e.IP = ip.String
		e.UserAgent = userAgent.String
		e.Details = meta
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s auditStore) LastActivity(ctx context.Context, runID string) (*time.Time, error) {
	var at time.Time
	err := s.c.queryRow(ctx, lastAuditActivityQuery, runID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last audit activity: %w", err)
	}
	at = at.UTC()
	return &at, nil
}
