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

type scopeStore struct {
	c conn
}

const (
	insertScopeQuery = `INSERT INTO scopes (id, project_id, definition, status, version, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectScopeQuery = `SELECT id, project_id, definition, status, version, locked_at, locked_by, lock_signature, created_by, created_at, updated_at
		FROM scopes WHERE id = ?`
	updateScopeDefinitionQuery = `UPDATE scopes SET definition = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'draft' AND version = ?`
	lockScopeQuery = `UPDATE scopes SET status = 'locked', locked_at = ?, locked_by = ?, lock_signature = ?, updated_at = ?
		WHERE id = ? AND status = 'draft'`
)

func (s scopeStore) Create(ctx context.Context, scope domain.Scope) error {
	def, err := json.Marshal(scope.Definition)
	if err != nil {
		return fmt.Errorf("marshal scope definition: %w", err)
	}
	if scope.Version <= 0 {
		scope.Version = 1
	}
	created := normalizeTime(scope.CreatedAt)
	_, err = s.c.exec(ctx, insertScopeQuery,
		scope.ID,
		scope.ProjectID,
		def,
		string(domain.ScopeStatusDraft),
		scope.Version,
		scope.CreatedBy,
		created,
		created,
	)
	if err != nil {
		return fmt.Errorf("insert scope: %w", handleDuplicate(err))
	}
	return nil
}

func (s scopeStore) Get(ctx context.Context, id string) (domain.Scope, error) {
	var (
		scope                   domain.Scope
		def                     []byte
		status                  string
		lockedAt                sql.NullTime
		lockedBy, lockSignature sql.NullString
	)
	err := s.c.queryRow(ctx, selectScopeQuery, id).Scan(
		&scope.ID,
		&scope.ProjectID,
		&def,
		&status,
		&scope.Version,
		&lockedAt,
		&lockedBy,
		&lockSignature,
		&scope.CreatedBy,
		&scope.CreatedAt,
		&scope.UpdatedAt,
	)
	if err != nil {
		return domain.Scope{}, handleNotFound(err)
	}
	if err := json.Unmarshal(def, &scope.Definition); err != nil {
		return domain.Scope{}, fmt.Errorf("decode scope definition: %w", err)
	}
	scope.Status = domain.ScopeStatus(status)
	scope.LockedAt = timePtr(lockedAt)
	scope.LockedBy = lockedBy.String
	scope.LockSignature = lockSignature.String
	scope.CreatedAt = scope.CreatedAt.UTC()
	scope.UpdatedAt = scope.UpdatedAt.UTC()
	return scope, nil
}

func (s scopeStore) UpdateDefinition(ctx context.Context, id string, expectedVersion int, def domain.ScopeDefinition, at time.Time) error {
	blob, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal scope definition: %w", err)
	}
	res, err := s.c.exec(ctx, updateScopeDefinitionQuery, blob, normalizeTime(at), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("update scope: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}

func (s scopeStore) Lock(ctx context.Context, id, lockedBy, signature string, at time.Time) error {
	at = normalizeTime(at)
	res, err := s.c.exec(ctx, lockScopeQuery, at, lockedBy, signature, at, id)
	if err != nil {
		return fmt.Errorf("lock scope: %w", err)
	}
	return expectOne(res, repo.ErrConflict)
}
