// Package scopes manages engagement scopes: drafts are editable, locked
// scopes are immutable and carry a signature over their definition.
package scopes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

// Signer produces the lock signature.
type Signer interface {
	SignBytes(b []byte) (string, error)
}

type Service struct {
	store  repo.Store
	signer Signer
	now    func() time.Time
}

func New(store repo.Store, signer Signer) *Service {
	return &Service{store: store, signer: signer, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Create(ctx context.Context, info status.AuditInfo, projectID string, def domain.ScopeDefinition) (domain.Scope, error) {
	if s == nil || s.store == nil {
		return domain.Scope{}, fmt.Errorf("scope service not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Scope{}, domain.NewError(domain.CodeInvalidRequest, "project_id is required")
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return domain.Scope{}, domain.WrapError(domain.CodeInvalidRequest, err, err.Error())
	}

	now := s.now().UTC()
	scope := domain.Scope{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Definition: def,
		Status:     domain.ScopeStatusDraft,
		Version:    1,
		CreatedBy:  info.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Scopes().Create(ctx, scope); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, auditEntry(info, domain.EventScopeCreated, scope, now, domain.Metadata{
			"project_id": projectID,
			"targets":    len(def.Targets),
		}))
		return err
	})
	if err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Scope, error) {
	if s == nil || s.store == nil {
		return domain.Scope{}, fmt.Errorf("scope service not initialized")
	}
	scope, err := s.store.Scopes().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Scope{}, domain.NewError(domain.CodeNotFound, "scope %s not found", id)
	}
	return scope, err
}

// Update replaces the definition of a draft scope. version must match the
// stored version; zero means "current".
func (s *Service) Update(ctx context.Context, info status.AuditInfo, id string, version int, def domain.ScopeDefinition) (domain.Scope, error) {
	scope, err := s.Get(ctx, id)
	if err != nil {
		return domain.Scope{}, err
	}
	if scope.IsLocked() {
		return domain.Scope{}, domain.NewError(domain.CodeScopeLocked, "scope %s is locked", scope.ID)
	}
	if version == 0 {
		version = scope.Version
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return domain.Scope{}, domain.WrapError(domain.CodeInvalidRequest, err, err.Error())
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Scopes().UpdateDefinition(ctx, scope.ID, version, def, now); err != nil {
			return err
		}
		scope.Definition = def
		scope.Version = version + 1
		scope.UpdatedAt = now
		_, err := tx.Audit().Append(ctx, auditEntry(info, domain.EventScopeUpdated, scope, now, domain.Metadata{
			"version": scope.Version,
		}))
		return err
	})
	if errors.Is(err, repo.ErrConflict) {
		current, getErr := s.Get(ctx, id)
		if getErr == nil && current.IsLocked() {
			return domain.Scope{}, domain.NewError(domain.CodeScopeLocked, "scope %s is locked", scope.ID)
		}
		return domain.Scope{}, domain.NewError(domain.CodeInvalidTransition, "scope %s version %d is stale", scope.ID, version)
	}
	if err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

// Lock freezes a draft scope. Locking twice is a request error.
func (s *Service) Lock(ctx context.Context, info status.AuditInfo, id string) (domain.Scope, error) {
	if s != nil && s.signer == nil {
		return domain.Scope{}, fmt.Errorf("scope signer not initialized")
	}
	scope, err := s.Get(ctx, id)
	if err != nil {
		return domain.Scope{}, err
	}
	if scope.IsLocked() {
		return domain.Scope{}, domain.NewError(domain.CodeInvalidRequest, "scope %s is already locked", scope.ID)
	}
	if err := scope.Definition.Validate(); err != nil {
		return domain.Scope{}, domain.WrapError(domain.CodeInvalidRequest, err, "scope definition is invalid: "+err.Error())
	}

	now := s.now().UTC()
	defHash, payload, err := LockPayload(scope, info.Actor, now)
	if err != nil {
		return domain.Scope{}, fmt.Errorf("lock payload: %w", err)
	}
	signature, err := s.signer.SignBytes(payload)
	if err != nil {
		return domain.Scope{}, fmt.Errorf("sign scope: %w", err)
	}

	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Scopes().Lock(ctx, scope.ID, info.Actor, signature, now); err != nil {
			return err
		}
		scope.Status = domain.ScopeStatusLocked
		scope.LockedAt = &now
		scope.LockedBy = info.Actor
		scope.LockSignature = signature
		scope.UpdatedAt = now
		_, err := tx.Audit().Append(ctx, auditEntry(info, domain.EventScopeLocked, scope, now, domain.Metadata{
			"version":         scope.Version,
			"definition_hash": defHash,
		}))
		return err
	})
	if errors.Is(err, repo.ErrConflict) {
		return domain.Scope{}, domain.NewError(domain.CodeInvalidRequest, "scope %s is already locked", scope.ID)
	}
	if err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

// LockPayload returns the definition hash and the canonical bytes signed
// when a scope is locked.
func LockPayload(scope domain.Scope, lockedBy string, at time.Time) (string, []byte, error) {
	defHash, _, err := domain.SumObject(scope.Definition)
	if err != nil {
		return "", nil, err
	}
	payload, err := domain.CanonicalJSON(map[string]any{
		"scope_id":        scope.ID,
		"project_id":      scope.ProjectID,
		"version":         scope.Version,
		"definition_hash": defHash,
		"locked_by":       lockedBy,
		"locked_at":       at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", nil, err
	}
	return defHash, payload, nil
}

func auditEntry(info status.AuditInfo, event domain.EventType, scope domain.Scope, at time.Time, details domain.Metadata) domain.AuditEntry {
	return domain.AuditEntry{
		Actor:        info.Actor,
		EventType:    event,
		ResourceType: "scope",
		ResourceID:   scope.ID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      details,
		Timestamp:    at,
	}
}
