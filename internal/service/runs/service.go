// Package runs owns the run lifecycle. Stop and Kill are the only ways a
// run leaves RUNNING; Kill is idempotent and wins over any later proposal,
// approval or claim because every one of those re-reads the run status.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/statuscache"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

const defaultTimelineLimit = 500

type Service struct {
	store         repo.Store
	cache         statuscache.Cache
	transitions   *status.Transitioner
	policyVersion string
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Service)

func WithCache(cache statuscache.Cache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store repo.Store, policyVersion string, opts ...Option) *Service {
	s := &Service{
		store:         store,
		cache:         statuscache.Noop{},
		policyVersion: policyVersion,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transitions = status.New().WithClock(s.now)
	return s
}

// Create opens a run against a locked scope. projectID may be empty, in
// which case the scope's project is used.
func (s *Service) Create(ctx context.Context, info status.AuditInfo, projectID, scopeID string) (domain.Run, error) {
	if s == nil || s.store == nil {
		return domain.Run{}, fmt.Errorf("run service not initialized")
	}
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return domain.Run{}, domain.NewError(domain.CodeInvalidRequest, "scope_id is required")
	}
	scope, err := s.store.Scopes().Get(ctx, scopeID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, domain.NewError(domain.CodeNotFound, "scope %s not found", scopeID)
	}
	if err != nil {
		return domain.Run{}, err
	}
	if !scope.IsLocked() {
		return domain.Run{}, domain.NewError(domain.CodeScopeNotLocked, "scope %s must be locked before a run can start", scopeID)
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		projectID = scope.ProjectID
	}
	if projectID != scope.ProjectID {
		return domain.Run{}, domain.NewError(domain.CodeInvalidRequest, "scope %s belongs to project %s", scopeID, scope.ProjectID)
	}

	now := s.now().UTC()
	run := domain.Run{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		ScopeID:       scopeID,
		Status:        domain.RunStatusCreated,
		PolicyVersion: s.policyVersion,
		CreatedBy:     info.Actor,
		CreatedAt:     now,
	}
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Runs().Create(ctx, run); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, domain.AuditEntry{
			RunID:        run.ID,
			Actor:        info.Actor,
			EventType:    domain.EventRunCreated,
			ResourceType: "run",
			ResourceID:   run.ID,
			RequestID:    info.RequestID,
			IP:           info.IP,
			UserAgent:    info.UserAgent,
			Details: domain.Metadata{
				"scope_id":       scopeID,
				"project_id":     projectID,
				"scope_version":  scope.Version,
				"policy_version": s.policyVersion,
			},
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		return domain.Run{}, err
	}
	s.remember(ctx, run.ID, run.Status)
	return run, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.store == nil {
		return domain.Run{}, fmt.Errorf("run service not initialized")
	}
	run, err := s.store.Runs().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, domain.NewError(domain.CodeNotFound, "run %s not found", id)
	}
	return run, err
}

func (s *Service) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("run service not initialized")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewError(domain.CodeInvalidRequest, "unknown run status %q", filter.Status)
	}
	return s.store.Runs().List(ctx, filter)
}

// Status answers from the cache when possible. Authoritative checks such
// as claims never go through here.
func (s *Service) Status(ctx context.Context, id string) (domain.RunStatus, error) {
	if s == nil || s.store == nil {
		return "", fmt.Errorf("run service not initialized")
	}
	if st, ok, err := s.cache.Get(ctx, id); err == nil && ok {
		return st, nil
	} else if err != nil {
		s.logger.Warn("status cache read failed", "run_id", id, "error", err)
	}
	run, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.remember(ctx, run.ID, run.Status)
	return run.Status, nil
}

func (s *Service) Start(ctx context.Context, info status.AuditInfo, id string) (domain.Run, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		_, err := s.transitions.TransitionRun(ctx, tx, run.ID, run.Status, domain.RunStatusRunning,
			repo.RunPatch{StartedAt: &now},
			status.Event{Info: info, EventType: domain.EventRunStarted})
		return err
	})
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatusRunning
	run.StartedAt = &now
	s.remember(ctx, run.ID, run.Status)
	return run, nil
}

func (s *Service) Stop(ctx context.Context, info status.AuditInfo, id string) (domain.Run, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Status != domain.RunStatusRunning {
		return domain.Run{}, domain.NewError(domain.CodeInvalidTransition, "run %s is %s, only RUNNING runs can be stopped", run.ID, run.Status)
	}
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		_, err := s.transitions.TransitionRun(ctx, tx, run.ID, run.Status, domain.RunStatusCompleted,
			repo.RunPatch{CompletedAt: &now},
			status.Event{Info: info, EventType: domain.EventRunStopped})
		return err
	})
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now
	s.remember(ctx, run.ID, run.Status)
	return run, nil
}

// Kill aborts a run from any non-terminal status. Killing an aborted run
// returns it unchanged.
func (s *Service) Kill(ctx context.Context, info status.AuditInfo, id, reason string) (domain.Run, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "kill switch activated"
	}
	for attempt := 0; attempt < 3; attempt++ {
		run, err := s.Get(ctx, id)
		if err != nil {
			return domain.Run{}, err
		}
		switch run.Status {
		case domain.RunStatusAborted:
			s.remember(ctx, run.ID, run.Status)
			return run, nil
		case domain.RunStatusCompleted:
			return domain.Run{}, domain.NewError(domain.CodeInvalidTransition, "run %s already completed", run.ID)
		}
		now := s.now().UTC()
		err = s.store.InTx(ctx, func(tx repo.Tx) error {
			_, err := s.transitions.TransitionRun(ctx, tx, run.ID, run.Status, domain.RunStatusAborted,
				repo.RunPatch{CompletedAt: &now, AbortReason: reason},
				status.Event{Info: info, EventType: domain.EventKillSwitchActivated, Details: domain.Metadata{"reason": reason}})
			return err
		})
		if domain.IsCode(err, domain.CodeInvalidTransition) {
			// Status moved underneath us; re-read and decide again.
			continue
		}
		if err != nil {
			return domain.Run{}, err
		}
		run.Status = domain.RunStatusAborted
		run.CompletedAt = &now
		run.AbortReason = reason
		s.remember(ctx, run.ID, run.Status)
		s.logger.Warn("kill switch activated", "run_id", run.ID, "actor", info.Actor, "reason", reason)
		return run, nil
	}
	return domain.Run{}, domain.NewError(domain.CodeInvalidTransition, "run %s status kept changing during kill", id)
}

func (s *Service) Timeline(ctx context.Context, id string, limit int) ([]domain.AuditEntry, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	return s.store.Audit().ListByRun(ctx, run.ID, limit)
}

func (s *Service) Stats(ctx context.Context, id string) (domain.RunStats, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return domain.RunStats{}, err
	}
	counts, err := s.store.Actions().CountByStatus(ctx, run.ID)
	if err != nil {
		return domain.RunStats{}, err
	}
	evidence, err := s.store.Evidence().CountByRun(ctx, run.ID)
	if err != nil {
		return domain.RunStats{}, err
	}
	last, err := s.store.Audit().LastActivity(ctx, run.ID)
	if err != nil {
		return domain.RunStats{}, err
	}
	stats := domain.RunStats{
		RunID:                 run.ID,
		Status:                run.Status,
		PendingApprovalsCount: counts[domain.ActionStatusPendingApproval],
		ApprovedCount:         counts[domain.ActionStatusApproved],
		ExecutingCount:        counts[domain.ActionStatusExecuting],
		ExecutedCount:         counts[domain.ActionStatusExecuted],
		FailedCount:           counts[domain.ActionStatusFailed],
		RejectedCount:         counts[domain.ActionStatusRejected],
		EvidenceCount:         evidence,
		LastActivityAt:        last,
	}
	for _, n := range counts {
		stats.ActionSpecsCount += n
	}
	return stats, nil
}

func (s *Service) remember(ctx context.Context, runID string, st domain.RunStatus) {
	if err := s.cache.Set(ctx, runID, st); err != nil {
		s.logger.Warn("status cache write failed", "run_id", runID, "error", err)
	}
}
