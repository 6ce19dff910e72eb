// Package actions handles the proposal, review and claim of ActionSpecs.
//
// A proposal is evaluated exactly once. The decision moves the action out of
// PROPOSED in the same transaction that inserts it, so no other caller ever
// observes a PROPOSED action.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/policy"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

const (
	policyActor         = "policy-engine"
	defaultPendingLimit = 200
)

// Evaluator decides on proposals.
type Evaluator interface {
	Evaluate(ctx context.Context, p policy.Proposal, scope domain.Scope) (policy.Decision, error)
	Version() string
}

type Service struct {
	store       repo.Store
	engine      Evaluator
	signer      token.Signer
	transitions *status.Transitioner
	tokenTTL    time.Duration
	metrics     *metrics.Registry
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Service)

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

// WithMetrics records approval latency into m.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTokenTTL sets the lifetime of issued execution tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func New(store repo.Store, engine Evaluator, signer token.Signer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		signer:   signer,
		tokenTTL: time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transitions = status.New().WithClock(s.now)
	return s
}

type ProposeRequest struct {
	Tool          domain.ToolName `json:"tool"`
	Arguments     json.RawMessage `json:"arguments"`
	Target        string          `json:"target"`
	Justification string          `json:"justification"`
}

// Proposal is the outcome of a proposal. Action is always populated once the
// run accepted the proposal; Decision.Rejection carries policy failures.
type Proposal struct {
	Action     domain.ActionSpec
	Decision   policy.Decision
	ManualTask *domain.ManualTask
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.engine == nil || s.signer == nil {
		return fmt.Errorf("action service not initialized")
	}
	return nil
}

// Propose evaluates req against the run's locked scope and records the
// decision. The run must be RUNNING.
func (s *Service) Propose(ctx context.Context, info status.AuditInfo, runID string, req ProposeRequest) (Proposal, error) {
	if err := s.ready(); err != nil {
		return Proposal{}, err
	}
	if strings.TrimSpace(string(req.Tool)) == "" {
		return Proposal{}, domain.NewError(domain.CodeInvalidRequest, "tool is required")
	}
	run, err := s.store.Runs().Get(ctx, strings.TrimSpace(runID))
	if errors.Is(err, repo.ErrNotFound) {
		return Proposal{}, domain.NewError(domain.CodeNotFound, "run %s not found", runID)
	}
	if err != nil {
		return Proposal{}, err
	}
	if run.Status != domain.RunStatusRunning {
		return Proposal{}, domain.NewError(domain.CodeRunNotRunning, "run %s is %s, proposals require RUNNING", run.ID, run.Status)
	}
	scope, err := s.store.Scopes().Get(ctx, run.ScopeID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Proposal{}, err
	}

	// Unknown tools and undecodable arguments still get an action row; the
	// engine rejects them.
	inv, _ := domain.ParseInvocation(req.Tool, req.Arguments)
	target := strings.TrimSpace(req.Target)
	now := s.now().UTC()
	action := domain.ActionSpec{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		Invocation:    inv,
		Target:        target,
		Justification: strings.TrimSpace(req.Justification),
		Status:        domain.ActionStatusProposed,
		ProposedBy:    info.Actor,
		PolicyVersion: s.engine.Version(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if action.ContentHash, err = action.ComputeHash(); err != nil {
		return Proposal{}, domain.WrapError(domain.CodeInvalidRequest, err, "arguments are not valid json")
	}

	decision, err := s.engine.Evaluate(ctx, policy.Proposal{
		RunID:         run.ID,
		Invocation:    inv,
		Target:        target,
		Justification: action.Justification,
	}, scope)
	if err != nil {
		return Proposal{}, fmt.Errorf("evaluate proposal: %w", err)
	}
	action.RiskScore = decision.RiskScore
	action.Tier = decision.Tier
	action.ManualOnly = decision.ManualOnly
	action.RequiredApprovals = decision.RequiredApprovals

	out := Proposal{Decision: decision}
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		// The run may have stopped since it was read above.
		if err := tx.Runs().IncrementIteration(ctx, run.ID); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return domain.NewError(domain.CodeRunNotRunning, "run %s stopped before the proposal was recorded", run.ID)
			}
			return err
		}
		if err := tx.Actions().Create(ctx, action); err != nil {
			return err
		}
		decided, task, err := s.decide(ctx, tx, info, action, decision)
		if err != nil {
			return err
		}
		out.Action, out.ManualTask = decided, task
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}

	if decision.Rejected() {
		s.logger.Info("proposal rejected",
			"run_id", run.ID, "action_id", action.ID, "tool", inv.Tool,
			"code", decision.Rejection.Code, "reason", decision.Rejection.Reason)
	}
	return out, nil
}

func (s *Service) decide(ctx context.Context, tx repo.Tx, info status.AuditInfo, action domain.ActionSpec, d policy.Decision) (domain.ActionSpec, *domain.ManualTask, error) {
	details := domain.Metadata{
		"target":             action.Target,
		"risk_score":         d.RiskScore,
		"tier":               string(d.Tier),
		"manual_only":        d.ManualOnly,
		"required_approvals": d.RequiredApprovals,
		"rate_count":         d.RateCount,
		"rate_limit":         d.RateLimit,
		"policy_version":     d.PolicyVersion,
		"content_hash":       action.ContentHash,
	}

	if d.Rejected() {
		details["reason"] = d.Rejection.Reason
		patch := repo.ActionPatch{RejectionCode: d.Rejection.Code, RejectionReason: d.Rejection.Reason}
		if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusRejected, patch,
			status.Event{Info: info, EventType: domain.EventActionRejected, Details: details}); err != nil {
			return domain.ActionSpec{}, nil, err
		}
		action.Status = domain.ActionStatusRejected
		action.RejectionCode, action.RejectionReason = patch.RejectionCode, patch.RejectionReason
		return action, nil, nil
	}

	if d.AutoApproved() {
		details["decided_by"] = policyActor
		patch, err := s.issueToken(action)
		if err != nil {
			return domain.ActionSpec{}, nil, err
		}
		if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusApproved, patch,
			status.Event{Info: info, EventType: domain.EventActionApproved, Details: details}); err != nil {
			return domain.ActionSpec{}, nil, err
		}
		action.Status = domain.ActionStatusApproved
		action.Token, action.TokenExpiresAt = patch.Token, patch.TokenExpiresAt
		return action, nil, nil
	}

	if _, err := s.transitions.TransitionAction(ctx, tx, action, domain.ActionStatusPendingApproval, repo.ActionPatch{},
		status.Event{Info: info, EventType: domain.EventActionProposed, Details: details}); err != nil {
		return domain.ActionSpec{}, nil, err
	}
	action.Status = domain.ActionStatusPendingApproval
	if !d.ManualOnly {
		return action, nil, nil
	}

	task := domain.ManualTask{
		ID:        uuid.NewString(),
		RunID:     action.RunID,
		ActionID:  action.ID,
		Tool:      action.Tool(),
		Target:    action.Target,
		Procedure: manualProcedure(action),
		Status:    domain.ManualTaskOpen,
		CreatedAt: s.now().UTC(),
	}
	if err := tx.ManualTasks().Create(ctx, task); err != nil {
		return domain.ActionSpec{}, nil, err
	}
	if _, err := tx.Audit().Append(ctx, domain.AuditEntry{
		RunID:        action.RunID,
		Actor:        policyActor,
		EventType:    domain.EventManualTaskCreated,
		ResourceType: "manual_task",
		ResourceID:   task.ID,
		RequestID:    info.RequestID,
		Details:      domain.Metadata{"action_id": action.ID, "tool": string(task.Tool), "target": task.Target},
		Timestamp:    task.CreatedAt,
	}); err != nil {
		return domain.ActionSpec{}, nil, err
	}
	return action, &task, nil
}

func (s *Service) issueToken(action domain.ActionSpec) (repo.ActionPatch, error) {
	now := s.now().UTC()
	expires := now.Add(s.tokenTTL)
	tok, err := s.signer.Sign(token.Claims{
		RunID:         action.RunID,
		ActionID:      action.ID,
		ContentHash:   action.ContentHash,
		IssuedAtUnix:  now.Unix(),
		ExpiresAtUnix: expires.Unix(),
	}, now)
	if err != nil {
		return repo.ActionPatch{}, fmt.Errorf("sign execution token: %w", err)
	}
	expires = time.Unix(expires.Unix(), 0).UTC()
	return repo.ActionPatch{Token: tok, TokenExpiresAt: &expires}, nil
}

func manualProcedure(action domain.ActionSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s against %s is restricted to human execution.\n", action.Tool(), action.Target)
	if action.Invocation.Args != nil {
		cmd := action.Invocation.Args.Command(action.Target)
		fmt.Fprintf(&b, "Reference invocation: %s\n", strings.Join(cmd.Argv, " "))
	}
	if action.Justification != "" {
		fmt.Fprintf(&b, "Agent justification: %s\n", action.Justification)
	}
	b.WriteString("Execute manually inside the locked scope, then complete this task with notes and the captured output.")
	return b.String()
}

func (s *Service) Get(ctx context.Context, id string) (domain.ActionSpec, error) {
	if err := s.ready(); err != nil {
		return domain.ActionSpec{}, err
	}
	action, err := s.store.Actions().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActionSpec{}, domain.NewError(domain.CodeNotFound, "action %s not found", id)
	}
	return action, err
}

// List returns the actions of a run, optionally restricted to statuses.
func (s *Service) List(ctx context.Context, runID string, statuses []domain.ActionStatus, limit int) ([]domain.ActionSpec, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, domain.NewError(domain.CodeInvalidRequest, "unknown action status %q", st)
		}
	}
	if _, err := s.store.Runs().Get(ctx, runID); errors.Is(err, repo.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "run %s not found", runID)
	} else if err != nil {
		return nil, err
	}
	return s.store.Actions().List(ctx, repo.ActionFilter{RunID: runID, Statuses: statuses, Limit: limit})
}

// Pending lists actions awaiting review across runs. runID narrows the list.
func (s *Service) Pending(ctx context.Context, runID string, limit int) ([]domain.ActionSpec, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.store.Actions().List(ctx, repo.ActionFilter{
		RunID:    strings.TrimSpace(runID),
		Statuses: []domain.ActionStatus{domain.ActionStatusPendingApproval},
		Limit:    limit,
	})
}

func (s *Service) Approvals(ctx context.Context, actionID string) ([]domain.Approval, error) {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.store.Approvals().ListByAction(ctx, action.ID)
}
