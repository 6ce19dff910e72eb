// Package execution records the outcome of a worker run: one evidence
// record and the EXECUTING -> EXECUTED|FAILED transition, in one transaction.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

type Service struct {
	store       repo.Store
	evidence    *evidence.Service
	transitions *status.Transitioner
	metrics     *metrics.Registry
	logger      *slog.Logger
	now         func() time.Time
}

func New(store repo.Store, ev *evidence.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, evidence: ev, transitions: status.New(), logger: logger, now: time.Now}
}

// WithMetrics counts failed executions into m.
func (s *Service) WithMetrics(m *metrics.Registry) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
		s.transitions = status.New().WithClock(now)
	}
	return s
}

type CompleteRequest struct {
	Status   domain.ActionStatus `json:"status"`
	Artifact domain.Artifact     `json:"artifact"`
}

type Result struct {
	Action   domain.ActionSpec `json:"action"`
	Evidence domain.Evidence   `json:"evidence"`
	// Replayed is set when the completion had already been recorded.
	Replayed bool `json:"replayed,omitempty"`
}

// Complete stores the artifact and closes the action. Repeating a completion
// returns the recorded outcome without writing anything.
func (s *Service) Complete(ctx context.Context, info status.AuditInfo, actionID string, req CompleteRequest) (Result, error) {
	if s == nil || s.store == nil || s.evidence == nil {
		return Result{}, fmt.Errorf("execution service not initialized")
	}
	workerID := strings.TrimSpace(info.Actor)
	if workerID == "" {
		return Result{}, domain.NewError(domain.CodeInvalidRequest, "worker identity is required")
	}
	action, err := s.store.Actions().Get(ctx, strings.TrimSpace(actionID))
	if errors.Is(err, repo.ErrNotFound) {
		return Result{}, domain.NewError(domain.CodeNotFound, "action %s not found", actionID)
	}
	if err != nil {
		return Result{}, err
	}
	if action.Status == domain.ActionStatusExecuted || action.Status == domain.ActionStatusFailed {
		return s.replay(ctx, action)
	}
	if action.Status != domain.ActionStatusExecuting {
		return Result{}, domain.NewError(domain.CodeInvalidTransition, "action %s is %s, not EXECUTING", action.ID, action.Status)
	}
	// claimed_by is set once by the APPROVED -> EXECUTING compare-and-set.
	if action.ClaimedBy != workerID {
		return Result{}, domain.NewError(domain.CodeInvalidTransition, "action %s was claimed by another worker", action.ID)
	}

	to, err := finalStatus(req)
	if err != nil {
		return Result{}, err
	}
	artifact := req.Artifact
	if artifact.Tool == "" {
		artifact.Tool = action.Tool()
	}
	if artifact.Target == "" {
		artifact.Target = action.Target
	}
	if artifact.WorkerID == "" {
		artifact.WorkerID = workerID
	}
	if artifact.Timestamp.IsZero() {
		artifact.Timestamp = s.now().UTC()
	}
	artifact.Status = strings.ToLower(string(to))
	body, err := domain.CanonicalJSON(artifact)
	if err != nil {
		return Result{}, domain.WrapError(domain.CodeInvalidRequest, err, "artifact is not serializable")
	}

	ev, err := s.evidence.Put(ctx, evidence.Draft{
		RunID:       action.RunID,
		ActionID:    action.ID,
		Type:        evidenceType(artifact),
		GeneratedBy: workerID,
		Body:        body,
		Metadata:    artifactMetadata(artifact),
	})
	if err != nil {
		return Result{}, err
	}

	event := domain.EventExecutionCompleted
	if to == domain.ActionStatusFailed {
		event = domain.EventExecutionFailed
	}
	details := domain.Metadata{
		"evidence_id": ev.ID,
		"returncode":  artifact.ReturnCode,
		"duration_ms": artifact.DurationMs,
		"worker_id":   workerID,
	}
	if artifact.ErrorCode != "" {
		details["error_code"] = string(artifact.ErrorCode)
		details["error"] = artifact.Error
	}
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := s.evidence.Record(ctx, tx, info, ev); err != nil {
			return err
		}
		_, err := s.transitions.TransitionAction(ctx, tx, action, to, repo.ActionPatch{},
			status.Event{Info: info, EventType: event, Details: details})
		return err
	})
	if errors.Is(err, repo.ErrDuplicate) || domain.IsCode(err, domain.CodeInvalidTransition) {
		// Another completion for the same action committed first.
		current, getErr := s.store.Actions().Get(ctx, action.ID)
		if getErr == nil && current.Status.Terminal() {
			return s.replay(ctx, current)
		}
	}
	if err != nil {
		return Result{}, err
	}
	if to == domain.ActionStatusFailed {
		s.metrics.IncWorkerError(workerID, string(artifact.ErrorCode))
		s.logger.Warn("action failed", "action_id", action.ID, "run_id", action.RunID,
			"worker_id", workerID, "code", artifact.ErrorCode, "error", artifact.Error)
	}
	action.Status = to
	return Result{Action: action, Evidence: ev}, nil
}

func (s *Service) replay(ctx context.Context, action domain.ActionSpec) (Result, error) {
	ev, err := s.store.Evidence().GetByAction(ctx, action.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load recorded evidence: %w", err)
	}
	return Result{Action: action, Evidence: ev, Replayed: true}, nil
}

func finalStatus(req CompleteRequest) (domain.ActionStatus, error) {
	switch req.Status {
	case domain.ActionStatusExecuted:
		if req.Artifact.ErrorCode != "" {
			return domain.ActionStatusFailed, nil
		}
		return domain.ActionStatusExecuted, nil
	case domain.ActionStatusFailed:
		return domain.ActionStatusFailed, nil
	default:
		return "", domain.NewError(domain.CodeInvalidRequest, "status must be EXECUTED or FAILED, got %q", req.Status)
	}
}

func evidenceType(a domain.Artifact) domain.EvidenceType {
	switch a.ErrorCode {
	case domain.CodeTokenInvalid, domain.CodeManualOnlyRefused, domain.CodeRunNotRunning:
		return domain.EvidenceRefusal
	default:
		return domain.EvidenceToolOutput
	}
}

func artifactMetadata(a domain.Artifact) domain.Metadata {
	meta := domain.Metadata{
		"tool":             string(a.Tool),
		"returncode":       a.ReturnCode,
		"duration_ms":      a.DurationMs,
		"stdout_truncated": a.StdoutTruncated,
		"stderr_truncated": a.StderrTruncated,
		"status":           a.Status,
		"worker_id":        a.WorkerID,
	}
	if a.ErrorCode != "" {
		meta["error_code"] = string(a.ErrorCode)
	}
	if len(a.Summary) > 0 {
		meta["summary"] = a.Summary.Clone()
	}
	return meta
}
