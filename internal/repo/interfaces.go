package repo

import (
	"context"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

type RunFilter struct {
	ProjectID string
	Status    domain.RunStatus
	Limit     int
}

type ActionFilter struct {
	RunID    string
	Statuses []domain.ActionStatus
	Limit    int
}

// RunPatch carries the columns written alongside a run status change.
type RunPatch struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	AbortReason string
}

// ActionPatch carries the columns written alongside an action status change.
type ActionPatch struct {
	Token           string
	TokenExpiresAt  *time.Time
	RejectionCode   domain.Code
	RejectionReason string
	// ClaimedBy is written when a worker moves the action to EXECUTING.
	ClaimedBy string
}

// ScopeRepository manages scopes. Locked scopes are never rewritten.
type ScopeRepository interface {
	Create(ctx context.Context, scope domain.Scope) error
	Get(ctx context.Context, id string) (domain.Scope, error)
	// UpdateDefinition rewrites a draft scope at expectedVersion, returning ErrConflict otherwise.
	UpdateDefinition(ctx context.Context, id string, expectedVersion int, def domain.ScopeDefinition, at time.Time) error
	// Lock marks a draft scope locked, returning ErrConflict when it is already locked.
	Lock(ctx context.Context, id, lockedBy, signature string, at time.Time) error
}

type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	// CompareAndSetStatus writes to only when the stored status is still from.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.RunStatus, patch RunPatch) error
	// IncrementIteration bumps the proposal counter of a RUNNING run. Any other
	// status yields ErrConflict.
	IncrementIteration(ctx context.Context, id string) error
}

type ActionRepository interface {
	Create(ctx context.Context, action domain.ActionSpec) error
	Get(ctx context.Context, id string) (domain.ActionSpec, error)
	List(ctx context.Context, filter ActionFilter) ([]domain.ActionSpec, error)
	// ListExecutable returns approved, worker executable actions of running runs, oldest first.
	ListExecutable(ctx context.Context, limit int) ([]domain.ActionSpec, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.ActionStatus, patch ActionPatch, at time.Time) error
	// Lock holds the action row for the rest of the transaction. It returns ErrConflict
	// unless the action is still in the expected status.
	Lock(ctx context.Context, id string, expected domain.ActionStatus) error
	// CountRecent counts non rejected proposals for (run, tool, target) created at or after since.
	CountRecent(ctx context.Context, runID string, tool domain.ToolName, target string, since time.Time) (int, error)
	CountByStatus(ctx context.Context, runID string) (map[domain.ActionStatus]int, error)
}

type ApprovalRepository interface {
	Create(ctx context.Context, approval domain.Approval) error
	ListByAction(ctx context.Context, actionID string) ([]domain.Approval, error)
}

// EvidenceRepository is append only: there is no update or delete.
type EvidenceRepository interface {
	Create(ctx context.Context, evidence domain.Evidence) error
	Get(ctx context.Context, id string) (domain.Evidence, error)
	GetByAction(ctx context.Context, actionID string) (domain.Evidence, error)
	ListByRun(ctx context.Context, runID string, limit int) ([]domain.Evidence, error)
	CountByRun(ctx context.Context, runID string) (int, error)
}

// AuditRepository is append only.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	ListByRun(ctx context.Context, runID string, limit int) ([]domain.AuditEntry, error)
	LastActivity(ctx context.Context, runID string) (*time.Time, error)
}

type ManualTaskRepository interface {
	Create(ctx context.Context, task domain.ManualTask) error
	Get(ctx context.Context, id string) (domain.ManualTask, error)
	GetByAction(ctx context.Context, actionID string) (domain.ManualTask, error)
	ListByRun(ctx context.Context, runID string) ([]domain.ManualTask, error)
	// Complete closes an open task, returning ErrConflict when it is already closed.
	Complete(ctx context.Context, id, completedBy, notes, evidenceID string, at time.Time) error
}

// FindingPatch carries the reviewer columns written alongside a finding status change.
type FindingPatch struct {
	ReviewedBy   string
	ReviewReason string
}

type FindingRepository interface {
	Create(ctx context.Context, finding domain.Finding) error
	Get(ctx context.Context, id string) (domain.Finding, error)
	ListByRun(ctx context.Context, runID string) ([]domain.Finding, error)
	// UpdateContent rewrites the editable columns while the stored status is
	// still expected. It returns ErrConflict otherwise.
	UpdateContent(ctx context.Context, finding domain.Finding, expected domain.FindingStatus) error
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.FindingStatus, patch FindingPatch, at time.Time) error
}

// Tx groups the repositories bound to one unit of work.
type Tx interface {
	Scopes() ScopeRepository
	Runs() RunRepository
	Actions() ActionRepository
	Approvals() ApprovalRepository
	Evidence() EvidenceRepository
	Audit() AuditRepository
	ManualTasks() ManualTaskRepository
	Findings() FindingRepository
}

// Store exposes auto-commit repositories and transactional work.
// Inside InTx callers must only use the Tx they are handed.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
