package domain

import (
	"errors"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusCreated   RunStatus = "CREATED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusAborted   RunStatus = "ABORTED"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted, RunStatusAborted:
		return true
	default:
		return false
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted
}

// Run is one governed engagement against a locked Scope.
type Run struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	ScopeID       string     `json:"scope_id"`
	Status        RunStatus  `json:"status"`
	Iteration     int        `json:"iteration"`
	PolicyVersion string     `json:"policy_version"`
	CreatedBy     string     `json:"created_by"`
	AbortReason   string     `json:"abort_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.ScopeID) == "" {
		return errors.New("scope id is required")
	}
	if !r.Status.Valid() {
		return errors.New("run status is invalid")
	}
	return nil
}

// RunStats summarizes progress so stalls are observable.
type RunStats struct {
	RunID                 string     `json:"run_id"`
	Status                RunStatus  `json:"status"`
	ActionSpecsCount      int        `json:"action_specs_count"`
	PendingApprovalsCount int        `json:"pending_approvals_count"`
	ApprovedCount         int        `json:"approved_count"`
	ExecutingCount        int        `json:"executing_count"`
	ExecutedCount         int        `json:"executed_count"`
	FailedCount           int        `json:"failed_count"`
	RejectedCount         int        `json:"rejected_count"`
	EvidenceCount         int        `json:"evidence_count"`
	LastActivityAt        *time.Time `json:"last_activity_at,omitempty"`
}
