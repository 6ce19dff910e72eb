package domain

import (
	"errors"
	"strings"
	"time"
)

type ActionStatus string

const (
	ActionStatusProposed        ActionStatus = "PROPOSED"
	ActionStatusPendingApproval ActionStatus = "PENDING_APPROVAL"
	ActionStatusApproved        ActionStatus = "APPROVED"
	ActionStatusExecuting       ActionStatus = "EXECUTING"
	ActionStatusExecuted        ActionStatus = "EXECUTED"
	ActionStatusFailed          ActionStatus = "FAILED"
	ActionStatusRejected        ActionStatus = "REJECTED"
)

func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusProposed, ActionStatusPendingApproval, ActionStatusApproved,
		ActionStatusExecuting, ActionStatusExecuted, ActionStatusFailed, ActionStatusRejected:
		return true
	default:
		return false
	}
}

func (s ActionStatus) Terminal() bool {
	return s == ActionStatusExecuted || s == ActionStatusFailed || s == ActionStatusRejected
}

// Tier is the amount of human sign-off an action needs.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ActionSpec is a proposed tool invocation and the governance decision attached to it.
type ActionSpec struct {
	ID                string         `json:"id"`
	RunID             string         `json:"run_id"`
	Invocation        ToolInvocation `json:"invocation"`
	Target            string         `json:"target"`
	Justification     string         `json:"justification"`
	ContentHash       string         `json:"content_hash"`
	RiskScore         float64        `json:"risk_score"`
	Tier              Tier           `json:"tier"`
	ManualOnly        bool           `json:"manual_only"`
	RequiredApprovals int            `json:"required_approvals"`
	Status            ActionStatus   `json:"status"`
	RejectionCode     Code           `json:"rejection_code,omitempty"`
	RejectionReason   string         `json:"rejection_reason,omitempty"`
	Token             string         `json:"-"`
	TokenExpiresAt    *time.Time     `json:"token_expires_at,omitempty"`
	ClaimedBy         string         `json:"claimed_by,omitempty"`
	ProposedBy        string         `json:"proposed_by"`
	PolicyVersion     string         `json:"policy_version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (a ActionSpec) Tool() ToolName {
	return a.Invocation.Tool
}

func (a ActionSpec) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("action id is required")
	}
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(a.Target) == "" {
		return errors.New("target is required")
	}
	if err := a.Invocation.Validate(); err != nil {
		return err
	}
	if !a.Status.Valid() {
		return errors.New("action status is invalid")
	}
	return nil
}

// ComputeHash returns the content hash binding this action's executable payload.
func (a ActionSpec) ComputeHash() (string, error) {
	return ActionContentHash(a.ID, a.RunID, a.Target, a.Invocation)
}

// WorkItem is an approved action handed to a worker together with its execution token.
type WorkItem struct {
	Action ActionSpec `json:"action"`
	Token  string     `json:"token"`
}
