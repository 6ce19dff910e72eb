package domain

import (
	"errors"
	"strings"
	"time"
)

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Approval is a signed human decision on one action.
type Approval struct {
	ID            string    `json:"id"`
	ActionID      string    `json:"action_id"`
	RunID         string    `json:"run_id"`
	ApprovedBy    string    `json:"approved_by"`
	Decision      Decision  `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	Signature     string    `json:"signature"`
	PolicyVersion string    `json:"policy_version"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a Approval) Validate() error {
	if strings.TrimSpace(a.ActionID) == "" {
		return errors.New("action id is required")
	}
	if strings.TrimSpace(a.ApprovedBy) == "" {
		return errors.New("approver is required")
	}
	if a.Decision != DecisionApprove && a.Decision != DecisionReject {
		return errors.New("decision must be APPROVE or REJECT")
	}
	if strings.TrimSpace(a.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}
