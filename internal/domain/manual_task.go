package domain

import (
	"errors"
	"strings"
	"time"
)

type ManualTaskStatus string

const (
	ManualTaskOpen      ManualTaskStatus = "OPEN"
	ManualTaskCompleted ManualTaskStatus = "COMPLETED"
)

// ManualTask routes a tier C action to a human operator instead of a worker.
type ManualTask struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	ActionID    string           `json:"action_id"`
	Tool        ToolName         `json:"tool"`
	Target      string           `json:"target"`
	Procedure   string           `json:"procedure"`
	Status      ManualTaskStatus `json:"status"`
	AssignedTo  string           `json:"assigned_to,omitempty"`
	CompletedBy string           `json:"completed_by,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	EvidenceID  string           `json:"evidence_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (t ManualTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("manual task id is required")
	}
	if strings.TrimSpace(t.ActionID) == "" {
		return errors.New("action id is required")
	}
	if strings.TrimSpace(t.Procedure) == "" {
		return errors.New("procedure is required")
	}
	return nil
}
