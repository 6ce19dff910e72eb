package domain

import (
	"errors"
	"strings"
	"time"
)

type EventType string

const (
	EventScopeCreated            EventType = "SCOPE_CREATED"
	EventScopeUpdated            EventType = "SCOPE_UPDATED"
	EventScopeLocked             EventType = "SCOPE_LOCKED"
	EventRunCreated              EventType = "RUN_CREATED"
	EventRunStarted              EventType = "RUN_STARTED"
	EventRunStopped              EventType = "RUN_STOPPED"
	EventKillSwitchActivated     EventType = "KILL_SWITCH_ACTIVATED"
	EventActionProposed          EventType = "ACTION_PROPOSED"
	EventActionApproved          EventType = "ACTION_APPROVED"
	EventActionApprovalRecorded  EventType = "ACTION_APPROVAL_RECORDED"
	EventActionRejected          EventType = "ACTION_REJECTED"
	EventExecutionStarted        EventType = "EXECUTION_STARTED"
	EventExecutionCompleted      EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed         EventType = "EXECUTION_FAILED"
	EventEvidenceStored          EventType = "EVIDENCE_STORED"
	EventEvidenceDeleteAttempted EventType = "EVIDENCE_DELETE_ATTEMPTED"
	EventManualTaskCreated       EventType = "MANUAL_TASK_CREATED"
	EventManualTaskCompleted     EventType = "MANUAL_TASK_COMPLETED"
	EventFindingCreated          EventType = "FINDING_CREATED"
	EventFindingUpdated          EventType = "FINDING_UPDATED"
	EventFindingSubmitted        EventType = "FINDING_SUBMITTED_FOR_REVIEW"
	EventFindingConfirmed        EventType = "FINDING_CONFIRMED"
	EventFindingRejected         EventType = "FINDING_REJECTED"
	EventAuthDenied              EventType = "AUTH_DENIED"
)

// AuditEntry is an append only record of one governance event.
type AuditEntry struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id,omitempty"`
	Actor           string    `json:"actor"`
	EventType       EventType `json:"event_type"`
	ResourceType    string    `json:"resource_type,omitempty"`
	ResourceID      string    `json:"resource_id,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	IP              string    `json:"ip,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	Details         Metadata  `json:"details,omitempty"`
	IntegritySHA256 string    `json:"integrity_sha256"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e AuditEntry) Validate() error {
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("actor is required")
	}
	if strings.TrimSpace(string(e.EventType)) == "" {
		return errors.New("event type is required")
	}
	return nil
}
