package domain

import (
	"errors"
	"strings"
	"time"
)

type EvidenceType string

const (
	EvidenceToolOutput   EvidenceType = "tool_output"
	EvidenceRefusal      EvidenceType = "refusal"
	EvidenceManualResult EvidenceType = "manual_result"
)

// Evidence is an immutable, content addressed record. It is created once and never updated.
type Evidence struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	ActionID     string       `json:"action_id,omitempty"`
	EvidenceType EvidenceType `json:"evidence_type"`
	ArtifactURI  string       `json:"artifact_uri"`
	ContentHash  string       `json:"content_hash"`
	SizeBytes    int64        `json:"size_bytes"`
	GeneratedBy  string       `json:"generated_by"`
	Metadata     Metadata     `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (e Evidence) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("evidence id is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(e.ArtifactURI) == "" {
		return errors.New("artifact uri is required")
	}
	if !strings.HasPrefix(e.ContentHash, hashPrefix) {
		return errors.New("content hash must be sha256")
	}
	if strings.TrimSpace(e.GeneratedBy) == "" {
		return errors.New("generated_by is required")
	}
	return nil
}

// Artifact is the JSON document stored for a tool execution.
type Artifact struct {
	Tool            ToolName  `json:"tool"`
	Target          string    `json:"target"`
	Args            []string  `json:"args"`
	Timestamp       time.Time `json:"timestamp"`
	DurationMs      int64     `json:"duration_ms"`
	ReturnCode      int       `json:"returncode"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	StdoutTruncated bool      `json:"stdout_truncated"`
	StderrTruncated bool      `json:"stderr_truncated"`
	Status          string    `json:"status"`
	ErrorCode       Code      `json:"error_code,omitempty"`
	Error           string    `json:"error,omitempty"`
	WorkerID        string    `json:"worker_id"`
	Summary         Metadata  `json:"summary,omitempty"`
}
