package domain

import (
	"errors"
	"strings"
	"time"
)

type FindingStatus string

const (
	FindingDraft       FindingStatus = "DRAFT"
	FindingNeedsReview FindingStatus = "NEEDS_REVIEW"
	FindingConfirmed   FindingStatus = "CONFIRMED"
	FindingRejected    FindingStatus = "REJECTED"
)

// Editable reports whether the finding's content may still change.
func (s FindingStatus) Editable() bool {
	return s == FindingDraft || s == FindingNeedsReview
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// NeedsManualValidation is true for severities that cannot be confirmed on tool output alone.
func (s Severity) NeedsManualValidation() bool {
	return s == SeverityHigh || s == SeverityCritical
}

type FindingCategory string

const (
	CategoryRecon     FindingCategory = "RECON"
	CategoryConfig    FindingCategory = "CONFIG"
	CategoryExposure  FindingCategory = "EXPOSURE"
	CategoryAuthz     FindingCategory = "AUTHZ"
	CategoryInjection FindingCategory = "INJECTION"
	CategoryCrypto    FindingCategory = "CRYPTO"
	CategoryNetwork   FindingCategory = "NETWORK"
	CategoryOther     FindingCategory = "OTHER"
)

func (c FindingCategory) Valid() bool {
	switch c {
	case CategoryRecon, CategoryConfig, CategoryExposure, CategoryAuthz,
		CategoryInjection, CategoryCrypto, CategoryNetwork, CategoryOther:
		return true
	}
	return false
}

// Finding is a reviewed claim about the target, backed by evidence records of its run.
type Finding struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id"`
	ProjectID         string          `json:"project_id"`
	ScopeID           string          `json:"scope_id"`
	Title             string          `json:"title"`
	Severity          Severity        `json:"severity"`
	Category          FindingCategory `json:"category"`
	AffectedTarget    string          `json:"affected_target"`
	DescriptionMD     string          `json:"description_md"`
	ReproducibilityMD string          `json:"reproducibility_md,omitempty"`
	EvidenceIDs       []string        `json:"evidence_ids"`
	Status            FindingStatus   `json:"status"`
	CreatedBy         string          `json:"created_by"`
	ReviewedBy        string          `json:"reviewed_by,omitempty"`
	ReviewReason      string          `json:"review_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (f Finding) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("finding id is required")
	}
	if strings.TrimSpace(f.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		return errors.New("title is required")
	}
	if !f.Severity.Valid() {
		return errors.New("severity is invalid")
	}
	if !f.Category.Valid() {
		return errors.New("category is invalid")
	}
	if strings.TrimSpace(f.AffectedTarget) == "" {
		return errors.New("affected target is required")
	}
	if strings.TrimSpace(f.DescriptionMD) == "" {
		return errors.New("description is required")
	}
	return nil
}
