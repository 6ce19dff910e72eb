// Package findings runs the review workflow of evidence-backed findings:
// DRAFT -> NEEDS_REVIEW -> CONFIRMED | REJECTED. Confirmed and rejected
// findings are immutable.
package findings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

// High and critical findings need this many evidence records, one of them
// produced by a completed manual task.
const manualValidationMinEvidence = 2

type Service struct {
	store repo.Store
	now   func() time.Time
}

func New(store repo.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

type CreateRequest struct {
	Title             string                 `json:"title"`
	Severity          domain.Severity        `json:"severity"`
	Category          domain.FindingCategory `json:"category"`
	AffectedTarget    string                 `json:"affected_target"`
	DescriptionMD     string                 `json:"description_md"`
	ReproducibilityMD string                 `json:"reproducibility_md"`
	EvidenceIDs       []string               `json:"evidence_ids"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Title             *string                 `json:"title,omitempty"`
	Severity          *domain.Severity        `json:"severity,omitempty"`
	Category          *domain.FindingCategory `json:"category,omitempty"`
	AffectedTarget    *string                 `json:"affected_target,omitempty"`
	DescriptionMD     *string                 `json:"description_md,omitempty"`
	ReproducibilityMD *string                 `json:"reproducibility_md,omitempty"`
	EvidenceIDs       []string                `json:"evidence_ids,omitempty"`
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("finding service not initialized")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, info status.AuditInfo, runID string, req CreateRequest) (domain.Finding, error) {
	if err := s.ready(); err != nil {
		return domain.Finding{}, err
	}
	run, err := s.store.Runs().Get(ctx, strings.TrimSpace(runID))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Finding{}, domain.NewError(domain.CodeNotFound, "run %s not found", runID)
	}
	if err != nil {
		return domain.Finding{}, err
	}
	evidenceIDs, err := s.checkEvidence(ctx, run.ID, req.EvidenceIDs)
	if err != nil {
		return domain.Finding{}, err
	}

	now := s.now().UTC()
	finding := domain.Finding{
		ID:                uuid.NewString(),
		RunID:             run.ID,
		ProjectID:         run.ProjectID,
		ScopeID:           run.ScopeID,
		Title:             strings.TrimSpace(req.Title),
		Severity:          domain.Severity(strings.ToUpper(strings.TrimSpace(string(req.Severity)))),
		Category:          domain.FindingCategory(strings.ToUpper(strings.TrimSpace(string(req.Category)))),
		AffectedTarget:    strings.TrimSpace(req.AffectedTarget),
		DescriptionMD:     strings.TrimSpace(req.DescriptionMD),
		ReproducibilityMD: strings.TrimSpace(req.ReproducibilityMD),
		EvidenceIDs:       evidenceIDs,
		Status:            domain.FindingDraft,
		CreatedBy:         info.Actor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := finding.Validate(); err != nil {
		return domain.Finding{}, domain.WrapError(domain.CodeInvalidRequest, err, "invalid finding")
	}

	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Findings().Create(ctx, finding); err != nil {
			return err
		}
		return s.audit(ctx, tx, info, finding, domain.EventFindingCreated, domain.Metadata{
			"title":    finding.Title,
			"severity": string(finding.Severity),
			"category": string(finding.Category),
			"status":   string(finding.Status),
		}, now)
	})
	if err != nil {
		return domain.Finding{}, err
	}
	return finding, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Finding, error) {
	if err := s.ready(); err != nil {
		return domain.Finding{}, err
	}
	finding, err := s.store.Findings().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Finding{}, domain.NewError(domain.CodeNotFound, "finding %s not found", id)
	}
	return finding, err
}

// ListByRun returns the run's findings, newest first.
func (s *Service) ListByRun(ctx context.Context, runID string) ([]domain.Finding, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	runID = strings.TrimSpace(runID)
	if _, err := s.store.Runs().Get(ctx, runID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "run %s not found", runID)
		}
		return nil, err
	}
	return s.store.Findings().ListByRun(ctx, runID)
}

func (s *Service) Update(ctx context.Context, info status.AuditInfo, id string, req UpdateRequest) (domain.Finding, error) {
	finding, err := s.Get(ctx, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if !finding.Status.Editable() {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidTransition, "finding %s is %s; only DRAFT and NEEDS_REVIEW can be edited", finding.ID, finding.Status)
	}
	expected := finding.Status
	if req.Title != nil {
		finding.Title = strings.TrimSpace(*req.Title)
	}
	if req.Severity != nil {
		finding.Severity = domain.Severity(strings.ToUpper(strings.TrimSpace(string(*req.Severity))))
	}
	if req.Category != nil {
		finding.Category = domain.FindingCategory(strings.ToUpper(strings.TrimSpace(string(*req.Category))))
	}
	if req.AffectedTarget != nil {
		finding.AffectedTarget = strings.TrimSpace(*req.AffectedTarget)
	}
	if req.DescriptionMD != nil {
		finding.DescriptionMD = strings.TrimSpace(*req.DescriptionMD)
	}
	if req.ReproducibilityMD != nil {
		finding.ReproducibilityMD = strings.TrimSpace(*req.ReproducibilityMD)
	}
	if req.EvidenceIDs != nil {
		if finding.EvidenceIDs, err = s.checkEvidence(ctx, finding.RunID, req.EvidenceIDs); err != nil {
			return domain.Finding{}, err
		}
	}
	if err := finding.Validate(); err != nil {
		return domain.Finding{}, domain.WrapError(domain.CodeInvalidRequest, err, "invalid finding")
	}

	now := s.now().UTC()
	finding.UpdatedAt = now
	err = s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Findings().UpdateContent(ctx, finding, expected); err != nil {
			return err
		}
		return s.audit(ctx, tx, info, finding, domain.EventFindingUpdated, domain.Metadata{"title": finding.Title}, now)
	})
	if errors.Is(err, repo.ErrConflict) {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidTransition, "finding %s changed status concurrently", finding.ID)
	}
	if err != nil {
		return domain.Finding{}, err
	}
	return finding, nil
}

// Submit moves a DRAFT finding with at least one evidence record to NEEDS_REVIEW.
func (s *Service) Submit(ctx context.Context, info status.AuditInfo, id string) (domain.Finding, error) {
	finding, err := s.Get(ctx, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := domain.ValidateFindingTransition(finding.Status, domain.FindingNeedsReview); err != nil {
		return domain.Finding{}, err
	}
	if len(finding.EvidenceIDs) == 0 {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidRequest, "finding %s has no evidence; add at least one evidence id", finding.ID)
	}
	return s.transition(ctx, info, finding, domain.FindingNeedsReview, repo.FindingPatch{}, domain.EventFindingSubmitted,
		domain.Metadata{"title": finding.Title, "evidence_count": len(finding.EvidenceIDs)})
}

// Confirm requires evidence and reproduction steps. HIGH and CRITICAL
// findings additionally need evidence from a completed manual task.
func (s *Service) Confirm(ctx context.Context, info status.AuditInfo, id, reason string) (domain.Finding, error) {
	finding, err := s.Get(ctx, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := domain.ValidateFindingTransition(finding.Status, domain.FindingConfirmed); err != nil {
		return domain.Finding{}, err
	}
	if len(finding.EvidenceIDs) == 0 {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidRequest, "finding %s cannot be confirmed without evidence", finding.ID)
	}
	if strings.TrimSpace(finding.ReproducibilityMD) == "" {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidRequest, "finding %s cannot be confirmed without reproducibility steps", finding.ID)
	}
	if finding.Severity.NeedsManualValidation() {
		if err := s.checkManualValidation(ctx, finding); err != nil {
			return domain.Finding{}, err
		}
	}
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, info, finding, domain.FindingConfirmed,
		repo.FindingPatch{ReviewedBy: info.Actor, ReviewReason: reason}, domain.EventFindingConfirmed,
		domain.Metadata{"title": finding.Title, "severity": string(finding.Severity), "reason": reason})
}

func (s *Service) Reject(ctx context.Context, info status.AuditInfo, id, reason string) (domain.Finding, error) {
	finding, err := s.Get(ctx, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if err := domain.ValidateFindingTransition(finding.Status, domain.FindingRejected); err != nil {
		return domain.Finding{}, err
	}
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, info, finding, domain.FindingRejected,
		repo.FindingPatch{ReviewedBy: info.Actor, ReviewReason: reason}, domain.EventFindingRejected,
		domain.Metadata{"title": finding.Title, "reason": reason})
}

func (s *Service) transition(ctx context.Context, info status.AuditInfo, finding domain.Finding, to domain.FindingStatus, patch repo.FindingPatch, event domain.EventType, details domain.Metadata) (domain.Finding, error) {
	now := s.now().UTC()
	from := finding.Status
	details["from"] = string(from)
	details["to"] = string(to)
	err := s.store.InTx(ctx, func(tx repo.Tx) error {
		if err := tx.Findings().CompareAndSetStatus(ctx, finding.ID, from, to, patch, now); err != nil {
			return err
		}
		return s.audit(ctx, tx, info, finding, event, details, now)
	})
	if errors.Is(err, repo.ErrConflict) {
		return domain.Finding{}, domain.NewError(domain.CodeInvalidTransition, "finding %s is no longer %s", finding.ID, from)
	}
	if err != nil {
		return domain.Finding{}, err
	}
	finding.Status = to
	finding.UpdatedAt = now
	if patch.ReviewedBy != "" {
		finding.ReviewedBy = patch.ReviewedBy
	}
	if patch.ReviewReason != "" {
		finding.ReviewReason = patch.ReviewReason
	}
	return finding, nil
}

// checkEvidence deduplicates ids and requires each to be an evidence record of the run.
func (s *Service) checkEvidence(ctx context.Context, runID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ev, err := s.store.Evidence().Get(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.NewError(domain.CodeInvalidRequest, "evidence %s not found", id)
		}
		if err != nil {
			return nil, err
		}
		if ev.RunID != runID {
			return nil, domain.NewError(domain.CodeInvalidRequest, "evidence %s belongs to another run", id)
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) checkManualValidation(ctx context.Context, finding domain.Finding) error {
	if len(finding.EvidenceIDs) < manualValidationMinEvidence {
		return domain.NewError(domain.CodeInvalidRequest, "%s finding %s needs at least %d evidence records, has %d",
			finding.Severity, finding.ID, manualValidationMinEvidence, len(finding.EvidenceIDs))
	}
	for _, id := range finding.EvidenceIDs {
		ev, err := s.store.Evidence().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load evidence %s: %w", id, err)
		}
		if ev.EvidenceType == domain.EvidenceManualResult {
			return nil
		}
	}
	return domain.NewError(domain.CodeInvalidRequest, "%s finding %s needs evidence from a completed manual task", finding.Severity, finding.ID)
}

func (s *Service) audit(ctx context.Context, tx repo.Tx, info status.AuditInfo, finding domain.Finding, event domain.EventType, details domain.Metadata, at time.Time) error {
	details["finding_id"] = finding.ID
	_, err := tx.Audit().Append(ctx, domain.AuditEntry{
		RunID:        finding.RunID,
		Actor:        info.Actor,
		EventType:    event,
		ResourceType: "finding",
		ResourceID:   finding.ID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      details,
		Timestamp:    at,
	})
	return err
}
