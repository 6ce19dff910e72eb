// Package evidence is the only write path for evidence records.
//
// Artifacts are content addressed and verified on every read. The service
// has no update or delete operation; AttemptDelete records the attempt as a
// security event and always fails.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/objectstore"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
	"github.com/google/uuid"
)

const (
	contentType      = "application/json"
	defaultListLimit = 200
)

type Service struct {
	store   repo.Store
	objects objectstore.EvidenceStore
	logger  *slog.Logger
	now     func() time.Time
}

func New(store repo.Store, objects objectstore.EvidenceStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, objects: objects, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Draft describes an artifact before it is stored.
type Draft struct {
	RunID       string
	ActionID    string
	Type        domain.EvidenceType
	GeneratedBy string
	Body        []byte
	Metadata    domain.Metadata
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.objects == nil {
		return fmt.Errorf("evidence service not initialized")
	}
	return nil
}

// Put writes the artifact to object storage and returns the record that
// Record will insert. Identical bytes map to the same key, so storing them
// twice is not an error.
func (s *Service) Put(ctx context.Context, d Draft) (domain.Evidence, error) {
	if err := s.ready(); err != nil {
		return domain.Evidence{}, err
	}
	if strings.TrimSpace(d.RunID) == "" {
		return domain.Evidence{}, domain.NewError(domain.CodeInvalidRequest, "run_id is required")
	}
	if len(d.Body) == 0 {
		return domain.Evidence{}, domain.NewError(domain.CodeInvalidRequest, "artifact is empty")
	}
	hash := domain.SumBytes(d.Body)
	key := objectstore.EvidenceKey(d.RunID, domain.HexDigest(hash))
	info, err := s.objects.Put(ctx, key, d.Body, contentType)
	if errors.Is(err, objectstore.ErrObjectExists) {
		info, err = s.objects.Stat(ctx, key)
	}
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("store artifact: %w", err)
	}
	if info.Size != 0 && info.Size != int64(len(d.Body)) {
		return domain.Evidence{}, domain.NewError(domain.CodeIntegrityMismatch, "object %s exists with a different size", key)
	}
	ev := domain.Evidence{
		ID:           uuid.NewString(),
		RunID:        d.RunID,
		ActionID:     d.ActionID,
		EvidenceType: d.Type,
		ArtifactURI:  s.objects.URI(key),
		ContentHash:  hash,
		SizeBytes:    int64(len(d.Body)),
		GeneratedBy:  d.GeneratedBy,
		Metadata:     d.Metadata.Clone(),
		CreatedAt:    s.now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return domain.Evidence{}, domain.WrapError(domain.CodeInvalidRequest, err, err.Error())
	}
	return ev, nil
}

// Record inserts ev and its EVIDENCE_STORED audit entry inside tx.
func (s *Service) Record(ctx context.Context, tx repo.Tx, info status.AuditInfo, ev domain.Evidence) error {
	if err := tx.Evidence().Create(ctx, ev); err != nil {
		return err
	}
	_, err := tx.Audit().Append(ctx, domain.AuditEntry{
		RunID:        ev.RunID,
		Actor:        info.Actor,
		EventType:    domain.EventEvidenceStored,
		ResourceType: "evidence",
		ResourceID:   ev.ID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details: domain.Metadata{
			"action_id":     ev.ActionID,
			"evidence_type": string(ev.EvidenceType),
			"content_hash":  ev.ContentHash,
			"artifact_uri":  ev.ArtifactURI,
			"size_bytes":    ev.SizeBytes,
		},
		Timestamp: ev.CreatedAt,
	})
	return err
}

// Create stores and records an artifact in one step.
func (s *Service) Create(ctx context.Context, info status.AuditInfo, d Draft) (domain.Evidence, error) {
	ev, err := s.Put(ctx, d)
	if err != nil {
		return domain.Evidence{}, err
	}
	if err := s.store.InTx(ctx, func(tx repo.Tx) error { return s.Record(ctx, tx, info, ev) }); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Evidence{}, domain.NewError(domain.CodeInvalidRequest, "evidence already recorded for action %s", d.ActionID)
		}
		return domain.Evidence{}, err
	}
	return ev, nil
}

// HumanUpload is evidence produced outside the worker.
type HumanUpload struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

// CreateHuman stores run level evidence uploaded by a reviewer.
func (s *Service) CreateHuman(ctx context.Context, info status.AuditInfo, runID string, up HumanUpload) (domain.Evidence, error) {
	if err := s.ready(); err != nil {
		return domain.Evidence{}, err
	}
	if strings.TrimSpace(up.Content) == "" {
		return domain.Evidence{}, domain.NewError(domain.CodeInvalidRequest, "content is required")
	}
	if _, err := s.store.Runs().Get(ctx, runID); errors.Is(err, repo.ErrNotFound) {
		return domain.Evidence{}, domain.NewError(domain.CodeNotFound, "run %s not found", runID)
	} else if err != nil {
		return domain.Evidence{}, err
	}
	now := s.now().UTC()
	body, err := domain.CanonicalJSON(map[string]any{
		"run_id":      runID,
		"title":       strings.TrimSpace(up.Title),
		"content":     up.Content,
		"metadata":    up.Metadata.Clone(),
		"uploaded_by": info.Actor,
		"uploaded_at": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Evidence{}, domain.WrapError(domain.CodeInvalidRequest, err, "metadata is not serializable")
	}
	meta := up.Metadata.Clone()
	meta["title"] = strings.TrimSpace(up.Title)
	return s.Create(ctx, info, Draft{
		RunID:       runID,
		Type:        domain.EvidenceManualResult,
		GeneratedBy: info.Actor,
		Body:        body,
		Metadata:    meta,
	})
}

func (s *Service) lookup(ctx context.Context, id string) (domain.Evidence, error) {
	ev, err := s.store.Evidence().Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Evidence{}, domain.NewError(domain.CodeNotFound, "evidence %s not found", id)
	}
	return ev, err
}

// Get returns the record and its artifact after re-verifying the hash.
func (s *Service) Get(ctx context.Context, id string) (domain.Evidence, []byte, error) {
	if err := s.ready(); err != nil {
		return domain.Evidence{}, nil, err
	}
	ev, err := s.lookup(ctx, id)
	if err != nil {
		return domain.Evidence{}, nil, err
	}
	body, err := s.Verify(ctx, ev)
	if err != nil {
		return ev, nil, err
	}
	return ev, body, nil
}

// Verify fetches the artifact of ev and checks it against the recorded hash.
func (s *Service) Verify(ctx context.Context, ev domain.Evidence) ([]byte, error) {
	key := objectstore.EvidenceKey(ev.RunID, domain.HexDigest(ev.ContentHash))
	body, err := s.objects.Get(ctx, key)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		s.logger.Error("evidence artifact missing", "evidence_id", ev.ID, "key", key)
		return nil, domain.NewError(domain.CodeIntegrityMismatch, "artifact for evidence %s is missing", ev.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if got := domain.SumBytes(body); got != ev.ContentHash {
		s.logger.Error("evidence integrity mismatch", "evidence_id", ev.ID, "recorded", ev.ContentHash, "computed", got)
		return nil, domain.NewError(domain.CodeIntegrityMismatch, "artifact hash %s does not match recorded %s", got, ev.ContentHash)
	}
	return body, nil
}

func (s *Service) ListByRun(ctx context.Context, runID string, limit int) ([]domain.Evidence, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.Evidence().ListByRun(ctx, strings.TrimSpace(runID), limit)
}

// ForAction returns the evidence recorded for an action.
func (s *Service) ForAction(ctx context.Context, actionID string) (domain.Evidence, error) {
	if err := s.ready(); err != nil {
		return domain.Evidence{}, err
	}
	ev, err := s.store.Evidence().GetByAction(ctx, actionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Evidence{}, domain.NewError(domain.CodeNotFound, "no evidence for action %s", actionID)
	}
	return ev, err
}

// AttemptDelete audits a deletion attempt and always returns
// EVIDENCE_DELETE_FORBIDDEN. Object storage is never contacted.
func (s *Service) AttemptDelete(ctx context.Context, info status.AuditInfo, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = "anonymous"
	}
	entry := domain.AuditEntry{
		Actor:        actor,
		EventType:    domain.EventEvidenceDeleteAttempted,
		ResourceType: "evidence",
		ResourceID:   strings.TrimSpace(id),
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      domain.Metadata{"security_event": true},
		Timestamp:    s.now().UTC(),
	}
	if ev, err := s.store.Evidence().Get(ctx, entry.ResourceID); err == nil {
		entry.RunID = ev.RunID
		entry.Details["content_hash"] = ev.ContentHash
	}
	if _, err := s.store.Audit().Append(ctx, entry); err != nil {
		s.logger.Error("audit evidence delete attempt", "evidence_id", id, "error", err)
	}
	s.logger.Warn("evidence delete attempted", "evidence_id", id, "actor", actor, "ip", info.IP)
	return domain.NewError(domain.CodeEvidenceDeleteForbidden, "evidence is immutable and can not be deleted")
}
