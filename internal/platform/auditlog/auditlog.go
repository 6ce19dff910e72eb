package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// Prepare normalizes an entry, fills its timestamp and seals it with an integrity hash.
// It returns the sealed entry and the canonical details JSON to persist.
func Prepare(entry domain.AuditEntry, now time.Time) (domain.AuditEntry, []byte, error) {
	if entry.Timestamp.IsZero() {
		if now.IsZero() {
			now = time.Now()
		}
		entry.Timestamp = now
	}
	// Postgres keeps microseconds; sealing at that precision keeps stored entries verifiable.
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)
	entry.RunID = strings.TrimSpace(entry.RunID)
	entry.Actor = strings.TrimSpace(entry.Actor)
	entry.ResourceType = strings.TrimSpace(entry.ResourceType)
	entry.ResourceID = strings.TrimSpace(entry.ResourceID)
	entry.RequestID = strings.TrimSpace(entry.RequestID)
	entry.IP = normalizeIP(entry.IP)
	entry.UserAgent = strings.TrimSpace(entry.UserAgent)
	if err := entry.Validate(); err != nil {
		return domain.AuditEntry{}, nil, err
	}

	details := entry.Details
	if details == nil {
		details = domain.Metadata{}
	}
	detailsJSON, err := domain.CanonicalJSON(details)
	if err != nil {
		return domain.AuditEntry{}, nil, fmt.Errorf("marshal details: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(entry, detailsJSON)
	if err != nil {
		return domain.AuditEntry{}, nil, err
	}
	entry.IntegritySHA256 = integrity
	return entry, detailsJSON, nil
}

func ComputeIntegritySHA256(entry domain.AuditEntry, detailsJSON []byte) (string, error) {
	type integrityInput struct {
		Timestamp    time.Time       `json:"timestamp"`
		RunID        string          `json:"run_id,omitempty"`
		Actor        string          `json:"actor"`
		EventType    string          `json:"event_type"`
		ResourceType string          `json:"resource_type,omitempty"`
		ResourceID   string          `json:"resource_id,omitempty"`
		RequestID    string          `json:"request_id,omitempty"`
		IP           string          `json:"ip,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		Details      json.RawMessage `json:"details"`
	}

	blob, err := json.Marshal(integrityInput{
		Timestamp:    entry.Timestamp.UTC(),
		RunID:        entry.RunID,
		Actor:        entry.Actor,
		EventType:    string(entry.EventType),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		RequestID:    entry.RequestID,
		IP:           entry.IP,
		UserAgent:    entry.UserAgent,
		Details:      detailsJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the seal of a stored entry.
func VerifyIntegrity(entry domain.AuditEntry) (bool, error) {
	details := entry.Details
	if details == nil {
		details = domain.Metadata{}
	}
	detailsJSON, err := domain.CanonicalJSON(details)
	if err != nil {
		return false, err
	}
	got, err := ComputeIntegritySHA256(entry, detailsJSON)
	if err != nil {
		return false, err
	}
	return got == entry.IntegritySHA256, nil
}

func normalizeIP(v string) string {
	v = strings.TrimSpace(v)
	if host, _, err := net.SplitHostPort(v); err == nil {
		v = host
	}
	if ip := net.ParseIP(v); ip != nil {
		return ip.String()
	}
	return ""
}
