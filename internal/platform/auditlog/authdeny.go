package auditlog

import (
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auth"
)

// AuthDenyEntry converts a rejected request into a security audit entry.
func AuthDenyEntry(service string, event auth.DenyEvent) domain.AuditEntry {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}
	return domain.AuditEntry{
		Timestamp:    event.Time,
		Actor:        actor,
		EventType:    domain.EventAuthDenied,
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           event.RemoteAddr,
		UserAgent:    event.UserAgent,
		Details: domain.Metadata{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	}
}
