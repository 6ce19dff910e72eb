package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// NDJSONExporter writes audit entries as newline delimited JSON. Safe for concurrent use.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, entry domain.AuditEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(exportEventFromDomain(entry))
}

type exportEvent struct {
	ID              int64           `json:"id"`
	Timestamp       string          `json:"timestamp"`
	RunID           string          `json:"run_id,omitempty"`
	Actor           string          `json:"actor"`
	EventType       string          `json:"event_type"`
	ResourceType    string          `json:"resource_type,omitempty"`
	ResourceID      string          `json:"resource_id,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Details         json.RawMessage `json:"details"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func exportEventFromDomain(entry domain.AuditEntry) exportEvent {
	details, err := domain.CanonicalJSON(entry.Details)
	if err != nil || entry.Details == nil {
		details = []byte("{}")
	}
	return exportEvent{
		ID:              entry.ID,
		Timestamp:       entry.Timestamp.UTC().Format(time.RFC3339Nano),
		RunID:           entry.RunID,
		Actor:           entry.Actor,
		EventType:       string(entry.EventType),
		ResourceType:    entry.ResourceType,
		ResourceID:      entry.ResourceID,
		RequestID:       entry.RequestID,
		IP:              entry.IP,
		UserAgent:       entry.UserAgent,
		Details:         details,
		IntegritySHA256: entry.IntegritySHA256,
	}
}
