package auditexport

import (
	"context"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// Exporter ships committed audit entries to an external sink.
type Exporter interface {
	Export(ctx context.Context, entry domain.AuditEntry) error
}

// NoopExporter keeps the database as the only audit sink.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, entry domain.AuditEntry) error {
	return nil
}
