package auditexport

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
)

// Config controls audit export format and destination.
type Config struct {
	Format      string
	Destination string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Format:      strings.ToLower(strings.TrimSpace(env.String("AUDIT_EXPORT_FORMAT", "none"))),
		Destination: strings.TrimSpace(env.String("AUDIT_EXPORT_DESTINATION", "stdout")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Format {
	case "", "none":
		return nil
	case "ndjson":
		if c.Destination == "" {
			return fmt.Errorf("AUDIT_EXPORT_DESTINATION is required for ndjson export")
		}
		return nil
	default:
		return fmt.Errorf("unsupported audit export format: %s", c.Format)
	}
}

// Open builds the configured exporter. The closer releases any opened file.
func Open(cfg Config) (Exporter, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Format == "" || cfg.Format == "none" {
		return NoopExporter{}, nopCloser{}, nil
	}
	if cfg.Destination == "stdout" {
		return NewNDJSONExporter(os.Stdout), nopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.Destination, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit export file: %w", err)
	}
	return NewNDJSONExporter(f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
