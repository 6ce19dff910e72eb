package objectstore

import (
	"errors"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketEvidence string
	RetentionDays  int
	// Memory keeps evidence in process. It exists for local development only.
	Memory bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SF_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	retention, err := env.Int("SF_EVIDENCE_RETENTION_DAYS", 3650)
	if err != nil {
		return Config{}, err
	}
	memory, err := env.Bool("SF_EVIDENCE_STORE_MEMORY", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       strings.TrimSpace(env.String("SF_MINIO_ENDPOINT", "localhost:9000")),
		AccessKey:      env.String("SF_MINIO_ACCESS_KEY", ""),
		SecretKey:      env.String("SF_MINIO_SECRET_KEY", ""),
		Region:         env.String("SF_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketEvidence: env.String("SF_MINIO_BUCKET_EVIDENCE", "securityflash-evidence"),
		RetentionDays:  retention,
		Memory:         memory,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BucketEvidence == "" {
		return errors.New("SF_MINIO_BUCKET_EVIDENCE is required")
	}
	if c.RetentionDays < 1 {
		return errors.New("SF_EVIDENCE_RETENTION_DAYS must be >= 1")
	}
	if c.Memory {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("SF_MINIO_ENDPOINT is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("SF_MINIO_ACCESS_KEY and SF_MINIO_SECRET_KEY are required")
	}
	return nil
}
