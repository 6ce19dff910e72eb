package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
)

type Config struct {
	APIURL       string
	WorkerID     string
	WorkerToken  string
	PollInterval time.Duration
	BatchSize    int
	Executor     string
	MemoryLimit  int64
	CPULimit     float64
	Token        token.Config
}

func ConfigFromEnv() (Config, error) {
	poll, err := env.Duration("WORKER_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	batch, err := env.Int("WORKER_BATCH_SIZE", 10)
	if err != nil {
		return Config{}, err
	}
	memMB, err := env.Int("WORKER_MEMORY_LIMIT_MB", toolexec.DefaultMemoryBytes>>20)
	if err != nil {
		return Config{}, err
	}
	cpu, err := env.Float("WORKER_CPU_LIMIT", 1.0)
	if err != nil {
		return Config{}, err
	}
	tokenCfg, err := token.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIURL:       strings.TrimSpace(env.String("SF_API_URL", "http://localhost:8080")),
		WorkerID:     strings.TrimSpace(env.String("SF_WORKER_ID", "worker-1")),
		WorkerToken:  strings.TrimSpace(env.String("SF_WORKER_TOKEN", "")),
		PollInterval: poll,
		BatchSize:    batch,
		Executor:     strings.ToLower(strings.TrimSpace(env.String("WORKER_EXECUTOR", "process"))),
		MemoryLimit:  int64(memMB) << 20,
		CPULimit:     cpu,
		Token:        tokenCfg,
	}, nil
}

func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("SF_API_URL is required")
	}
	if c.WorkerID == "" {
		return errors.New("SF_WORKER_ID is required")
	}
	if c.WorkerToken == "" {
		return errors.New("SF_WORKER_TOKEN is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("WORKER_POLL_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("WORKER_BATCH_SIZE must be positive")
	}
	switch c.Executor {
	case "process", "docker":
	default:
		return fmt.Errorf("WORKER_EXECUTOR %q is invalid", c.Executor)
	}
	if c.MemoryLimit <= 0 {
		return errors.New("WORKER_MEMORY_LIMIT_MB must be positive")
	}
	if c.CPULimit <= 0 {
		return errors.New("WORKER_CPU_LIMIT must be positive")
	}
	return c.Token.ValidateForVerify()
}
