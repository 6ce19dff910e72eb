package policy

import (
	"errors"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
)

type Config struct {
	Version    string
	ThresholdB float64
	ThresholdC float64
	// DualApprovalThreshold enables two-person approval for tier B scores at or above it. Zero disables it.
	DualApprovalThreshold float64
	RateWindow            time.Duration
	RegoFile              string
	ToolCatalogFile       string
}

func DefaultConfig() Config {
	return Config{
		Version:    "v1",
		ThresholdB: 0.4,
		ThresholdC: 0.7,
		RateWindow: 5 * time.Minute,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	thresholdB, err := env.Float("POLICY_THRESHOLD_B", def.ThresholdB)
	if err != nil {
		return Config{}, err
	}
	thresholdC, err := env.Float("POLICY_THRESHOLD_C", def.ThresholdC)
	if err != nil {
		return Config{}, err
	}
	dual, err := env.Float("POLICY_DUAL_APPROVAL_THRESHOLD", 0)
	if err != nil {
		return Config{}, err
	}
	window, err := env.Duration("POLICY_RATE_WINDOW", def.RateWindow)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Version:               env.String("POLICY_VERSION", def.Version),
		ThresholdB:            thresholdB,
		ThresholdC:            thresholdC,
		DualApprovalThreshold: dual,
		RateWindow:            window,
		RegoFile:              env.String("POLICY_REGO_FILE", ""),
		ToolCatalogFile:       env.String("POLICY_TOOL_CATALOG", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Version == "" {
		return errors.New("POLICY_VERSION is required")
	}
	if c.ThresholdB <= 0 || c.ThresholdB > 1 {
		return errors.New("POLICY_THRESHOLD_B must be within (0, 1]")
	}
	if c.ThresholdC < c.ThresholdB || c.ThresholdC > 1 {
		return errors.New("POLICY_THRESHOLD_C must be within [POLICY_THRESHOLD_B, 1]")
	}
	if c.DualApprovalThreshold != 0 && (c.DualApprovalThreshold < c.ThresholdB || c.DualApprovalThreshold >= c.ThresholdC) {
		return errors.New("POLICY_DUAL_APPROVAL_THRESHOLD must be within [POLICY_THRESHOLD_B, POLICY_THRESHOLD_C)")
	}
	if c.RateWindow <= 0 {
		return errors.New("POLICY_RATE_WINDOW must be positive")
	}
	return nil
}
