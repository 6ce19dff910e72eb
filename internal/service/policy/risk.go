package policy

import (
	"math"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

var classBase = map[domain.ToolClass]float64{
	domain.ClassReconnaissance: 0.2,
	domain.ClassActiveScan:     0.3,
	domain.ClassExploitation:   0.8,
}

var (
	highRiskKeywords     = []string{"exploit", "shell", "payload", "reverse"}
	veryHighRiskKeywords = []string{"dump", "exfil", "extract"}
)

// riskScore adds class base, target criticality, justification keywords and
// rate proximity, clamped to [0, 1]. Each keyword group counts once.
func riskScore(class domain.ToolClass, criticality domain.Criticality, text string, count, limit int) float64 {
	score, ok := classBase[class]
	if !ok {
		score = 0.5
	}
	switch criticality {
	case domain.CriticalityHigh:
		score += 0.3
	case domain.CriticalityMedium:
		score += 0.15
	}
	text = strings.ToLower(text)
	if containsAny(text, highRiskKeywords) {
		score += 0.2
	}
	if containsAny(text, veryHighRiskKeywords) {
		score += 0.25
	}
	if limit > 0 && count > 0 {
		score += 0.1 * float64(count) / float64(limit)
	}
	// Float sums like 0.2+0.15 drift; rounding keeps tier boundaries exact.
	score = math.Round(score*1e6) / 1e6
	return math.Max(0, math.Min(1, score))
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

type tiering struct {
	tier              domain.Tier
	manualOnly        bool
	requiredApprovals int
}

func assignTier(cfg Config, score float64, manualOnly bool) tiering {
	switch {
	case manualOnly || score >= cfg.ThresholdC:
		return tiering{tier: domain.TierC, manualOnly: true, requiredApprovals: 1}
	case score < cfg.ThresholdB:
		return tiering{tier: domain.TierA, requiredApprovals: 0}
	case cfg.DualApprovalThreshold > 0 && score >= cfg.DualApprovalThreshold:
		return tiering{tier: domain.TierB, requiredApprovals: 2}
	default:
		return tiering{tier: domain.TierB, requiredApprovals: 1}
	}
}
