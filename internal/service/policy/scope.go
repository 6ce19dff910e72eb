package policy

import (
	"net"
	"net/url"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// matchTarget reports whether target falls under entry.
func matchTarget(target string, entry domain.Target) bool {
	value := strings.ToLower(strings.TrimSpace(entry.Value))
	if value == "" {
		return false
	}
	target = strings.ToLower(strings.TrimSpace(target))
	if target == value {
		return true
	}
	host := hostOf(target)
	if host == "" {
		return false
	}

	switch entry.Type {
	case domain.TargetCIDR:
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && network.Contains(ip)
	case domain.TargetIP:
		ip := net.ParseIP(host)
		return ip != nil && ip.Equal(net.ParseIP(value))
	case domain.TargetURL:
		entryHost := hostOf(value)
		return entryHost != "" && host == entryHost
	default:
		return host == value || strings.HasSuffix(host, "."+value)
	}
}

// hostOf returns the lowercase host of a bare host, host:port or URL.
func hostOf(target string) string {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if h, _, err := net.SplitHostPort(target); err == nil {
		return strings.ToLower(h)
	}
	if strings.ContainsAny(target, "/?#") {
		return ""
	}
	return strings.ToLower(target)
}

// containment resolves target against a scope definition. It returns the matched
// in-scope entry, or a reason when the target is excluded or uncovered.
func containment(target string, def domain.ScopeDefinition) (domain.Target, string, bool) {
	for _, ex := range def.ExcludedTargets {
		if matchTarget(target, ex) {
			return domain.Target{}, "target " + target + " is explicitly excluded from scope", false
		}
	}
	var (
		best  domain.Target
		found bool
	)
	for _, entry := range def.Targets {
		if !matchTarget(target, entry) {
			continue
		}
		// The most critical covering entry wins so risk is never understated.
		if !found || criticalityRank(entry.Criticality) > criticalityRank(best.Criticality) {
			best, found = entry, true
		}
	}
	if !found {
		return domain.Target{}, "target " + target + " is not in approved scope", false
	}
	return best, "", true
}

func criticalityRank(c domain.Criticality) int {
	switch c {
	case domain.CriticalityHigh:
		return 3
	case domain.CriticalityMedium:
		return 2
	case domain.CriticalityLow:
		return 1
	default:
		return 0
	}
}

func toolApproved(tool domain.ToolName, def domain.ScopeDefinition) bool {
	for _, t := range def.ApprovedTools {
		if domain.ToolName(strings.ToLower(strings.TrimSpace(t))) == tool {
			return true
		}
	}
	return false
}
