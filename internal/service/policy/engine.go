// Package policy decides whether a proposed tool invocation may run and how
// much human sign-off it needs.
//
// Checks run in order and the first failure wins: scope containment
// (SCOPE_VIOLATION), tool allowlist (TOOL_NOT_ALLOWED), argument safety
// (UNSAFE_ARGUMENT), rate limiting (RATE_LIMITED) and, when configured, Rego
// rules. A scope that is unlocked or malformed fails closed before any check.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/rego"
)

// RateCounter counts recent non rejected proposals for (run, tool, target).
type RateCounter interface {
	CountRecent(ctx context.Context, runID string, tool domain.ToolName, target string, since time.Time) (int, error)
}

// Rules are optional extra checks evaluated after the built-in ones.
type Rules interface {
	Evaluate(ctx context.Context, input map[string]any) (rego.Result, error)
}

type Proposal struct {
	RunID         string
	Invocation    domain.ToolInvocation
	Target        string
	Justification string
}

type Decision struct {
	// Rejection is set when a policy check failed. The other fields are then informational.
	Rejection         *domain.Error
	RiskScore         float64
	Tier              domain.Tier
	ManualOnly        bool
	RequiredApprovals int
	RateCount         int
	RateLimit         int
	PolicyVersion     string
	Criticality       domain.Criticality
}

func (d Decision) Rejected() bool {
	return d.Rejection != nil
}

// AutoApproved reports whether the action may skip human review.
func (d Decision) AutoApproved() bool {
	return !d.Rejected() && d.Tier == domain.TierA && !d.ManualOnly
}

type Engine struct {
	cfg     Config
	catalog *Catalog
	counter RateCounter
	rules   Rules
	now     func() time.Time
}

type Option func(*Engine)

func WithRules(rules Rules) Option {
	return func(e *Engine) { e.rules = rules }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithCatalog(c *Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

func NewEngine(cfg Config, counter RateCounter, opts ...Option) *Engine {
	if counter == nil {
		return nil
	}
	e := &Engine{cfg: cfg, catalog: DefaultCatalog(), counter: counter, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Version() string {
	return e.cfg.Version
}

// Evaluate returns a Decision for p against scope. The error is reserved for
// infrastructure failures; policy rejections are reported on the Decision.
func (e *Engine) Evaluate(ctx context.Context, p Proposal, scope domain.Scope) (Decision, error) {
	d := Decision{PolicyVersion: e.cfg.Version, RiskScore: 1, Tier: domain.TierC}
	tool := p.Invocation.Tool
	target := strings.TrimSpace(p.Target)

	if !scope.IsLocked() {
		d.Rejection = domain.NewError(domain.CodeToolNotAllowed, "scope %s is not locked", scope.ID)
		return d, nil
	}
	if err := scope.Definition.Validate(); err != nil {
		d.Rejection = domain.NewError(domain.CodeToolNotAllowed, "scope %s is malformed: %v", scope.ID, err)
		return d, nil
	}

	entry, reason, ok := containment(target, scope.Definition)
	if !ok {
		d.Rejection = domain.NewError(domain.CodeScopeViolation, "%s", reason)
		return d, nil
	}
	if !scope.Definition.TimeRestrictions.Allows(e.now()) {
		d.Rejection = domain.NewError(domain.CodeScopeViolation, "proposal is outside the scope time window")
		return d, nil
	}
	d.Criticality = entry.Criticality

	toolPolicy, known := e.catalog.Lookup(tool)
	if !known {
		d.Rejection = domain.NewError(domain.CodeToolNotAllowed, "tool %q is not in the tool catalog", tool)
		return d, nil
	}
	if !toolApproved(tool, scope.Definition) {
		d.Rejection = domain.NewError(domain.CodeToolNotAllowed, "tool %q is not approved in scope", tool)
		return d, nil
	}

	if err := domain.CheckTarget(target); err != nil {
		d.Rejection = domain.NewError(domain.CodeUnsafeArgument, "%v", err)
		return d, nil
	}
	if err := checkArguments(p.Invocation); err != nil {
		d.Rejection = domain.NewError(domain.CodeUnsafeArgument, "%v", err)
		return d, nil
	}

	limit := e.catalog.RateLimit(tool)
	count, err := e.counter.CountRecent(ctx, p.RunID, tool, target, e.now().Add(-e.cfg.RateWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("count recent proposals: %w", err)
	}
	d.RateCount, d.RateLimit = count, limit
	if count >= limit {
		d.Rejection = domain.NewError(domain.CodeRateLimited, "rate limit exceeded for %s on %s: %d/%d in %s", tool, target, count, limit, e.cfg.RateWindow)
		return d, nil
	}

	manualOnly := toolPolicy.ManualOnly || toolPolicy.Class == domain.ClassExploitation
	if e.rules != nil {
		res, err := e.rules.Evaluate(ctx, e.ruleInput(p, toolPolicy, entry))
		if err != nil {
			return Decision{}, err
		}
		if len(res.Deny) > 0 {
			d.Rejection = domain.NewError(domain.CodeUnsafeArgument, "%s", strings.Join(res.Deny, "; "))
			return d, nil
		}
		manualOnly = manualOnly || res.ManualOnly
	}

	d.RiskScore = riskScore(toolPolicy.Class, entry.Criticality, keywordText(p), count, limit)
	t := assignTier(e.cfg, d.RiskScore, manualOnly)
	d.Tier, d.ManualOnly, d.RequiredApprovals = t.tier, t.manualOnly, t.requiredApprovals
	return d, nil
}

func keywordText(p Proposal) string {
	var b strings.Builder
	if p.Invocation.Args != nil {
		for _, v := range p.Invocation.Args.Values() {
			b.WriteString(v)
			b.WriteByte(' ')
		}
	}
	b.WriteString(p.Justification)
	return b.String()
}

func (e *Engine) ruleInput(p Proposal, tp ToolPolicy, entry domain.Target) map[string]any {
	args := map[string]any{}
	if raw, err := p.Invocation.RawArguments(); err == nil {
		_ = json.Unmarshal(raw, &args)
	}
	return map[string]any{
		"run_id":        p.RunID,
		"tool":          string(tp.Name),
		"tool_class":    string(tp.Class),
		"target":        p.Target,
		"criticality":   string(entry.Criticality),
		"arguments":     args,
		"justification": p.Justification,
	}
}
