package policy

import (
	"context"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/rego"
)

type fakeCounter struct {
	count int
	since time.Time
}

func (f *fakeCounter) CountRecent(_ context.Context, _ string, _ domain.ToolName, _ string, since time.Time) (int, error) {
	f.since = since
	return f.count, nil
}

var evalTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // Wednesday

func lockedScope() domain.Scope {
	locked := evalTime.Add(-time.Hour)
	def := domain.ScopeDefinition{
		Targets: []domain.Target{
			{Value: "example.com", Criticality: domain.CriticalityLow},
			{Value: "api.example.com", Criticality: domain.CriticalityHigh},
			{Value: "10.0.0.0/24"},
			{Value: "https://portal.test/login", Criticality: domain.CriticalityMedium},
		},
		ExcludedTargets: []domain.Target{{Value: "admin.example.com"}},
		ApprovedTools:   []string{"httpx", "nmap", "sqlmap"},
	}
	def.Normalize()
	return domain.Scope{ID: "scope-1", ProjectID: "proj-1", Definition: def, Status: domain.ScopeStatusLocked, LockedAt: &locked}
}

func newTestEngine(counter *fakeCounter, cfg Config, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return evalTime })}, opts...)
	return NewEngine(cfg, counter, opts...)
}

func httpx(target, justification string) Proposal {
	return Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.HTTPXArgs{Method: "GET"}), Target: target, Justification: justification}
}

func evaluate(t *testing.T, e *Engine, p Proposal, scope domain.Scope) Decision {
	t.Helper()
	d, err := e.Evaluate(context.Background(), p, scope)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return d
}

func expectCode(t *testing.T, d Decision, code domain.Code) {
	t.Helper()
	if !d.Rejected() {
		t.Fatalf("expected %s, decision allowed: %+v", code, d)
	}
	if d.Rejection.Code != code {
		t.Fatalf("expected %s, got %s (%s)", code, d.Rejection.Code, d.Rejection.Reason)
	}
}

func TestScopeContainment(t *testing.T) {
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	scope := lockedScope()

	cases := []struct {
		target string
		ok     bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"https://shop.example.com/cart", true},
		{"admin.example.com", false},
		{"x.admin.example.com", false},
		{"notexample.com", false},
		{"10.0.0.42", true},
		{"10.0.1.1", false},
		{"https://portal.test/other", true},
		{"portal.test.evil.com", false},
		{"evil.com", false},
	}
	for _, tc := range cases {
		d := evaluate(t, e, httpx(tc.target, "baseline"), scope)
		if tc.ok && d.Rejected() {
			t.Fatalf("%s: unexpected rejection %v", tc.target, d.Rejection)
		}
		if !tc.ok {
			expectCode(t, d, domain.CodeScopeViolation)
		}
	}
}

func TestToolAllowlistFailsClosed(t *testing.T) {
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	scope := lockedScope()

	d := evaluate(t, e, Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.SubfinderArgs{}), Target: "example.com"}, scope)
	expectCode(t, d, domain.CodeToolNotAllowed)

	unknown, _ := domain.ParseInvocation("masscan", []byte(`{}`))
	d = evaluate(t, e, Proposal{RunID: "run-1", Invocation: unknown, Target: "example.com"}, scope)
	expectCode(t, d, domain.CodeToolNotAllowed)

	draft := lockedScope()
	draft.Status, draft.LockedAt = domain.ScopeStatusDraft, nil
	d = evaluate(t, e, httpx("example.com", ""), draft)
	expectCode(t, d, domain.CodeToolNotAllowed)

	empty := lockedScope()
	empty.Definition.Targets = nil
	d = evaluate(t, e, httpx("example.com", ""), empty)
	expectCode(t, d, domain.CodeToolNotAllowed)
}

func TestUnsafeArguments(t *testing.T) {
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	scope := lockedScope()

	cases := []string{
		`{"flags":["-sV;rm"]}`,
		`{"flags":["-sV"],"ports":"80|443"}`,
		`{"flags":["--script=../../x"]}`,
		`{"flags":["-p"],"ports":"80"}`,
		`{"flags":["-sV"],"extra":"x"}`,
		`{"flags":[{"nested":true}]}`,
	}
	for _, raw := range cases {
		inv, _ := domain.ParseInvocation(domain.ToolNmap, []byte(raw))
		d := evaluate(t, e, Proposal{RunID: "run-1", Invocation: inv, Target: "example.com"}, scope)
		expectCode(t, d, domain.CodeUnsafeArgument)
	}

	for _, arg := range []string{"/etc", "etc/", "a..b", "x$y", string(make([]byte, maxArgumentBytes+1))} {
		if err := checkArgument(arg); err == nil {
			t.Fatalf("expected %q to be unsafe", arg)
		}
	}
	if err := checkArgument("exploit/unix/ftp/vsftpd"); err != nil {
		t.Fatalf("inner slashes are allowed: %v", err)
	}
}

func TestOptionLikeTargetsAreUnsafe(t *testing.T) {
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	scope := lockedScope()
	for _, target := range []string{"-iL.example.com", "--script=vuln.example.com", "-oNpwn.example.com", "scan me.example.com"} {
		nmap := Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.NmapArgs{Flags: []string{"-sV"}}), Target: target}
		expectCode(t, evaluate(t, e, nmap, scope), domain.CodeUnsafeArgument)
	}
}

func TestRateLimit(t *testing.T) {
	counter := &fakeCounter{count: 20}
	e := newTestEngine(counter, DefaultConfig())
	d := evaluate(t, e, httpx("example.com", ""), lockedScope())
	expectCode(t, d, domain.CodeRateLimited)
	if !counter.since.Equal(evalTime.Add(-5 * time.Minute)) {
		t.Fatalf("window start = %s", counter.since)
	}

	counter.count = 19
	d = evaluate(t, e, httpx("example.com", ""), lockedScope())
	if d.Rejected() {
		t.Fatalf("19/20 must pass: %v", d.Rejection)
	}

	counter.count = 10
	nmap := Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.NmapArgs{Flags: []string{"-sV"}}), Target: "example.com"}
	expectCode(t, evaluate(t, e, nmap, lockedScope()), domain.CodeRateLimited)
}

func TestRiskTiers(t *testing.T) {
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	scope := lockedScope()

	d := evaluate(t, e, httpx("example.com", "baseline"), scope)
	if d.RiskScore != 0.2 || d.Tier != domain.TierA || !d.AutoApproved() {
		t.Fatalf("low target: %+v", d)
	}

	d = evaluate(t, e, httpx("api.example.com", "baseline"), scope)
	if d.RiskScore != 0.5 || d.Tier != domain.TierB || d.RequiredApprovals != 1 || d.ManualOnly {
		t.Fatalf("high target: %+v", d)
	}

	nmap := Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.NmapArgs{Flags: []string{"-sV"}}), Target: "api.example.com", Justification: "find a shell"}
	d = evaluate(t, e, nmap, scope)
	if d.RiskScore != 0.8 || d.Tier != domain.TierC || !d.ManualOnly {
		t.Fatalf("keyword on high target: %+v", d)
	}

	sqlmap := Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.SQLMapArgs{Level: 1}), Target: "example.com"}
	d = evaluate(t, e, sqlmap, scope)
	if d.Tier != domain.TierC || !d.ManualOnly || d.AutoApproved() {
		t.Fatalf("exploitation tool must be manual: %+v", d)
	}
}

func TestRiskScoreClampsAndAddsRateProximity(t *testing.T) {
	if got := riskScore(domain.ClassExploitation, domain.CriticalityHigh, "dump the reverse shell", 9, 10); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := riskScore(domain.ClassReconnaissance, domain.CriticalityLow, "", 10, 20); got != 0.25 {
		t.Fatalf("rate proximity: got %v", got)
	}
}

func TestDualApproval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DualApprovalThreshold = 0.5
	e := newTestEngine(&fakeCounter{}, cfg)
	d := evaluate(t, e, httpx("api.example.com", ""), lockedScope())
	if d.Tier != domain.TierB || d.RequiredApprovals != 2 {
		t.Fatalf("expected dual approval: %+v", d)
	}
	d = evaluate(t, e, httpx("https://portal.test/login", ""), lockedScope())
	if d.Tier != domain.TierA {
		t.Fatalf("0.35 stays tier A: %+v", d)
	}
}

func TestTimeRestrictions(t *testing.T) {
	scope := lockedScope()
	scope.Definition.TimeRestrictions = &domain.TimeRestrictions{Weekdays: []string{"mon", "tue"}, StartHourUTC: 9, EndHourUTC: 17}
	e := newTestEngine(&fakeCounter{}, DefaultConfig())
	expectCode(t, evaluate(t, e, httpx("example.com", ""), scope), domain.CodeScopeViolation)

	scope.Definition.TimeRestrictions.Weekdays = append(scope.Definition.TimeRestrictions.Weekdays, "wednesday")
	if d := evaluate(t, e, httpx("example.com", ""), scope); d.Rejected() {
		t.Fatalf("inside window: %v", d.Rejection)
	}
}

func TestRegoRules(t *testing.T) {
	rules, err := rego.Compile(context.Background(), "test.rego", `package securityflash

deny contains "no POST against production" if {
	input.tool == "httpx"
	input.arguments.method == "POST"
}

manual_only if input.criticality == "HIGH"
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e := newTestEngine(&fakeCounter{}, DefaultConfig(), WithRules(rules))

	post := Proposal{RunID: "run-1", Invocation: domain.NewInvocation(&domain.HTTPXArgs{Method: "POST"}), Target: "example.com"}
	expectCode(t, evaluate(t, e, post, lockedScope()), domain.CodeUnsafeArgument)

	d := evaluate(t, e, httpx("api.example.com", ""), lockedScope())
	if d.Tier != domain.TierC || !d.ManualOnly {
		t.Fatalf("rego manual_only must force tier C: %+v", d)
	}
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`
default_rate_limit: 4
tools:
  - name: httpx
    rate_limit: 50
  - name: katana
    disabled: true
  - name: sqlmap
    manual_only: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.RateLimit(domain.ToolHTTPX) != 50 {
		t.Fatalf("httpx limit = %d", c.RateLimit(domain.ToolHTTPX))
	}
	if _, ok := c.Lookup(domain.ToolKatana); ok {
		t.Fatalf("katana should be disabled")
	}
	if p, _ := c.Lookup(domain.ToolSQLMap); !p.ManualOnly {
		t.Fatalf("exploitation tools stay manual only")
	}
	if c.RateLimit("unknown") != 4 {
		t.Fatalf("default limit not applied")
	}
	if _, err := ParseCatalog([]byte("tools:\n  - name: masscan\n")); err == nil {
		t.Fatalf("unknown tool must be rejected")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("POLICY_THRESHOLD_B", "0.3")
	t.Setenv("POLICY_THRESHOLD_C", "0.8")
	t.Setenv("POLICY_DUAL_APPROVAL_THRESHOLD", "0.6")
	t.Setenv("POLICY_RATE_WINDOW", "2m")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ThresholdB != 0.3 || cfg.ThresholdC != 0.8 || cfg.DualApprovalThreshold != 0.6 || cfg.RateWindow != 2*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("POLICY_DUAL_APPROVAL_THRESHOLD", "0.9")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("dual threshold above threshold_c must fail")
	}
}
