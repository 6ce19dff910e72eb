package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAllows(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{RoleAgent}, RoleViewer, true},
		{[]string{RoleAgent}, RoleReviewer, false},
		{[]string{RoleWorker}, RoleAgent, false},
		{[]string{RoleReviewer}, RoleReviewer, true},
		{[]string{"ADMIN"}, RoleWorker, true},
		{[]string{"superuser"}, RoleViewer, false},
		{nil, RoleViewer, false},
	}
	for _, tc := range cases {
		if got := Allows(tc.roles, tc.required); got != tc.want {
			t.Fatalf("Allows(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestParseServiceTokens(t *testing.T) {
	tokens, err := ParseServiceTokens("worker-1:worker:0123456789abcdef, agent-1:agent|viewer:fedcba9876543210")
	if err != nil {
		t.Fatalf("ParseServiceTokens: %v", err)
	}
	if len(tokens) != 2 || tokens[1].Subject != "agent-1" || len(tokens[1].Roles) != 2 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if _, err := ParseServiceTokens("worker-1:root:0123456789abcdef"); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if _, err := ParseServiceTokens("worker-1:worker:short"); err == nil {
		t.Fatalf("expected short token error")
	}
}

func TestServiceTokenAuthenticator(t *testing.T) {
	a := NewServiceTokenAuthenticator([]ServiceToken{{Subject: "worker-1", Roles: []string{RoleWorker}, Token: "0123456789abcdef"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/worker/actions", nil)
	req.Header.Set("Authorization", "Bearer 0123456789abcdef")
	id, err := a.Authenticate(context.Background(), req)
	if err != nil || id.Subject != "worker-1" {
		t.Fatalf("id=%+v err=%v", id, err)
	}

	req.Header.Set("Authorization", "Bearer nope")
	if _, err := a.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestGatewayHeaders_RoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewGatewayHeadersAuthenticator("gateway-secret-0123")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator: %v", err)
	}
	a.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/a1/approve", nil)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, _ := ComputeGatewaySignature("gateway-secret-0123", ts, req.Method, req.URL.Path, "", "alice", "alice@example.com", "reviewer")
	req.Header.Set(HeaderSubject, "alice")
	req.Header.Set(HeaderEmail, "alice@example.com")
	req.Header.Set(HeaderRoles, "reviewer")
	req.Header.Set(HeaderGatewayTimestamp, ts)
	req.Header.Set(HeaderGatewaySignature, sig)

	id, err := a.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Actor() != "alice@example.com" || !HasRole(id, RoleReviewer) {
		t.Fatalf("unexpected identity %+v", id)
	}

	req.Header.Set(HeaderRoles, "admin")
	if _, err := a.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected role tampering to fail signature check")
	}
}

func TestChain_StopsOnHardError(t *testing.T) {
	hard := &testAuthenticator{err: errors.New("expired id token")}
	fallback := &testAuthenticator{identity: Identity{Subject: "dev"}}
	_, err := Chain{&testAuthenticator{err: ErrUnauthenticated}, hard, fallback}.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err == nil || fallback.calls != 0 {
		t.Fatalf("err=%v fallback calls=%d", err, fallback.calls)
	}
}

func TestConfigFromEnv_Dev(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("DEV_AUTH_ROLES", "reviewer,viewer")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if len(cfg.DevRoles) != 2 || cfg.DevRoles[0] != RoleReviewer {
		t.Fatalf("DevRoles=%v", cfg.DevRoles)
	}
}

func TestConfigFromEnv_OIDCRequiresIssuer(t *testing.T) {
	t.Setenv("AUTH_MODE", "oidc")
	t.Setenv("OIDC_ISSUER_URL", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSafeReturnTo(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/runs/1":             "/runs/1",
		"https://evil.test/x": "/",
		"//evil.test/x":       "/",
		"relative/path":       "/",
		"/approvals?x=1":      "/approvals",
	}
	for in, want := range cases {
		if got := safeReturnTo(in); got != want {
			t.Fatalf("safeReturnTo(%q)=%q, want %q", in, got, want)
		}
	}
}
