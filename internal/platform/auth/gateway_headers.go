package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/requestid"
)

const (
	HeaderSubject = "X-SF-Subject"
	HeaderEmail   = "X-SF-Email"
	HeaderRoles   = "X-SF-Roles"

	HeaderGatewayTimestamp = "X-SF-Auth-Ts"
	HeaderGatewaySignature = "X-SF-Auth-Sig"
)

// GatewayHeadersAuthenticator trusts identity headers set by the UI proxy
// when they carry a fresh HMAC over the request line and identity.
type GatewayHeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
	now     func() time.Time
}

func NewGatewayHeadersAuthenticator(secret string) (*GatewayHeadersAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("AUTH_GATEWAY_SECRET is required")
	}
	return &GatewayHeadersAuthenticator{Secret: secret, MaxSkew: 5 * time.Minute, now: time.Now}, nil
}

func (a *GatewayHeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	ts := strings.TrimSpace(r.Header.Get(HeaderGatewayTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderGatewaySignature))
	if subject == "" || ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	if err := VerifyGatewayTimestamp(ts, a.now().UTC(), a.MaxSkew); err != nil {
		return Identity{}, err
	}
	expected, err := ComputeGatewaySignature(a.Secret, ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), subject, email, rolesRaw)
	if err != nil {
		return Identity{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Identity{}, errors.New("invalid gateway signature")
	}
	return Identity{Subject: subject, Email: email, Roles: parseCSV(rolesRaw)}, nil
}

func ComputeGatewaySignature(secret, ts, method, path, requestID, subject, email, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("gateway secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	msg := strings.Join([]string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(email),
		strings.TrimSpace(roles),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifyGatewayTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	parsed, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}
	stamp := time.Unix(parsed, 0).UTC()
	if stamp.After(now.Add(maxSkew)) || stamp.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}
