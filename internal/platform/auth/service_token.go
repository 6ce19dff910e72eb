package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ServiceToken is a static bearer credential bound to one subject.
type ServiceToken struct {
	Subject string
	Roles   []string
	Token   string
}

// ParseServiceTokens reads "subject:role|role:token" entries separated by commas.
func ParseServiceTokens(raw string) ([]ServiceToken, error) {
	var out []ServiceToken
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, errors.New("AUTH_SERVICE_TOKENS entries must be subject:roles:token")
		}
		st := ServiceToken{
			Subject: strings.TrimSpace(parts[0]),
			Roles:   parseCSV(strings.ReplaceAll(parts[1], "|", ",")),
			Token:   strings.TrimSpace(parts[2]),
		}
		if st.Subject == "" || len(st.Roles) == 0 {
			return nil, errors.New("AUTH_SERVICE_TOKENS entries need a subject and a role")
		}
		if len(st.Token) < 16 {
			return nil, fmt.Errorf("service token for %q must be at least 16 characters", st.Subject)
		}
		for _, role := range st.Roles {
			if !KnownRole(role) {
				return nil, fmt.Errorf("service token for %q has unknown role %q", st.Subject, role)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

type ServiceTokenAuthenticator struct {
	tokens []hashedToken
}

type hashedToken struct {
	sum      [32]byte
	identity Identity
}

func NewServiceTokenAuthenticator(tokens []ServiceToken) *ServiceTokenAuthenticator {
	a := &ServiceTokenAuthenticator{}
	for _, t := range tokens {
		a.tokens = append(a.tokens, hashedToken{
			sum:      sha256.Sum256([]byte(t.Token)),
			identity: Identity{Subject: t.Subject, Roles: t.Roles},
		})
	}
	return a
}

func (a *ServiceTokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := tokenFromHeader(r)
	if raw == "" || len(a.tokens) == 0 {
		return Identity{}, ErrUnauthenticated
	}
	got := sha256.Sum256([]byte(raw))
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(got[:], t.sum[:]) == 1 {
			return t.identity, nil
		}
	}
	// Unknown bearer values fall through so OIDC can try them as ID tokens.
	return Identity{}, ErrUnauthenticated
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
