package auth

import (
	"context"
	"errors"
	"net/http"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// Chain tries each authenticator in order. ErrUnauthenticated moves on to the
// next one; any other error is final so a bad credential is never retried as anonymous.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	for _, a := range c {
		if a == nil {
			continue
		}
		identity, err := a.Authenticate(ctx, r)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrUnauthenticated
}
