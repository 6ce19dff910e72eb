// Package token issues and verifies execution tokens.
//
// A token authorizes exactly one action: it embeds the run id, the action id,
// the content hash of the approved payload and an expiry. Workers refuse any
// action whose token does not verify or whose hash no longer matches the
// stored payload.
package token

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenInvalid = errors.New("execution token is invalid")
	ErrTokenExpired = errors.New("execution token is expired")
)

type Claims struct {
	RunID         string `json:"run_id"`
	ActionID      string `json:"action_id"`
	ContentHash   string `json:"content_hash"`
	IssuedAtUnix  int64  `json:"iat"`
	ExpiresAtUnix int64  `json:"exp"`
}

func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.ExpiresAtUnix, 0).UTC()
}

func (c *Claims) normalize() {
	c.RunID = strings.TrimSpace(c.RunID)
	c.ActionID = strings.TrimSpace(c.ActionID)
	c.ContentHash = strings.TrimSpace(c.ContentHash)
}

func (c Claims) validateForSign(now time.Time) error {
	if c.RunID == "" {
		return errors.New("run_id is required")
	}
	if c.ActionID == "" {
		return errors.New("action_id is required")
	}
	if c.ContentHash == "" {
		return errors.New("content_hash is required")
	}
	if c.ExpiresAtUnix == 0 {
		return errors.New("exp is required")
	}
	if c.ExpiresAtUnix <= now.UTC().Unix() {
		return errors.New("exp must be in the future")
	}
	return nil
}

func (c Claims) checkVerified(now time.Time) (Claims, error) {
	c.normalize()
	if c.RunID == "" || c.ActionID == "" || c.ContentHash == "" || c.ExpiresAtUnix == 0 {
		return Claims{}, ErrTokenInvalid
	}
	if c.ExpiresAtUnix <= now.UTC().Unix() {
		return Claims{}, ErrTokenExpired
	}
	return c, nil
}

// Signer mints tokens and detached signatures.
type Signer interface {
	Sign(claims Claims, now time.Time) (string, error)
	SignBytes(b []byte) (string, error)
}

type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

type Codec interface {
	Signer
	Verifier
}

func prepare(claims Claims, now time.Time) (Claims, time.Time, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	claims.normalize()
	if claims.IssuedAtUnix == 0 {
		claims.IssuedAtUnix = now.UTC().Unix()
	}
	if err := claims.validateForSign(now); err != nil {
		return Claims{}, now, err
	}
	return claims, now, nil
}
