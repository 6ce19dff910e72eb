package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	hmacPrefix = "sf_exec_v1"
	hmacDomain = "securityflash-exec-token-v1\n"
	sigDomain  = "securityflash-signature-v1\n"
	sigKeyInfo = "securityflash-signature-key-v1"
)

// HMACCodec signs tokens with a shared secret known to the API and workers.
//
// Detached signatures (approvals, scope locks) use a separate key. Unless
// WithSignatureSecret supplies one, that key is derived from the token
// secret, and any worker holding the token secret can derive it too. Such
// signatures then bind content but not the reviewer; ed25519 mode or a
// distinct signature secret is needed for non-repudiation.
type HMACCodec struct {
	secret []byte
	sigKey []byte
}

func NewHMACCodec(secret string) (*HMACCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	derived := hmac.New(sha256.New, []byte(secret))
	derived.Write([]byte(sigKeyInfo))
	return &HMACCodec{secret: []byte(secret), sigKey: derived.Sum(nil)}, nil
}

// WithSignatureSecret replaces the derived detached signature key. The
// secret must never be handed to workers.
func (c *HMACCodec) WithSignatureSecret(secret string) (*HMACCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("signature secret is required")
	}
	if hmac.Equal([]byte(secret), c.secret) {
		return nil, errors.New("signature secret must differ from the token secret")
	}
	out := *c
	out.sigKey = []byte(secret)
	return &out, nil
}

func (c *HMACCodec) Sign(claims Claims, now time.Time) (string, error) {
	claims, _, err := prepare(claims, now)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	return strings.Join([]string{hmacPrefix, payloadB64, c.mac(c.secret, hmacDomain, payloadB64)}, "."), nil
}

func (c *HMACCodec) Verify(tok string, now time.Time) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) != 3 || parts[0] != hmacPrefix || parts[1] == "" || parts[2] == "" {
		return Claims{}, ErrTokenInvalid
	}
	expected, err := base64.RawURLEncoding.DecodeString(c.mac(c.secret, hmacDomain, parts[1]))
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	got, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if !hmac.Equal(expected, got) {
		return Claims{}, ErrTokenInvalid
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return claims.checkVerified(now)
}

func (c *HMACCodec) SignBytes(b []byte) (string, error) {
	return c.mac(c.sigKey, sigDomain, string(b)), nil
}

func (c *HMACCodec) VerifyBytes(b []byte, sig string) bool {
	return hmac.Equal([]byte(c.mac(c.sigKey, sigDomain, string(b))), []byte(strings.TrimSpace(sig)))
}

func (c *HMACCodec) mac(key []byte, domain, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(domain))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
