package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// EdDSACodec issues compact JWS tokens signed with Ed25519.
// A codec built from a public key alone can verify but not sign.
type EdDSACodec struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	signer jose.Signer
}

func NewEdDSACodec(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*EdDSACodec, error) {
	if priv == nil && pub == nil {
		return nil, errors.New("ed25519 key is required")
	}
	if priv != nil {
		if len(priv) != ed25519.PrivateKeySize {
			return nil, errors.New("ed25519 private key has wrong size")
		}
		derived, _ := priv.Public().(ed25519.PublicKey)
		if pub != nil && !derived.Equal(pub) {
			return nil, errors.New("ed25519 public key does not match private key")
		}
		pub = derived
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 public key has wrong size")
	}

	c := &EdDSACodec{priv: priv, pub: pub}
	if priv != nil {
		signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, (&jose.SignerOptions{}).WithType("JWT"))
		if err != nil {
			return nil, fmt.Errorf("new signer: %w", err)
		}
		c.signer = signer
	}
	return c, nil
}

func (c *EdDSACodec) Sign(claims Claims, now time.Time) (string, error) {
	if c.signer == nil {
		return "", errors.New("codec has no private key")
	}
	claims, _, err := prepare(claims, now)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	obj, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return obj.CompactSerialize()
}

func (c *EdDSACodec) Verify(tok string, now time.Time) (Claims, error) {
	obj, err := jose.ParseSigned(tok, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	payload, err := obj.Verify(c.pub)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return claims.checkVerified(now)
}

func (c *EdDSACodec) SignBytes(b []byte) (string, error) {
	if c.priv == nil {
		return "", errors.New("codec has no private key")
	}
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(c.priv, append([]byte(sigDomain), b...))), nil
}

func (c *EdDSACodec) VerifyBytes(b []byte, sig string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(c.pub, append([]byte(sigDomain), b...), raw)
}
