package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
)

type Mode string

const (
	ModeHMAC    Mode = "hmac"
	ModeEd25519 Mode = "ed25519"
)

type Config struct {
	Mode   Mode
	Secret string
	// SignatureSecret keys HMAC approval and scope lock signatures. API only.
	SignatureSecret string
	PrivateKey      string
	PublicKey       string
	TTL             time.Duration
}

func ConfigFromEnv() (Config, error) {
	ttl, err := env.Duration("TOKEN_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:            Mode(strings.ToLower(strings.TrimSpace(env.String("TOKEN_MODE", string(ModeHMAC))))),
		Secret:          strings.TrimSpace(env.String("TOKEN_SECRET", "")),
		SignatureSecret: strings.TrimSpace(env.String("SIGNATURE_SECRET", "")),
		PrivateKey:      strings.TrimSpace(env.String("TOKEN_ED25519_PRIVATE_KEY", "")),
		PublicKey:       strings.TrimSpace(env.String("TOKEN_ED25519_PUBLIC_KEY", "")),
		TTL:             ttl,
	}
	return cfg, nil
}

// Validate checks the configuration for the signing side.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	switch c.Mode {
	case ModeHMAC:
		if c.Secret == "" {
			return errors.New("TOKEN_SECRET is required")
		}
		if len(c.Secret) < 16 {
			return errors.New("TOKEN_SECRET must be at least 16 characters")
		}
		if c.SignatureSecret != "" && len(c.SignatureSecret) < 16 {
			return errors.New("SIGNATURE_SECRET must be at least 16 characters")
		}
		if c.SignatureSecret != "" && c.SignatureSecret == c.Secret {
			return errors.New("SIGNATURE_SECRET must differ from TOKEN_SECRET")
		}
	case ModeEd25519:
		if c.PrivateKey == "" {
			return errors.New("TOKEN_ED25519_PRIVATE_KEY is required")
		}
	default:
		return fmt.Errorf("TOKEN_MODE %q is invalid", c.Mode)
	}
	return nil
}

// ValidateForVerify checks the configuration for the worker side, which never holds a private key.
func (c Config) ValidateForVerify() error {
	switch c.Mode {
	case ModeHMAC:
		if c.Secret == "" {
			return errors.New("TOKEN_SECRET is required")
		}
	case ModeEd25519:
		if c.PublicKey == "" && c.PrivateKey == "" {
			return errors.New("TOKEN_ED25519_PUBLIC_KEY is required")
		}
	default:
		return fmt.Errorf("TOKEN_MODE %q is invalid", c.Mode)
	}
	return nil
}

// NewCodec builds the codec selected by cfg.Mode.
func NewCodec(cfg Config) (Codec, error) {
	switch cfg.Mode {
	case ModeHMAC:
		codec, err := NewHMACCodec(cfg.Secret)
		if err != nil {
			return nil, err
		}
		if cfg.SignatureSecret == "" {
			return codec, nil
		}
		codec, err = codec.WithSignatureSecret(cfg.SignatureSecret)
		if err != nil {
			return nil, err
		}
		return codec, nil
	case ModeEd25519:
		var priv ed25519.PrivateKey
		var pub ed25519.PublicKey
		if cfg.PrivateKey != "" {
			raw, err := decodeKey(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("decode private key: %w", err)
			}
			switch len(raw) {
			case ed25519.SeedSize:
				priv = ed25519.NewKeyFromSeed(raw)
			case ed25519.PrivateKeySize:
				priv = ed25519.PrivateKey(raw)
			default:
				return nil, errors.New("ed25519 private key must be a 32 byte seed or 64 byte key")
			}
		}
		if cfg.PublicKey != "" {
			raw, err := decodeKey(cfg.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("decode public key: %w", err)
			}
			pub = ed25519.PublicKey(raw)
		}
		return NewEdDSACodec(priv, pub)
	default:
		return nil, fmt.Errorf("token mode %q is invalid", cfg.Mode)
	}
}

func decodeKey(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
