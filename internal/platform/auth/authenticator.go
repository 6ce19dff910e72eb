package auth

import (
	"context"
	"fmt"
)

// NewAuthenticator builds the request authenticator for cfg. Service tokens and
// gateway headers are always tried before the interactive mode. The returned
// OIDCService is nil unless cfg.Mode is oidc.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, *OIDCService, error) {
	chain := Chain{}
	if len(cfg.ServiceTokens) > 0 {
		chain = append(chain, NewServiceTokenAuthenticator(cfg.ServiceTokens))
	}
	if cfg.GatewaySecret != "" {
		gw, err := NewGatewayHeadersAuthenticator(cfg.GatewaySecret)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, gw)
	}

	var svc *OIDCService
	switch cfg.Mode {
	case ModeOIDC:
		s, err := NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		svc = s
		chain = append(chain, s)
	case ModeDev:
		chain = append(chain, NewDevAuthenticator(cfg))
	case ModeDisabled:
		chain = append(chain, &DevAuthenticator{identity: Identity{Subject: "anonymous", Roles: []string{RoleAdmin}}})
	default:
		return nil, nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
	return chain, svc, nil
}
