package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// JWKSKeyfunc resolves a *rsa.PublicKey (or other jwt.Keyfunc-compatible
// material) for a given token, typically backed by a JWKS cache such as
// github.com/MicahParks/keyfunc. Injected so the gateway doesn't hard-code
// one JWKS client implementation.
type JWKSKeyfunc func(*jwt.Token) (interface{}, error)

// OAuthConfig describes the external identity provider this gateway
// delegates OAuth/OIDC validation to.
type OAuthConfig struct {
	Issuer           string
	Audience         string
	TokenRefreshLead time.Duration
}

// Claims is the subset of the provider's JWT claims the gateway consumes.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tid"`
	Roles    []string `json:"roles"`
	Email    string   `json:"email"`
}

// OAuthAuthenticator validates bearer JWTs issued by the configured
// provider using its JWKS-backed key function, checking issuer and
// audience per spec, and projects claims into a user context.
type OAuthAuthenticator struct {
	cfg     OAuthConfig
	keyfunc JWKSKeyfunc
}

func NewOAuthAuthenticator(cfg OAuthConfig, keyfunc JWKSKeyfunc) *OAuthAuthenticator {
	return &OAuthAuthenticator{cfg: cfg, keyfunc: keyfunc}
}

// Authenticate validates a raw bearer JWT and returns the derived user
// context. PKCE forwarding and client_secret_post token-endpoint auth are
// handled upstream of the gateway, by the authorization-code exchange that
// issues this token; the gateway only verifies the resulting access token.
func (o *OAuthAuthenticator) Authenticate(ctx context.Context, rawToken string) (tenant.Context, error) {
	if o == nil {
		return tenant.Context{}, apperrors.InvalidToken(fmt.Errorf("oauth authentication is not configured"))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, o.keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return tenant.Context{}, apperrors.TokenExpired()
		}
		return tenant.Context{}, apperrors.InvalidToken(err)
	}
	if !token.Valid {
		return tenant.Context{}, apperrors.InvalidToken(fmt.Errorf("token failed validation"))
	}

	if o.cfg.Issuer != "" && claims.Issuer != o.cfg.Issuer {
		return tenant.Context{}, apperrors.InvalidToken(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	if o.cfg.Audience != "" && !audienceContains(claims.Audience, o.cfg.Audience) {
		return tenant.Context{}, apperrors.InvalidToken(fmt.Errorf("unexpected audience"))
	}

	role := tenant.RoleUser
	for _, r := range claims.Roles {
		if r == string(tenant.RoleAdmin) {
			role = tenant.RoleAdmin
			break
		}
	}

	return tenant.Context{
		UserID:             claims.Subject,
		Email:              claims.Email,
		Role:               role,
		TenantID:           claims.TenantID,
		RefreshRecommended: o.NeedsRefresh(claims),
	}, nil
}

// NeedsRefresh reports whether the token's expiry falls within the
// provider's refresh lead window. Authenticate evaluates it on every
// successful call and reports the result as RefreshRecommended.
func (o *OAuthAuthenticator) NeedsRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil || o.cfg.TokenRefreshLead <= 0 {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) <= o.cfg.TokenRefreshLead
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

