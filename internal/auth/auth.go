// Package auth implements the gateway's dual authentication (API key and
// OAuth/JWT) and the tool/resource RBAC layered on top of it.
package auth

import (
	"context"

	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// Authenticator tries the API-key path, then the OAuth path. Neither
// matching leaves the request anonymous rather than erroring, per spec: an
// anonymous user context still flows through rate limiting and RBAC.
type Authenticator struct {
	apiKey *APIKeyAuthenticator
	oauth  *OAuthAuthenticator
}

func NewAuthenticator(apiKey *APIKeyAuthenticator, oauth *OAuthAuthenticator) *Authenticator {
	return &Authenticator{apiKey: apiKey, oauth: oauth}
}

// Headers bundles the raw credential material a caller may present.
type Headers struct {
	XAPIKey       string
	Authorization string
}

// Authenticate returns the user context derived from whichever credential
// is present. If neither an API key nor a bearer JWT is presented, it
// returns the anonymous context and no error.
func (a *Authenticator) Authenticate(ctx context.Context, h Headers) (tenant.Context, error) {
	if key := ExtractKey(h.XAPIKey, h.Authorization); key != "" {
		return a.apiKey.Authenticate(ctx, key)
	}

	if token := ExtractBearer(h.Authorization); token != "" {
		return a.oauth.Authenticate(ctx, token)
	}

	return tenant.Context{Role: tenant.RoleAnonymous, Anonymous: true}, nil
}
