package app

import (
	"context"
	"testing"

	"github.com/r3e-network/mcp-gateway/internal/auth"
	"github.com/r3e-network/mcp-gateway/internal/config"
	"github.com/r3e-network/mcp-gateway/internal/dao/memory"
	"github.com/r3e-network/mcp-gateway/internal/router"
)

func TestRouterPolicyMapsKnownNames(t *testing.T) {
	cases := map[string]router.Policy{
		"round_robin":       router.PolicyRoundRobin,
		"random":            router.PolicyRandom,
		"least_connections": router.PolicyLeastConnections,
		"consistent_hash":   router.PolicyConsistentHash,
		"weighted":          router.PolicyWeighted,
		"":                  router.PolicyWeighted,
		"unknown":           router.PolicyWeighted,
	}
	for in, want := range cases {
		if got := routerPolicy(in); got != want {
			t.Errorf("routerPolicy(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildTracerReturnsNoopWhenDisabled(t *testing.T) {
	cfg := config.New()
	cfg.Tracing.Enabled = false

	tracer, closeFn, err := buildTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildTracer() error = %v", err)
	}
	if tracer == nil || closeFn == nil {
		t.Fatal("buildTracer() returned a nil tracer or close function")
	}
	if err := closeFn(context.Background()); err != nil {
		t.Fatalf("close function error = %v, want nil for the noop tracer", err)
	}
}

func TestBuildOAuthAuthenticatorSkipsWhenJWKSURLUnset(t *testing.T) {
	cfg := config.New()
	cfg.Auth.OAuthJWKSURL = ""

	authn, err := buildOAuthAuthenticator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildOAuthAuthenticator() error = %v", err)
	}
	if authn != nil {
		t.Fatal("buildOAuthAuthenticator() returned a non-nil authenticator with no JWKS URL configured")
	}

	// The nil authenticator this returns is wired straight into
	// auth.NewAuthenticator the same way New() does; a bearer token with
	// OAuth left unconfigured must be rejected, not panic.
	store := memory.New()
	authenticator := auth.NewAuthenticator(auth.NewAPIKeyAuthenticator(store, store), authn)
	if _, err := authenticator.Authenticate(context.Background(), auth.Headers{Authorization: "Bearer x.y.z"}); err == nil {
		t.Fatal("Authenticate() error = nil, want a rejection for a bearer token with OAuth unconfigured")
	}
}
