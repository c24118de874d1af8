package middleware

import (
	"net/http"

	"github.com/r3e-network/mcp-gateway/internal/auth"
)

// PathAuthGate enforces the path-based auth gating of spec §4.G(a): any
// request under /mcp/ must present some bearer or API-key credential before
// it reaches the MCP middleware chain, which validates the credential
// itself and produces a structured JSON-RPC error for a bad one. A
// completely missing credential is rejected here with a plain 401, per the
// literal "missing token" case.
func PathAuthGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.RequiresAuth(r.URL.Path) {
			authz := r.Header.Get("Authorization")
			apiKey := r.Header.Get("X-API-Key")
			if authz == "" && apiKey == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "AUTH_1001", Message: "missing bearer token or API key"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
