package auth

import "strings"

// RequiresAuth reports whether a request path requires the path-based
// gating described in the auth pipeline: /mcp itself and everything under
// /mcp/ are protected; everything else (/, /health, /ready, /metrics,
// /api/v1/*, docs) is public.
func RequiresAuth(path string) bool {
	return path == "/mcp" || strings.HasPrefix(path, "/mcp/")
}

// ExtractBearer pulls the raw token out of an Authorization: Bearer header.
func ExtractBearer(authorization string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authorization, prefix) {
		return strings.TrimPrefix(authorization, prefix)
	}
	return ""
}
