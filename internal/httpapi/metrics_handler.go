package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
)

// handleRouterMetrics exposes the load-balancer's per-server scoring inputs,
// the same stats the WEIGHTED policy reads to pick a candidate.
func (s *Server) handleRouterMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": s.tracker.Snapshot()})
}

// handleActiveRequests lists every in-flight proxied request.
func (s *Server) handleActiveRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": s.prx.ActiveRequests()})
}

// handleCancelRequest best-effort cancels an in-flight proxied request.
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.prx.Cancel(id) {
		writeAPIError(w, apperrors.NotFound("request", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
