package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/auth"
	imw "github.com/r3e-network/mcp-gateway/internal/middleware"
	"github.com/r3e-network/mcp-gateway/internal/proxy"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

func durationMS(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func registryHealthyFilter() registry.Filter {
	return registry.Filter{HealthStatus: registry.HealthHealthy}
}

// rpcEnvelope is the inbound JSON-RPC request body, plus the gateway's
// advanced-proxy extensions layered on top: required_tools/resources and an
// explicit per-call timeout. A preferred_servers field in the body is not
// read.
type rpcEnvelope struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`

	RequiredTools     []string `json:"required_tools"`
	RequiredResources []string `json:"required_resources"`
	TimeoutMS         int64    `json:"timeout"`
}

func requestIDFrom(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}

func headersFrom(r *http.Request) auth.Headers {
	return auth.Headers{XAPIKey: r.Header.Get("X-API-Key"), Authorization: r.Header.Get("Authorization")}
}

// markRefreshRecommended surfaces the OAuth path's NeedsRefresh signal to
// the caller so it can renew its bearer token before it expires, instead of
// waiting to be rejected once it has.
func markRefreshRecommended(w http.ResponseWriter, userCtx tenant.Context) {
	if userCtx.RefreshRecommended {
		w.Header().Set("X-Token-Refresh-Recommended", "true")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// rpcResultEnvelope wraps a proxy response as the {jsonrpc,id,result} success
// shape, or lets a ServiceError be rendered as the {jsonrpc,id,error} shape
// by the caller.
func rpcResultEnvelope(id interface{}, payload map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": payload}
}

func writeRPCError(w http.ResponseWriter, id interface{}, err error) {
	code := -32603
	se := apperrors.GetServiceError(err)
	message := "Internal error"
	data := map[string]interface{}{}
	if se != nil {
		message = se.Message
		data["code"] = se.Code
		if se.Code == apperrors.CodeRateLimitExceeded {
			if ra, ok := se.Details["retry_after"]; ok {
				data["retry_after"] = ra
			}
		}
		for k, v := range se.Details {
			data[k] = v
		}
	}
	if se != nil && se.Code == apperrors.CodeNotFound {
		code = -32601
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": code, "message": message, "data": data},
	})
}

// handleAdvancedProxy accepts the gateway's extended envelope (required
// tools/resources, explicit timeout) and forwards via the router.
func (s *Server) handleAdvancedProxy(w http.ResponseWriter, r *http.Request) {
	s.proxyJSONRPC(w, r, true)
}

// handleSimpleProxy accepts a bare JSON-RPC envelope with no routing hints.
func (s *Server) handleSimpleProxy(w http.ResponseWriter, r *http.Request) {
	s.proxyJSONRPC(w, r, false)
}

func (s *Server) proxyJSONRPC(w http.ResponseWriter, r *http.Request, advanced bool) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeRPCError(w, nil, apperrors.InvalidFormat("body", "JSON-RPC envelope"))
		return
	}
	if env.Method == "" {
		writeRPCError(w, env.ID, apperrors.MissingParameter("method"))
		return
	}

	inv := imw.Invocation{
		RequestID: requestIDFrom(w),
		Method:    env.Method,
		Params:    env.Params,
		Headers:   headersFrom(r),
		ClientIP:  clientIP(r),
	}

	result, err := s.chain.Run(r.Context(), inv, func(ctx context.Context, inv imw.Invocation, userCtx tenant.Context) (map[string]interface{}, error) {
		markRefreshRecommended(w, userCtx)
		req := proxy.Request{
			RequestID: inv.RequestID,
			Method:    inv.Method,
			Params:    inv.Params,
			TenantID:  tenantPtr(userCtx),
			UserID:    userCtx.UserID,
			ClientIP:  inv.ClientIP,
		}
		if advanced {
			req.RequiredTools = env.RequiredTools
			req.RequiredResources = env.RequiredResources
			if env.TimeoutMS > 0 {
				req.Timeout = durationMS(env.TimeoutMS)
			}
		}
		resp := s.prx.Forward(ctx, req)
		if !resp.Success {
			return nil, resp.Error
		}
		return augmentResponse(resp), nil
	})
	if err != nil {
		writeRPCError(w, env.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, rpcResultEnvelope(env.ID, result))
}

// handleListTools returns the flattened tool catalog, gated the same way as
// any other MCP-plane call (anonymous callers see only what RBAC allows,
// which for tool listing is everyone).
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	inv := imw.Invocation{
		RequestID: requestIDFrom(w),
		Method:    "tools/list",
		Headers:   headersFrom(r),
		ClientIP:  clientIP(r),
	}

	result, err := s.chain.Run(r.Context(), inv, func(ctx context.Context, inv imw.Invocation, userCtx tenant.Context) (map[string]interface{}, error) {
		markRefreshRecommended(w, userCtx)
		servers, err := s.reg.Find(ctx, registryHealthyFilter())
		if err != nil {
			return nil, err
		}
		var tools []toolEntry
		for _, srv := range servers {
			ts, err := s.reg.Tools(ctx, srv.ID)
			if err != nil {
				continue
			}
			for _, t := range ts {
				tools = append(tools, toolEntry{Tool: t, ServerName: srv.Name})
			}
		}
		return map[string]interface{}{"tools": tools}, nil
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInvokeTool calls one named tool, routed to whichever server
// advertises it.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var args map[string]interface{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeAPIError(w, apperrors.InvalidFormat("body", "JSON object"))
			return
		}
	}

	inv := imw.Invocation{
		RequestID: requestIDFrom(w),
		Method:    "tools/call",
		Tool:      name,
		Params:    map[string]interface{}{"name": name, "arguments": args},
		Headers:   headersFrom(r),
		ClientIP:  clientIP(r),
	}

	result, err := s.chain.Run(r.Context(), inv, func(ctx context.Context, inv imw.Invocation, userCtx tenant.Context) (map[string]interface{}, error) {
		markRefreshRecommended(w, userCtx)
		req := proxy.Request{
			RequestID:     inv.RequestID,
			Method:        inv.Method,
			Params:        inv.Params,
			TenantID:      tenantPtr(userCtx),
			UserID:        userCtx.UserID,
			ClientIP:      inv.ClientIP,
			RequiredTools: []string{name},
		}
		resp := s.prx.Forward(ctx, req)
		if !resp.Success {
			return nil, resp.Error
		}
		return augmentResponse(resp), nil
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func tenantPtr(userCtx tenant.Context) *string {
	if userCtx.TenantID == "" {
		return nil
	}
	id := userCtx.TenantID
	return &id
}

func augmentResponse(resp proxy.Response) map[string]interface{} {
	out := resp.Envelope
	if out == nil {
		out = map[string]interface{}{}
	}
	out["server_id"] = resp.ServerID
	out["response_time_ms"] = resp.Duration.Milliseconds()
	out["success"] = resp.Success
	return out
}
