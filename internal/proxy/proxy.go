// Package proxy forwards JSON-RPC requests to the server selected by the
// router, over HTTP or WebSocket, tracking in-flight requests and recording
// outcomes back into the router and audit log.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/audit"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/router"
	"github.com/r3e-network/mcp-gateway/internal/security"
	"github.com/r3e-network/mcp-gateway/pkg/version"
)

const defaultTimeout = 30 * time.Second

// Request is a single proxied JSON-RPC call.
type Request struct {
	RequestID         string
	Method            string
	Params            map[string]interface{}
	TenantID          *string
	UserID            string
	ClientIP          string
	UserAgent         string
	RequiredTools     []string
	RequiredResources []string
	Timeout           time.Duration
}

// Response is what the proxy hands back to the HTTP surface.
type Response struct {
	Envelope map[string]interface{}
	ServerID string
	Duration time.Duration
	Success  bool
	Error    error
}

type activeEntry struct {
	startTime time.Time
	method    string
	tenantID  *string
	userID    string
	cancel    context.CancelFunc
}

// Proxy forwards requests to the server chosen by the router.
type Proxy struct {
	router *router.Router
	audit  dao.RelationalStore
	log    *logging.Logger
	m      *metrics.Metrics

	clientsMu sync.Mutex
	clients   map[string]*http.Client

	activeMu sync.Mutex
	active   map[string]*activeEntry
}

func New(r *router.Router, auditStore dao.RelationalStore, log *logging.Logger, m *metrics.Metrics) *Proxy {
	return &Proxy{
		router:  r,
		audit:   auditStore,
		log:     log,
		m:       m,
		clients: make(map[string]*http.Client),
		active:  make(map[string]*activeEntry),
	}
}

func (p *Proxy) clientFor(serverID string) *http.Client {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if c, ok := p.clients[serverID]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     10 * time.Second,
		},
	}
	p.clients[serverID] = c
	return c
}

// ActiveRequest is the read-only view of one in-flight request, exposed for
// the gateway's active-requests endpoint.
type ActiveRequest struct {
	RequestID string
	Method    string
	TenantID  *string
	UserID    string
	StartedAt time.Time
	ElapsedMS int64
}

// ActiveRequests lists every request currently in flight.
func (p *Proxy) ActiveRequests() []ActiveRequest {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	out := make([]ActiveRequest, 0, len(p.active))
	now := time.Now()
	for id, entry := range p.active {
		out = append(out, ActiveRequest{
			RequestID: id,
			Method:    entry.method,
			TenantID:  entry.tenantID,
			UserID:    entry.userID,
			StartedAt: entry.startTime,
			ElapsedMS: now.Sub(entry.startTime).Milliseconds(),
		})
	}
	return out
}

// Cancel removes request_id from the active-request table. In-flight
// transport I/O is best-effort cancelled via the stored context cancel func.
func (p *Proxy) Cancel(requestID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	entry, ok := p.active[requestID]
	if !ok {
		return false
	}
	entry.cancel()
	delete(p.active, requestID)
	return true
}

func (p *Proxy) Forward(ctx context.Context, req Request) Response {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	p.activeMu.Lock()
	p.active[req.RequestID] = &activeEntry{startTime: time.Now(), method: req.Method, tenantID: req.TenantID, userID: req.UserID, cancel: cancel}
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		delete(p.active, req.RequestID)
		p.activeMu.Unlock()
	}()

	start := time.Now()

	srv, err := p.router.Route(ctx, router.Request{
		Method:            req.Method,
		RequiredTools:     req.RequiredTools,
		RequiredResources: req.RequiredResources,
		TenantID:          req.TenantID,
		UserID:            req.UserID,
	}, nil)
	if err != nil {
		p.appendAudit(ctx, req, "", start, time.Now(), false, err)
		return Response{Success: false, Error: err, Duration: time.Since(start)}
	}

	p.router.IncrementConnections(srv.ID)
	defer p.router.DecrementConnections(srv.ID)

	var envelope map[string]interface{}
	var fwdErr error
	switch srv.Transport {
	case registry.TransportHTTP:
		envelope, fwdErr = p.forwardHTTP(ctx, p.clientFor(srv.ID), srv.EndpointURL, req)
	case registry.TransportWebSocket:
		envelope, fwdErr = p.forwardWebSocket(ctx, srv.EndpointURL, req)
	default:
		fwdErr = apperrors.New("PROXY_UNSUPPORTED_TRANSPORT", "unsupported transport", http.StatusInternalServerError)
	}

	duration := time.Since(start)
	success := fwdErr == nil
	if !success {
		envelope = rpcErrorEnvelope(req, fwdErr)
	}

	p.router.RecordResult(srv.ID, duration, success)
	if p.m != nil {
		status := "ok"
		if !success {
			status = "error"
		}
		p.m.ProxyRequestsTotal.WithLabelValues(srv.ID, string(srv.Transport), status).Inc()
		p.m.ProxyRequestDuration.WithLabelValues(srv.ID, string(srv.Transport)).Observe(duration.Seconds())
	}

	p.appendAudit(ctx, req, srv.ID, start, time.Now(), success, fwdErr)

	return Response{Envelope: envelope, ServerID: srv.ID, Duration: duration, Success: success, Error: fwdErr}
}

func (p *Proxy) forwardHTTP(ctx context.Context, client *http.Client, endpoint string, req Request) (map[string]interface{}, error) {
	envelope := map[string]interface{}{"jsonrpc": "2.0", "id": req.RequestID, "method": req.Method, "params": req.Params}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, apperrors.Internal("marshal jsonrpc envelope", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(endpoint, "/")+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal("build proxy request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout("proxy_forward")
		}
		return nil, apperrors.UpstreamError("", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Internal("read proxy response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.UpstreamError("", fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, apperrors.Internal("decode proxy response", err)
	}
	return out, nil
}

func (p *Proxy) forwardWebSocket(ctx context.Context, endpoint string, req Request) (map[string]interface{}, error) {
	wsURL := toWebSocketURL(endpoint)
	deadline, ok := ctx.Deadline()
	timeout := defaultTimeout
	if ok {
		timeout = time.Until(deadline)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, apperrors.UpstreamError("", err)
	}
	defer conn.Close()

	envelope := map[string]interface{}{"jsonrpc": "2.0", "id": req.RequestID, "method": req.Method, "params": req.Params}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, apperrors.Internal("marshal jsonrpc envelope", err)
	}

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return nil, apperrors.UpstreamError("", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, apperrors.Timeout("proxy_forward")
		}
		return nil, apperrors.UpstreamError("", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(msg, &out); err != nil {
		return nil, apperrors.Internal("decode proxy response", err)
	}
	return out, nil
}

func toWebSocketURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/mcp") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/mcp"
	}
	return u.String()
}

func rpcErrorEnvelope(req Request, err error) map[string]interface{} {
	message := "Internal error"
	errText := err.Error()
	if se := apperrors.GetServiceError(err); se != nil {
		switch se.Code {
		case apperrors.CodeTimeout:
			message = "Request timeout"
			errText = message
		case "PROXY_UNSUPPORTED_TRANSPORT":
			errText = "Unsupported transport"
		}
	}
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.RequestID,
		"error": map[string]interface{}{
			"code":    -32603,
			"message": message,
			"data":    map[string]interface{}{"error": errText},
		},
	}
}

func (p *Proxy) appendAudit(ctx context.Context, req Request, serverID string, start, finish time.Time, success bool, err error) {
	record := audit.Record{
		RequestID:  req.RequestID,
		Method:     req.Method,
		TenantID:   req.TenantID,
		StartedAt:  start,
		FinishedAt: finish,
		DurationMS: finish.Sub(start).Milliseconds(),
		Outcome:    audit.OutcomeSuccess,
		Params:     security.SanitizeParams(req.Params),
	}
	if req.UserID != "" {
		record.UserID = &req.UserID
	}
	if serverID != "" {
		record.ServerID = &serverID
	}
	if !success {
		record.Outcome = audit.OutcomeError
		if se := apperrors.GetServiceError(err); se != nil {
			record.ErrorCode = string(se.Code)
			record.ErrorMessage = se.Message
		} else if err != nil {
			record.ErrorMessage = security.SanitizeError(err)
		}
	}

	if auditErr := p.audit.AppendAudit(ctx, record); auditErr != nil && p.log != nil {
		p.log.WithContext(ctx).WithError(auditErr).Warn("failed to append audit record")
	}
}
