package middleware

import (
	"context"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/audit"
	"github.com/r3e-network/mcp-gateway/internal/auth"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/ratelimit"
	"github.com/r3e-network/mcp-gateway/internal/security"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
	"github.com/r3e-network/mcp-gateway/internal/tracing"
)

// Invocation is one tool/resource call arriving at the MCP surface, carrying
// everything the middleware chain needs: credentials, the call itself, and
// whatever ownership fact RBAC's server_owner special case depends on.
type Invocation struct {
	RequestID string
	Method    string
	Tool      string
	ResourceURI string
	Params    map[string]interface{}
	Headers   auth.Headers
	ClientIP  string
	IsOwner   bool
}

// Handler is the terminal step of the chain: the actual tool/resource call.
type Handler func(ctx context.Context, inv Invocation, userCtx tenant.Context) (map[string]interface{}, error)

// Chain wires the fixed pipeline described in the auth/middleware sections:
// tracing, metrics, authentication, rate limiting, authorization, audit.
type Chain struct {
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	policy        auth.Policy
	auditStore    dao.RelationalStore
	tracer        tracing.Tracer
	m             *metrics.Metrics
	log           *logging.Logger
}

func NewChain(authenticator *auth.Authenticator, limiter *ratelimit.Limiter, policy auth.Policy, auditStore dao.RelationalStore, tracer tracing.Tracer, m *metrics.Metrics, log *logging.Logger) *Chain {
	return &Chain{authenticator: authenticator, limiter: limiter, policy: policy, auditStore: auditStore, tracer: tracer, m: m, log: log}
}

// Run executes inv through the full pipeline and invokes next only if every
// stage passes.
func (c *Chain) Run(ctx context.Context, inv Invocation, next Handler) (result map[string]interface{}, err error) {
	ctx, endSpan := c.tracer.StartSpan(ctx, "invocation", map[string]string{"method": inv.Method})
	defer func() { endSpan(err) }()

	start := time.Now()

	var userCtx tenant.Context
	authCtx, endAuthSpan := c.tracer.StartSpan(ctx, "auth", nil)
	userCtx, err = c.authenticator.Authenticate(authCtx, inv.Headers)
	endAuthSpan(err)
	c.recordAuthEvent(userCtx, err)
	if err != nil {
		c.audit(ctx, inv, userCtx, start, false, err)
		return nil, err
	}

	rlCtx, endRLSpan := c.tracer.StartSpan(ctx, "rate_limit", nil)
	decision, rlErr := c.limiter.Check(rlCtx, ratelimit.Request{
		UserID:   userCtx.UserID,
		TenantID: userCtx.TenantID,
		ClientIP: inv.ClientIP,
		Role:     userCtx.Role,
	})
	if rlErr == nil && !decision.Allowed {
		rlErr = apperrors.RateLimitExceeded(0, decision.LimitType)
	}
	endRLSpan(rlErr)
	if rlErr != nil {
		err = rlErr
		c.audit(ctx, inv, userCtx, start, false, err)
		return nil, err
	}

	if inv.Tool != "" {
		if authzErr := c.policy.Authorize(inv.Tool, userCtx, inv.IsOwner); authzErr != nil {
			err = authzErr
			c.audit(ctx, inv, userCtx, start, false, err)
			return nil, err
		}
	}
	if inv.ResourceURI != "" {
		if authzErr := auth.AuthorizeResource(inv.ResourceURI, userCtx); authzErr != nil {
			err = authzErr
			c.audit(ctx, inv, userCtx, start, false, err)
			return nil, err
		}
	}

	result, err = next(ctx, inv, userCtx)
	c.audit(ctx, inv, userCtx, start, err == nil, err)
	return result, err
}

func (c *Chain) recordAuthEvent(userCtx tenant.Context, err error) {
	if c.m == nil {
		return
	}
	if err == nil {
		return
	}
	reason := "anonymous"
	if se := apperrors.GetServiceError(err); se != nil {
		reason = string(se.Code)
	}
	c.m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

func (c *Chain) audit(ctx context.Context, inv Invocation, userCtx tenant.Context, start time.Time, success bool, err error) {
	record := audit.Record{
		RequestID:  inv.RequestID,
		Method:     inv.Method,
		StartedAt:  start,
		FinishedAt: time.Now(),
		DurationMS: time.Since(start).Milliseconds(),
		Outcome:    audit.OutcomeSuccess,
		Params:     security.SanitizeParams(inv.Params),
	}
	if userCtx.UserID != "" {
		record.UserID = &userCtx.UserID
	}
	if userCtx.TenantID != "" {
		record.TenantID = &userCtx.TenantID
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
	if auditErr := c.auditStore.AppendAudit(ctx, record); auditErr != nil && c.log != nil {
		c.log.WithContext(ctx).WithError(auditErr).Warn("failed to append audit record")
	}
}
