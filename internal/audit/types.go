// Package audit defines the immutable request-log record appended after
// every handled request.
package audit

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Record is written once and never mutated. Parameters must already be
// sanitized (internal/security.SanitizeParams) before being attached here —
// the DAO does not sanitize on the writer's behalf.
type Record struct {
	RequestID    string                 `json:"request_id" db:"request_id"`
	TenantID     *string                `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID       *string                `json:"user_id,omitempty" db:"user_id"`
	Method       string                 `json:"method" db:"method"`
	ServerID     *string                `json:"server_id,omitempty" db:"server_id"`
	StartedAt    time.Time              `json:"started_at" db:"started_at"`
	FinishedAt   time.Time              `json:"finished_at" db:"finished_at"`
	DurationMS   int64                  `json:"duration_ms" db:"duration_ms"`
	Outcome      Outcome                `json:"outcome" db:"outcome"`
	ErrorCode    string                 `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage string                 `json:"error_message,omitempty" db:"error_message"`
	Params       map[string]interface{} `json:"params,omitempty" db:"-"`
}
