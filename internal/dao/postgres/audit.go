package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/audit"
)

// AppendAudit writes a request-log row. Per the DAO contract this is
// best-effort: callers must not propagate a failure here to the client
// path, only log it.
func (s *Store) AppendAudit(ctx context.Context, record audit.Record) error {
	if record.RequestID == "" {
		record.RequestID = uuid.New().String()
	}
	params, err := json.Marshal(record.Params)
	if err != nil {
		return apperrors.Internal("marshal audit params", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (request_id, tenant_id, user_id, method, server_id, started_at,
		                        finished_at, duration_ms, outcome, error_code, error_message, params)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		record.RequestID, record.TenantID, record.UserID, record.Method, record.ServerID,
		record.StartedAt, record.FinishedAt, record.DurationMS, string(record.Outcome),
		record.ErrorCode, record.ErrorMessage, params)
	if err != nil {
		return apperrors.DatabaseError("append_audit", err)
	}
	return nil
}
