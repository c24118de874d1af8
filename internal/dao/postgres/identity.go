package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apikey"
	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT id, name, status, created_at FROM tenants WHERE id=$1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("tenant", id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("get_tenant", err)
	}
	return &t, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*tenant.User, error) {
	var u tenant.User
	err := s.db.GetContext(ctx, &u, `SELECT id, email, display_name, role, tenant_id, created_at FROM users WHERE id=$1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("get_user", err)
	}
	return &u, nil
}

type apiKeyRow struct {
	ID         string         `db:"id"`
	Prefix     string         `db:"prefix"`
	Hash       string         `db:"hash"`
	UserID     string         `db:"user_id"`
	TenantID   sql.NullString `db:"tenant_id"`
	RateLimit  sql.NullInt64  `db:"rate_limit"`
	ExpiresAt  sql.NullTime   `db:"expires_at"`
	Active     bool           `db:"active"`
	LastUsedAt sql.NullTime   `db:"last_used_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (s *Store) APIKeyByHash(ctx context.Context, hash string) (*apikey.APIKey, *tenant.User, error) {
	var row apiKeyRow
	err := s.db.GetContext(ctx, &row, `SELECT id, prefix, hash, user_id, tenant_id, rate_limit, expires_at, active, last_used_at, created_at FROM api_keys WHERE hash=$1`, hash)
	if isNoRows(err) {
		return nil, nil, apperrors.InvalidAPIKey()
	}
	if err != nil {
		return nil, nil, apperrors.DatabaseError("apikey_lookup", err)
	}
	user, err := s.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, nil, err
	}

	key := &apikey.APIKey{
		ID:       row.ID,
		Prefix:   row.Prefix,
		Hash:     row.Hash,
		UserID:   row.UserID,
		Active:   row.Active,
		CreatedAt: row.CreatedAt,
	}
	if row.TenantID.Valid {
		key.TenantID = &row.TenantID.String
	}
	if row.RateLimit.Valid {
		v := int(row.RateLimit.Int64)
		key.RateLimit = &v
	}
	if row.ExpiresAt.Valid {
		key.ExpiresAt = &row.ExpiresAt.Time
	}
	if row.LastUsedAt.Valid {
		key.LastUsedAt = &row.LastUsedAt.Time
	}
	return key, user, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=$2 WHERE id=$1`, id, ts)
	if err != nil {
		return apperrors.DatabaseError("touch_apikey", err)
	}
	return nil
}
