package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/registry"
)

// serverRow mirrors the servers table; tags/capabilities are stored as JSONB.
type serverRow struct {
	ID              string         `db:"id"`
	TenantID        sql.NullString `db:"tenant_id"`
	Name            string         `db:"name"`
	DisplayName     string         `db:"display_name"`
	Version         string         `db:"version"`
	EndpointURL     string         `db:"endpoint_url"`
	TransportType   string         `db:"transport_type"`
	CapabilitiesRaw []byte         `db:"capabilities"`
	TagsRaw         []byte         `db:"tags"`
	HealthStatus    string         `db:"health_status"`
	LastHealthCheck sql.NullTime   `db:"last_health_check"`
	RegisteredBy    sql.NullString `db:"registered_by"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *serverRow) toServer() (*registry.Server, error) {
	var caps registry.Capabilities
	if len(r.CapabilitiesRaw) > 0 {
		if err := json.Unmarshal(r.CapabilitiesRaw, &caps); err != nil {
			return nil, err
		}
	}
	tags := registry.NewTagSet()
	if len(r.TagsRaw) > 0 {
		var list []string
		if err := json.Unmarshal(r.TagsRaw, &list); err != nil {
			return nil, err
		}
		tags = registry.NewTagSet(list...)
	}
	var lastCheck *time.Time
	if r.LastHealthCheck.Valid {
		lastCheck = &r.LastHealthCheck.Time
	}
	var tenantID, registeredBy *string
	if r.TenantID.Valid {
		tenantID = &r.TenantID.String
	}
	if r.RegisteredBy.Valid {
		registeredBy = &r.RegisteredBy.String
	}
	return &registry.Server{
		ID:              r.ID,
		TenantID:        tenantID,
		Name:            r.Name,
		DisplayName:     r.DisplayName,
		Version:         r.Version,
		EndpointURL:     r.EndpointURL,
		Transport:       registry.Transport(r.TransportType),
		Capabilities:    caps,
		Tags:            tags,
		HealthStatus:    registry.HealthStatus(r.HealthStatus),
		LastHealthCheck: lastCheck,
		RegisteredBy:    registeredBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func (s *Store) RegisterServer(ctx context.Context, in registry.RegisterInput) (*registry.Server, error) {
	var count int
	checkQuery := `SELECT COUNT(*) FROM servers WHERE name = $1 AND tenant_id IS NOT DISTINCT FROM $2`
	if err := s.db.GetContext(ctx, &count, checkQuery, in.Name, in.TenantID); err != nil {
		return nil, apperrors.DatabaseError("register_server.check_existing", err)
	}
	if count > 0 {
		return nil, apperrors.AlreadyExists("server", in.Name)
	}

	caps, err := json.Marshal(in.Capabilities)
	if err != nil {
		return nil, apperrors.Internal("marshal capabilities", err)
	}
	tags, err := json.Marshal(registry.NewTagSet(in.Tags...).Slice())
	if err != nil {
		return nil, apperrors.Internal("marshal tags", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	insert := `
		INSERT INTO servers (id, tenant_id, name, display_name, version, endpoint_url, transport_type,
		                      capabilities, tags, health_status, registered_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err = s.db.ExecContext(ctx, insert, id, in.TenantID, in.Name, in.DisplayName, in.Version,
		in.EndpointURL, string(in.Transport), caps, tags, string(registry.HealthUnknown), in.RegisteredBy, now)
	if err != nil {
		return nil, apperrors.DatabaseError("register_server.insert", err)
	}

	return s.GetServer(ctx, id)
}

func (s *Store) UpdateServer(ctx context.Context, id string, mutate func(*registry.Server)) (*registry.Server, error) {
	srv, err := s.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(srv)

	caps, err := json.Marshal(srv.Capabilities)
	if err != nil {
		return nil, apperrors.Internal("marshal capabilities", err)
	}
	tags, err := json.Marshal(srv.Tags.Slice())
	if err != nil {
		return nil, apperrors.Internal("marshal tags", err)
	}

	update := `
		UPDATE servers SET display_name=$2, version=$3, tags=$4, capabilities=$5, updated_at=$6
		WHERE id=$1`
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, update, id, srv.DisplayName, srv.Version, tags, caps, now)
	if err != nil {
		return nil, apperrors.DatabaseError("update_server", err)
	}
	return s.GetServer(ctx, id)
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	return WithTx(ctx, s.db, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE server_id=$1`, id); err != nil {
			return apperrors.DatabaseError("delete_server.tools", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE server_id=$1`, id); err != nil {
			return apperrors.DatabaseError("delete_server.resources", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM servers WHERE id=$1`, id)
		if err != nil {
			return apperrors.DatabaseError("delete_server", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperrors.NotFound("server", id)
		}
		return nil
	})
}

func (s *Store) GetServer(ctx context.Context, id string) (*registry.Server, error) {
	var row serverRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM servers WHERE id=$1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("server", id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("get_server", err)
	}
	return row.toServer()
}

func (s *Store) FindServers(ctx context.Context, filter registry.Filter) ([]*registry.Server, error) {
	var (
		conditions []string
		args       []interface{}
		argIdx     = 1
	)
	if filter.TenantID != nil {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, *filter.TenantID)
		argIdx++
	}
	if filter.HealthStatus != "" {
		conditions = append(conditions, fmt.Sprintf("health_status = $%d", argIdx))
		args = append(args, string(filter.HealthStatus))
		argIdx++
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags @> $%d", argIdx))
		tagsJSON, _ := json.Marshal(filter.Tags)
		args = append(args, string(tagsJSON))
		argIdx++
	}

	query := "SELECT * FROM servers"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	var rows []serverRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.DatabaseError("find_servers", err)
	}

	out := make([]*registry.Server, 0, len(rows))
	for i := range rows {
		srv, err := rows[i].toServer()
		if err != nil {
			return nil, apperrors.Internal("decode server row", err)
		}
		if len(filter.Tools) > 0 && !hasAllStrings(srv.Capabilities.Tools, filter.Tools) {
			continue
		}
		if len(filter.Resources) > 0 && !hasAnyPrefix(srv.Capabilities.Resources, filter.Resources) {
			continue
		}
		out = append(out, srv)
	}
	return out, nil
}

func hasAllStrings(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func hasAnyPrefix(have, patterns []string) bool {
	for _, h := range have {
		for _, p := range patterns {
			if strings.HasPrefix(h, p) {
				return true
			}
		}
	}
	return false
}

func (s *Store) MarkServerHealth(ctx context.Context, id string, status registry.HealthStatus, ts time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET health_status=$2, last_health_check=$3 WHERE id=$1`,
		id, string(status), ts)
	if err != nil {
		return apperrors.DatabaseError("mark_server_health", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound("server", id)
	}
	return nil
}

func (s *Store) ListServerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM servers`); err != nil {
		return nil, apperrors.DatabaseError("list_server_ids", err)
	}
	return ids, nil
}

func (s *Store) ReplaceTools(ctx context.Context, serverID string, tools []registry.Tool) error {
	return WithTx(ctx, s.db, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE server_id=$1`, serverID); err != nil {
			return apperrors.DatabaseError("replace_tools.delete", err)
		}
		for _, t := range tools {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tools (server_id, name, description, schema, usage_count) VALUES ($1,$2,$3,$4,0)`,
				serverID, t.Name, t.Description, []byte(t.Schema))
			if err != nil {
				return apperrors.DatabaseError("replace_tools.insert", err)
			}
		}
		return nil
	})
}

func (s *Store) ReplaceResources(ctx context.Context, serverID string, resources []registry.Resource) error {
	return WithTx(ctx, s.db, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE server_id=$1`, serverID); err != nil {
			return apperrors.DatabaseError("replace_resources.delete", err)
		}
		for _, r := range resources {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO resources (server_id, uri_template, mime_type, description) VALUES ($1,$2,$3,$4)`,
				serverID, r.URITemplate, r.MIMEType, r.Description)
			if err != nil {
				return apperrors.DatabaseError("replace_resources.insert", err)
			}
		}
		return nil
	})
}

func (s *Store) ToolsByServer(ctx context.Context, serverID string) ([]registry.Tool, error) {
	var tools []registry.Tool
	if err := s.db.SelectContext(ctx, &tools, `SELECT server_id, name, description, schema, usage_count FROM tools WHERE server_id=$1`, serverID); err != nil {
		return nil, apperrors.DatabaseError("tools_by_server", err)
	}
	return tools, nil
}

func (s *Store) ResourcesByServer(ctx context.Context, serverID string) ([]registry.Resource, error) {
	var res []registry.Resource
	if err := s.db.SelectContext(ctx, &res, `SELECT server_id, uri_template, mime_type, description FROM resources WHERE server_id=$1`, serverID); err != nil {
		return nil, apperrors.DatabaseError("resources_by_server", err)
	}
	return res, nil
}
