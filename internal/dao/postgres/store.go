package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/mcp-gateway/internal/dao"
)

// Store implements dao.RelationalStore against a Postgres database.
type Store struct {
	db      *sqlx.DB
	servers baseStore
	tools   baseStore
	res     baseStore
	tenants baseStore
	users   baseStore
	apikeys baseStore
	audit   baseStore
}

// New wraps an already-connected *sqlx.DB as a dao.RelationalStore.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		servers: newBaseStore(db, "servers"),
		tools:   newBaseStore(db, "tools"),
		res:     newBaseStore(db, "resources"),
		tenants: newBaseStore(db, "tenants"),
		users:   newBaseStore(db, "users"),
		apikeys: newBaseStore(db, "api_keys"),
		audit:   newBaseStore(db, "audit_log"),
	}
}

var _ dao.RelationalStore = (*Store)(nil)

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
