package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/registry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestHealthCheckPingsTheUnderlyingConnection(t *testing.T) {
	store, mock := newMockStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterServerInsertsAndReturnsTheNewRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO servers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "display_name", "version", "endpoint_url",
		"transport_type", "capabilities", "tags", "health_status",
		"last_health_check", "registered_by", "created_at", "updated_at",
	}).AddRow(
		"srv-1", nil, "files", "Files", "1.0.0", "http://files:3001",
		"http", []byte(`{}`), []byte(`[]`), "UNKNOWN",
		nil, nil, now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM servers").WillReturnRows(rows)

	srv, err := store.RegisterServer(context.Background(), registry.RegisterInput{
		Name:        "files",
		DisplayName: "Files",
		Version:     "1.0.0",
		EndpointURL: "http://files:3001",
		Transport:   registry.TransportHTTP,
	})
	if err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}
	if srv.ID != "srv-1" || srv.Name != "files" {
		t.Fatalf("RegisterServer() = %+v, want id=srv-1 name=files", srv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterServerRejectsDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := store.RegisterServer(context.Background(), registry.RegisterInput{Name: "files"})
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeAlreadyExists {
		t.Fatalf("RegisterServer() error = %v, want CodeAlreadyExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetServerNotFoundOnNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM servers").WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.GetServer(context.Background(), "missing")
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeNotFound {
		t.Fatalf("GetServer() error = %v, want CodeNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkServerHealthNotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE servers SET health_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkServerHealth(context.Background(), "missing", registry.HealthHealthy, time.Now())
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeNotFound {
		t.Fatalf("MarkServerHealth() error = %v, want CodeNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
