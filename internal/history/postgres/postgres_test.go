package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/vpsman/internal/history"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return ""
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
		cancel()
	})
	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestPostgresSink_Integration(t *testing.T) {
	dsn := startPostgres(t)
	sink, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := history.NewEvent(history.EventDomainActivated, "a.example.com", map[string]string{"targetPort": "3000"}, nil)
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("send: %v", err)
	}
	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vpsman_history WHERE subject=$1 AND detail->>'targetPort'='3000'`, "a.example.com").Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestNewEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error")
	}
}
