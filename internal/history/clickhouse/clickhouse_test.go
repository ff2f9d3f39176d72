package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/vpsman/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing and
// returns its native-protocol address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	c, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(Options{Addr: addr, Table: "vpsman_history"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	for _, e := range []history.Event{
		history.NewEvent(history.EventApplicationStarted, "api", map[string]string{"port": "3000"}, nil),
		history.NewEvent(history.EventApplicationStopped, "api", nil, errors.New("exit status 1")),
	} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s: %v", e.Type, err)
		}
	}

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM vpsman_history WHERE subject = ?", "api").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "invalid-host.invalid:9000"})
	if err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
