package presence

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Avicted/eventchat/internal/user"
)

func setupRedisTracker(t *testing.T) (*RedisTracker, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("redis integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis port: %v", err)
	}

	tracker, err := NewRedisTracker(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("init tracker: %v", err)
	}
	return tracker, func() {
		_ = tracker.Close()
		_ = container.Terminate(context.Background())
	}
}

func TestRedisTrackerCountsProcesses(t *testing.T) {
	tracker, cleanup := setupRedisTracker(t)
	defer cleanup()
	ctx := context.Background()

	// Two processes hold user 5.
	if err := tracker.Online(ctx, 5); err != nil {
		t.Fatalf("Online: %v", err)
	}
	if err := tracker.Online(ctx, 5); err != nil {
		t.Fatalf("Online: %v", err)
	}
	if err := tracker.Offline(ctx, 5); err != nil {
		t.Fatalf("Offline: %v", err)
	}

	got, err := tracker.Lookup(ctx, []user.ID{5, 6})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !got[5] || got[6] {
		t.Fatalf("unexpected lookup: %v", got)
	}

	if err := tracker.Offline(ctx, 5); err != nil {
		t.Fatalf("Offline: %v", err)
	}
	exists, err := tracker.client.HExists(ctx, DefaultOnlineKey, "5").Result()
	if err != nil {
		t.Fatalf("HExists: %v", err)
	}
	if exists {
		t.Fatal("field should be removed when the count reaches zero")
	}
}

func TestNewRedisTrackerRejectsBadURL(t *testing.T) {
	if _, err := NewRedisTracker(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
