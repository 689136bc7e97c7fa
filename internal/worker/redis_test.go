package worker

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"

	"omnichat/internal/config"
	"omnichat/internal/redis"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestInvalidationAcrossManagers(t *testing.T) {
	client := newTestRedis(t)
	backend := newTestBackend()
	cfg := DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4}
	a := NewManager(backend.factory, cfg, WithRedis(client))
	defer a.Close()
	b := NewManager(backend.factory, cfg, WithRedis(client))
	defer b.Close()

	ctx := context.Background()
	u := user("77")
	stale, err := b.Controller(ctx, u)
	if err != nil {
		t.Fatalf("controller b: %v", err)
	}
	if _, err := a.Send(ctx, u, "hello", nil); err != nil {
		t.Fatalf("send on a: %v", err)
	}

	waitFor(t, func() bool {
		ctrl, err := b.Controller(ctx, u)
		if err != nil || ctrl == stale {
			return false
		}
		view := ctrl.Snapshot()
		return view.ActiveSession != nil && len(view.ActiveSession.Messages) == 2
	}, "peer did not reload committed messages")
}
