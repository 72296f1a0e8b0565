package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	pgstore "github.com/HelloWorldSungin/tinyclaw-trading/internal/store"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("tinyclaw_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// scriptedInvoker satisfies orchestrator.Invoker with canned replies.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []scriptedCall
}

type scriptedCall struct {
	Agent   string
	Message string
	Reset   bool
}

func (f *scriptedInvoker) Invoke(_ context.Context, agent config.Agent, message, _ string, reset bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scriptedCall{Agent: agent.ID, Message: message, Reset: reset})
	if out, ok := f.replies[agent.ID]; ok {
		return out, nil
	}
	return "ack from " + agent.ID, nil
}

func (f *scriptedInvoker) Calls() []scriptedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scriptedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// writeSettings drops a settings document and queue dirs into a temp dir
// and returns the config path plus a ready queue store.
func writeSettings(t *testing.T, agents string) (string, *queue.Store) {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`{
  "queue": {"incoming_dir": %q, "outgoing_dir": %q},
  "agents": %s
}`, filepath.Join(dir, "in"), filepath.Join(dir, "out"), agents)

	cfgPath := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	q, err := queue.NewStore(filepath.Join(dir, "in"), filepath.Join(dir, "out"), testLogger)
	if err != nil {
		t.Fatalf("queue store: %v", err)
	}
	return cfgPath, q
}
