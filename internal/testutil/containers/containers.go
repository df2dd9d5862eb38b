// Package containers starts disposable backends for the store integration
// tests. Every helper skips the test in -short mode or when no Docker
// daemon is reachable.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 60 * time.Second

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func terminateOnCleanup(t *testing.T, name string, c testcontainers.Container) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			t.Errorf("terminate %s container: %v", name, err)
		}
	})
}

// endpoint starts a generic container exposing port and returns host:port.
func endpoint(t *testing.T, name, image string, port nat.Port) string {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", name, err)
	}
	terminateOnCleanup(t, name, c)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", name, err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("%s mapped port: %v", name, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// Redis returns a redis:// URL for a fresh Redis 7.
func Redis(t *testing.T) string {
	t.Helper()
	return "redis://" + endpoint(t, "redis", "redis:7", "6379/tcp")
}

// Qdrant returns the gRPC host:port of a fresh Qdrant.
func Qdrant(t *testing.T) string {
	t.Helper()
	return endpoint(t, "qdrant", "qdrant/qdrant:latest", "6334/tcp")
}

// Mongo returns the connection URI of a fresh MongoDB 7.
func Mongo(t *testing.T) string {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()
	c, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongodb container: %v", err)
	}
	terminateOnCleanup(t, "mongodb", c)
	uri, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mongodb connection string: %v", err)
	}
	return uri
}

// Postgres returns the DSN of a fresh Postgres with the pgvector extension
// available. It returns once the server accepts connections.
func Postgres(t *testing.T) string {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()
	c, err := postgres.Run(ctx, "pgvector/pgvector:pg17",
		postgres.WithDatabase("chat_memory"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	terminateOnCleanup(t, "postgres", c)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	if err := pingUntilReady(ctx, dsn, 20*time.Second); err != nil {
		t.Fatalf("postgres is not ready: %v", err)
	}
	return dsn
}

func pingUntilReady(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}
