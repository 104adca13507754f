// Package suite provisions the real stores the repository tests run against:
// a throwaway redis container for the identity store and an in-memory sqlite
// database with the users schema applied.
package suite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"

	"github.com/neonarcade/tictactoe-backend/internal/repository/storage"
)

const (
	redisImage = "redis"
	redisTag   = "alpine"
	redisPort  = "6379/tcp"

	// containers are hard-killed after this many seconds so a crashed test
	// run cannot leak them
	containerExpirySeconds = 120

	maxWait = 2 * time.Minute
)

type Suite struct {
	*testing.T
	Logger *slog.Logger

	Redis *redis.Client
	Users *storage.SQLiteStorage
}

// New provisions the full suite: redis in a container plus the sqlite side.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	ctx, st := NewUsers(t)
	st.Redis = startRedis(ctx, t)

	return ctx, st
}

// NewUsers provisions only the sqlite side, so tests that never touch redis
// skip the docker round-trip.
func NewUsers(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), maxWait)
	t.Cleanup(cancel)

	users, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("could not open sqlite storage: %v", err)
	}

	t.Cleanup(func() {
		_ = users.Close()
	})

	if err = users.Init(ctx); err != nil {
		t.Fatalf("could not apply users schema: %v", err)
	}

	return ctx, &Suite{
		T:      t,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Users:  users,
	}
}

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}
	pool.MaxWait = maxWait

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: redisImage,
		Tag:        redisTag,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start redis container: %v", err)
	}

	// Expire never returns an error
	_ = resource.Expire(containerExpirySeconds)

	t.Cleanup(func() {
		if purgeErr := pool.Purge(resource); purgeErr != nil {
			t.Fatalf("could not purge redis container: %v", purgeErr)
		}
	})

	// the container may not accept connections right away
	var client *redis.Client
	if err = pool.Retry(func() error {
		client = redis.NewClient(&redis.Options{Addr: resource.GetHostPort(redisPort)})
		return client.Ping(ctx).Err()
	}); err != nil {
		t.Fatalf("could not connect to redis: %v", err)
	}

	if err = client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("could not flush redis: %v", err)
	}

	return client
}
