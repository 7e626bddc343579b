// Package dbtest starts a throwaway PostgreSQL for integration tests.
// Tests are skipped when Docker is not available.
package dbtest

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"countryballs/internal/pkg/db"
)

// DockerAvailable checks if Docker is available and running.
func DockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// Setup creates a migrated PostgreSQL container and returns a pool.
// The container is terminated by t.Cleanup.
func Setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if !DockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})

	return pool
}

// Seed inserts reference data used across integration tests: three starter
// enterprises, a boost, a country with a region and a case with one reward.
func Seed(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO enterprises (id, name, capacity) VALUES
			(1, 'Farm', 10), (2, 'Mill', 20), (3, 'Mine', 30), (4, 'Factory', 100);
		INSERT INTO boosts (id, name, value) VALUES (1, 'Coffee', 25);
		INSERT INTO countries (id, name, image_url) VALUES
			(1, 'Ruritania', 'https://img/ru.png'), (2, 'Freedonia', NULL);
		INSERT INTO regions (id, name, country_id) VALUES (1, 'North', 1), (2, 'Coast', 2);
		INSERT INTO cases (id, name) VALUES (1, 'Bronze');
		INSERT INTO case_rewards (case_id, kind, amount, weight) VALUES (1, 'capacity', 50, 1);
	`)
	require.NoError(t, err)
}
