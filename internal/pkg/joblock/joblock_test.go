package joblock

import (
	"context"
	"os/exec"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if exec.Command("docker", "info").Run() != nil {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := Connect(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnect_EmptyAddrDisablesRedis(t *testing.T) {
	client, err := Connect(context.Background(), "", "", 0)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLocker(client, "test:")
	b := NewRedisLocker(client, "test:")

	release, err := a.Acquire(ctx, "refresh_ratings", time.Minute)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "refresh_ratings", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := b.Acquire(ctx, "recharge_energy", time.Minute)
	require.NoError(t, err)
	other()

	release()
	again, err := b.Acquire(ctx, "refresh_ratings", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(client, "test:")

	release, err := l.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)

	// lock expires and someone else takes it
	time.Sleep(100 * time.Millisecond)
	second, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	release()
	_, err = l.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired, "stale release must not drop the new holder's lock")
	second()
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	release, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	release()
	again, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	// expired locks can be taken, and the stale release leaves the new holder alone
	now = now.Add(2 * time.Minute)
	second, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	again()
	_, err = l.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
	second()
}
