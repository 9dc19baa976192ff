package cache

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"collectible-market/internal/model"
)

func setupRedis(t *testing.T) *redis.Client {
	if err := exec.Command("docker", "info").Run(); err != nil {
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

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestScarcityCache_NilIsAlwaysMiss(t *testing.T) {
	var c *ScarcityCache
	ctx := context.Background()

	c.Set(ctx, "c1", []model.ScarcityView{{Name: "x"}})
	_, ok := c.Get(ctx, "c1")
	assert.False(t, ok)
	c.Invalidate(ctx, "c1")
}

func TestScarcityCache_RoundTrip(t *testing.T) {
	client := setupRedis(t)
	c := NewScarcityCache(client, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "c1")
	assert.False(t, ok)

	three := 3
	views := []model.ScarcityView{
		{ItemDefinitionID: 1, ItemNumber: 1, Name: "Crown", Rarity: model.RarityLendario, ScarcityTier: model.ScarcityUnique, Claimed: true},
		{ItemDefinitionID: 2, ItemNumber: 2, Name: "Badge", Rarity: model.RarityRaro, ScarcityTier: model.ScarcityLimited, IssuedCount: 2, MaxEditions: &three},
	}
	c.Set(ctx, "c1", views)

	got, ok := c.Get(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, views, got)

	ttl, err := client.TTL(ctx, "scarcity:c1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	c.Invalidate(ctx, "c1")
	_, ok = c.Get(ctx, "c1")
	assert.False(t, ok)
}

func TestScarcityCache_CorruptEntryIsMiss(t *testing.T) {
	client := setupRedis(t)
	c := NewScarcityCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "scarcity:c1", "not json", 0).Err())
	_, ok := c.Get(ctx, "c1")
	assert.False(t, ok)
}
