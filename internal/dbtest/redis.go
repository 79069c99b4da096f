package dbtest

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
)

// RedisImage is the image of the Redis container.
//
// See <https://hub.docker.com/_/redis> for more images.
const RedisImage = "docker.io/redis:7-alpine"

// SetupRedis runs a Redis container and returns a client connected to it. The
// client is closed during cleanup of t.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()
	begin(t)
	ctx := context.Background()

	container, err := testcontainers.Run(ctx, RedisImage, customize(t,
		testcontainers.WithExposedPorts("6379/tcp"),
		WithWaitForExposedPort(),
	)...)
	if err != nil {
		t.Fatal("Failed to run redis container:", err)
	}
	inspect := terminateOnCleanup(t, container, "redis")

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatal("Failed to get redis endpoint:", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Error("Encountered an error during cleanup while closing the redis client:", err)
		}
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatal("Failed to ping redis:", err)
	}

	inspect("Address = " + endpoint)
	return client
}
