package pubsub

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/mohamedkhairy/rate-notifier/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedPort returns a local port nothing listens on
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	client, err := NewRedisClient(config.RedisConfig{
		Host:     "127.0.0.1",
		Port:     closedPort(t),
		PoolSize: 1,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
	assert.Nil(t, client)
}

func TestRedisClient_ListPushNothing(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", closedPort(t))})
	client := NewRedisClientFromClient(rdb)
	defer client.Close()

	assert.NoError(t, client.ListPush(context.Background(), "rate-notifier:history"))
}

func TestRedisClient_UnmarshalableValue(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", closedPort(t))})
	client := NewRedisClientFromClient(rdb)
	defer client.Close()

	ctx := context.Background()
	bad := make(chan int)

	assert.ErrorContains(t, client.Set(ctx, "key", bad, 0), "failed to marshal value")
	assert.ErrorContains(t, client.ListPush(ctx, "key", bad), "failed to marshal value")
	assert.ErrorContains(t, client.Publish(ctx, "channel", bad), "failed to marshal message")
}
