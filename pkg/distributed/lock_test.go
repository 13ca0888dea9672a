package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLock_AcquireFailsWithoutRedis(t *testing.T) {
	l := NewLock(unreachableClient(t), "syncroom:lock:test", time.Second)

	err := l.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "syncroom:lock:test")
}

func TestWithLock_SkipsFnWhenNotAcquired(t *testing.T) {
	l := NewLock(unreachableClient(t), "syncroom:lock:test", time.Second)

	called := false
	err := WithLock(context.Background(), l, 0, func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestNewLock_UniqueTokens(t *testing.T) {
	client := unreachableClient(t)
	a := NewLock(client, "k", time.Second)
	b := NewLock(client, "k", time.Second)
	assert.NotEqual(t, a.token, b.token)
}
