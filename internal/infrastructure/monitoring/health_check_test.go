package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"syncroom/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddRoomStoreCheck(memory.NewMemoryRoomRepository(), time.Second)
	h.AddRedisCheck(nil, time.Second)

	status := h.CheckAll(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, "healthy", status.Checks["room_store"])
	assert.NotContains(t, status.Checks, "redis")

	h.AddCheck("broken", func(ctx context.Context) error { return errors.New("down") }, time.Second)
	status = h.CheckAll(context.Background())
	assert.False(t, status.Healthy())
	assert.Equal(t, "down", status.Checks["broken"])
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.False(t, status.Healthy())
}
