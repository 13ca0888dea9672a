package services

import (
	"context"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/infrastructure/repositories/memory"
	"syncroom/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomService_ScheduleDefaults(t *testing.T) {
	svc := NewRoomService(memory.NewMemoryRoomRepository(), 10*time.Minute)

	room, err := svc.ScheduleRoom(context.Background(), &domain.Room{Title: "backend loop", PlannedDuration: time.Hour})
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, 10*time.Minute, room.GraceWindow)
	assert.False(t, room.ScheduledStart.IsZero())

	got, err := svc.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "backend loop", got.Title)
}

func TestRoomService_ScheduleValidation(t *testing.T) {
	svc := NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)
	ctx := context.Background()

	_, err := svc.ScheduleRoom(ctx, &domain.Room{ID: "r1"})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = svc.ScheduleRoom(ctx, &domain.Room{ID: "r 1", PlannedDuration: time.Hour})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = svc.ScheduleRoom(ctx, &domain.Room{
		ID:              "old",
		ScheduledStart:  time.Now().Add(-3 * time.Hour),
		PlannedDuration: time.Hour,
	})
	assert.ErrorIs(t, err, domain.ErrRoomExpired)

	_, err = svc.ScheduleRoom(ctx, &domain.Room{ID: "dup", PlannedDuration: time.Hour})
	require.NoError(t, err)
	_, err = svc.ScheduleRoom(ctx, &domain.Room{ID: "dup", PlannedDuration: time.Hour})
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}

type countingRoomService struct {
	ports.RoomService
	gets int
}

func (c *countingRoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	c.gets++
	return c.RoomService.GetRoom(ctx, id)
}

func TestCachedRoomService_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	base := &countingRoomService{RoomService: NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)}
	svc := NewCachedRoomService(base, time.Minute)
	defer svc.Stop()

	_, err := svc.ScheduleRoom(ctx, &domain.Room{ID: "r1", PlannedDuration: time.Hour})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.GetRoom(ctx, "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, base.gets)

	rooms, err := svc.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	require.NoError(t, svc.CancelRoom(ctx, "r1"))
	_, err = svc.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	rooms, err = svc.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestCachedRoomService_Forget(t *testing.T) {
	ctx := context.Background()
	base := &countingRoomService{RoomService: NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)}
	svc := NewCachedRoomService(base, time.Minute)
	defer svc.Stop()

	_, err := base.ScheduleRoom(ctx, &domain.Room{ID: "r1", PlannedDuration: time.Hour})
	require.NoError(t, err)
	_, err = svc.GetRoom(ctx, "r1")
	require.NoError(t, err)

	svc.Forget("r1")
	_, err = svc.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, base.gets)
}
