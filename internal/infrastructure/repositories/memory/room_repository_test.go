package memory

import (
	"context"
	"testing"
	"time"

	"syncroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoomRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	now := time.Now()

	room := &domain.Room{ID: "r1", ScheduledStart: now, PlannedDuration: time.Hour}
	require.NoError(t, repo.Create(ctx, room))
	assert.ErrorIs(t, repo.Create(ctx, room), domain.ErrRoomExists)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, room.ExpiresAt(), got.ExpiresAt())

	// Returned rooms are copies.
	got.PlannedDuration = 0
	again, _ := repo.GetByID(ctx, "r1")
	assert.Equal(t, time.Hour, again.PlannedDuration)

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err = repo.GetByID(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrRoomNotFound)
}

func TestMemoryRoomRepository_ListJoinable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "past", ScheduledStart: now.Add(-3 * time.Hour), PlannedDuration: time.Hour}))
	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "later", ScheduledStart: now.Add(time.Hour), PlannedDuration: time.Hour}))
	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "now", ScheduledStart: now, PlannedDuration: time.Hour}))

	rooms, err := repo.ListJoinable(ctx, now)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.RoomID("now"), rooms[0].ID)
	assert.Equal(t, domain.RoomID("later"), rooms[1].ID)
}
