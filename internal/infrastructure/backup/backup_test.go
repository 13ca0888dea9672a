package backup

import (
	"context"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/services"
	"syncroom/internal/infrastructure/repositories/memory"
	"syncroom/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	service := backup.NewService(storage, Kind)

	source := services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)
	_, err = source.ScheduleRoom(ctx, &domain.Room{ID: "long", PlannedDuration: time.Hour})
	require.NoError(t, err)
	_, err = source.ScheduleRoom(ctx, &domain.Room{ID: "short", PlannedDuration: time.Minute})
	require.NoError(t, err)

	sched := NewScheduler(service, source, Config{Interval: time.Hour, Keep: 3}, logger)
	name, count, err := sched.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NotEmpty(t, name)

	target := services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)
	_, err = target.ScheduleRoom(ctx, &domain.Room{ID: "long", PlannedDuration: time.Hour})
	require.NoError(t, err)

	// "short" has expired by then and "long" already exists.
	restored, err := Restore(ctx, service, target, time.Now().Add(10*time.Minute), logger)
	require.NoError(t, err)
	assert.Equal(t, 0, restored)

	empty := services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)
	restored, err = Restore(ctx, service, empty, time.Now(), logger)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	room, err := empty.GetRoom(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, room.PlannedDuration)
}

func TestRestore_NoBackups(t *testing.T) {
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	restored, err := Restore(context.Background(), backup.NewService(storage, Kind),
		services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute), time.Now(), zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestScheduler_RunPrunesAndBacksUpOnStop(t *testing.T) {
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	service := backup.NewService(storage, Kind)
	rooms := services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)

	sched := NewScheduler(service, rooms, Config{Interval: 5 * time.Millisecond, Keep: 2}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	names, err := service.List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, names)
	assert.LessOrEqual(t, len(names), 3)
}
