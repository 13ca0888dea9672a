package backup

import (
	"context"
	"errors"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/backup"

	"go.uber.org/zap"
)

// Restore re-schedules rooms from the latest snapshot. Rooms expired at now
// or already present are skipped.
func Restore(ctx context.Context, service *backup.Service, rooms ports.RoomService, now time.Time, logger *zap.SugaredLogger) (int, error) {
	name, err := service.Latest(ctx)
	if errors.Is(err, backup.ErrNoBackups) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var snap roomSnapshot
	if _, err := service.Load(ctx, name, &snap); err != nil {
		return 0, err
	}

	restored := 0
	for _, room := range snap.Rooms {
		if room == nil || room.Expired(now) {
			continue
		}
		r := *room
		if _, err := rooms.ScheduleRoom(ctx, &r); err != nil {
			if errors.Is(err, domain.ErrRoomExists) || errors.Is(err, domain.ErrRoomExpired) {
				continue
			}
			logger.Warnw("failed to restore room", "room_id", room.ID, "error", err)
			continue
		}
		restored++
	}

	logger.Infow("restored rooms from backup", "backup_name", name, "restored", restored, "in_backup", len(snap.Rooms))
	return restored, nil
}
