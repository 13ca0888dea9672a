package backup

import (
	"context"
	"fmt"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/backup"

	"go.uber.org/zap"
)

// Kind names room schedule snapshots in backup storage.
const Kind = "rooms"

type roomSnapshot struct {
	Rooms []*domain.Room `json:"rooms"`
}

type Config struct {
	Interval time.Duration
	Keep     int
}

// Scheduler snapshots the joinable rooms periodically so a relay on memory
// storage can restore its schedule after a restart.
type Scheduler struct {
	service *backup.Service
	rooms   ports.RoomService
	cfg     Config
	logger  *zap.SugaredLogger
}

func NewScheduler(service *backup.Service, rooms ports.RoomService, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		service: service,
		rooms:   rooms,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run backs up on every tick and once more when ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.runBackup(final)
			cancel()
			return
		}
	}
}

func (s *Scheduler) runBackup(ctx context.Context) {
	name, count, err := s.Backup(ctx)
	if err != nil {
		s.logger.Errorw("room backup failed", "error", err)
		return
	}
	s.logger.Debugw("room backup written", "backup_name", name, "rooms", count)

	deleted, err := s.service.Prune(ctx, s.cfg.Keep)
	if err != nil {
		s.logger.Warnw("failed to prune old backups", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Debugw("pruned old backups", "deleted", deleted)
	}
}

func (s *Scheduler) Backup(ctx context.Context) (string, int, error) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list rooms: %w", err)
	}
	name, err := s.service.Save(ctx, roomSnapshot{Rooms: rooms})
	if err != nil {
		return "", 0, err
	}
	return name, len(rooms), nil
}
