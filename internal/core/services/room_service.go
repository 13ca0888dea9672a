package services

import (
	"context"
	"fmt"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/validation"

	"github.com/google/uuid"
)

type roomService struct {
	roomRepo     ports.RoomRepository
	defaultGrace time.Duration
	now          func() time.Time
}

func NewRoomService(roomRepo ports.RoomRepository, defaultGrace time.Duration) ports.RoomService {
	return &roomService{
		roomRepo:     roomRepo,
		defaultGrace: defaultGrace,
		now:          time.Now,
	}
}

func (s *roomService) ScheduleRoom(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	if room.ID == "" {
		room.ID = domain.RoomID(uuid.New().String())
	}
	if err := validation.ValidateRoomID(string(room.ID)); err != nil {
		return nil, err
	}
	if err := validation.ValidateSchedule(room.PlannedDuration, room.GraceWindow); err != nil {
		return nil, err
	}
	if err := validation.ValidateRoomTitle(room.Title); err != nil {
		return nil, err
	}
	if room.GraceWindow == 0 {
		room.GraceWindow = s.defaultGrace
	}
	if room.ScheduledStart.IsZero() {
		room.ScheduledStart = s.now()
	}
	room.CreatedAt = s.now()

	if room.Expired(room.CreatedAt) {
		return nil, domain.ErrRoomExpired
	}

	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.roomRepo.GetByID(ctx, id)
}

func (s *roomService) CancelRoom(ctx context.Context, id domain.RoomID) error {
	return s.roomRepo.Delete(ctx, id)
}

func (s *roomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.roomRepo.ListJoinable(ctx, s.now())
}
