package services

import (
	"context"
	"fmt"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/cache"
)

// CachedRoomService wraps RoomService with a read-through cache. Every join
// looks its room up, so this keeps redis off the hot path.
type CachedRoomService struct {
	baseService ports.RoomService
	rooms       *cache.Cache[*domain.Room]
	lists       *cache.Cache[[]*domain.Room]
}

func NewCachedRoomService(baseService ports.RoomService, ttl time.Duration) *CachedRoomService {
	return &CachedRoomService{
		baseService: baseService,
		rooms:       cache.New[*domain.Room](ttl),
		lists:       cache.New[[]*domain.Room](ttl / 4),
	}
}

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("room:%s", id)
}

func (s *CachedRoomService) ScheduleRoom(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	created, err := s.baseService.ScheduleRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	s.lists.Invalidate("rooms:")
	return created, nil
}

func (s *CachedRoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.rooms.GetOrSet(ctx, roomKey(id), func(ctx context.Context) (*domain.Room, error) {
		return s.baseService.GetRoom(ctx, id)
	})
}

func (s *CachedRoomService) CancelRoom(ctx context.Context, id domain.RoomID) error {
	if err := s.baseService.CancelRoom(ctx, id); err != nil {
		return err
	}
	s.rooms.Delete(roomKey(id))
	s.lists.Invalidate("rooms:")
	return nil
}

func (s *CachedRoomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.lists.GetOrSet(ctx, "rooms:joinable", s.baseService.ListRooms)
}

func (s *CachedRoomService) Stop() {
	s.rooms.Stop()
	s.lists.Stop()
}

// Forget drops the cached room, used when another instance changed it.
func (s *CachedRoomService) Forget(id domain.RoomID) {
	s.rooms.Delete(roomKey(id))
	s.lists.Invalidate("rooms:")
}
