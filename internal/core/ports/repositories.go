package ports

import (
	"context"
	"time"

	"syncroom/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	// ListJoinable returns rooms not yet expired at now.
	ListJoinable(ctx context.Context, now time.Time) ([]*domain.Room, error)
}
