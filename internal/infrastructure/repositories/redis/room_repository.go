package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix   = "syncroom:room:"
	roomScheduleKey = "syncroom:rooms:schedule"
)

// RedisRoomRepository stores rooms as JSON with a key TTL equal to the time
// left before expiry, plus a sorted set of room ids scored by expiry.
type RedisRoomRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		now:    time.Now,
	}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return roomKeyPrefix + string(id)
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	ctx, span := tracing.TraceStorageOperation(ctx, "create", "room")
	defer span.End()

	ttl := room.TTL(r.now())
	if ttl <= 0 {
		return domain.ErrRoomExpired
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.roomKey(room.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	if !created {
		return domain.ErrRoomExists
	}

	if err := r.client.ZAdd(ctx, roomScheduleKey, redis.Z{
		Score:  float64(room.ExpiresAt().Unix()),
		Member: string(room.ID),
	}).Err(); err != nil {
		return fmt.Errorf("failed to index room schedule: %w", err)
	}

	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	ctx, span := tracing.TraceStorageOperation(ctx, "get", "room")
	defer span.End()

	data, err := r.client.Get(ctx, r.roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	removed, err := r.client.Del(ctx, r.roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	if err := r.client.ZRem(ctx, roomScheduleKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove room from schedule: %w", err)
	}
	if removed == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomRepository) ListJoinable(ctx context.Context, now time.Time) ([]*domain.Room, error) {
	ids, err := r.client.ZRangeByScore(ctx, roomScheduleKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled rooms: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetByID(ctx, domain.RoomID(id))
		if err != nil {
			// Key already expired; the schedule entry is swept by the migration job.
			continue
		}
		if room.Expired(now) {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}
