package domain

import (
	"time"
)

type RoomID string

// Room is one scheduled interview session. It stops accepting joins once
// ExpiresAt has passed; participants already connected are not evicted.
type Room struct {
	ID              RoomID        `json:"id"`
	Title           string        `json:"title,omitempty"`
	ScheduledStart  time.Time     `json:"scheduled_start"`
	PlannedDuration time.Duration `json:"planned_duration"`
	GraceWindow     time.Duration `json:"grace_window"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (r *Room) ExpiresAt() time.Time {
	return r.ScheduledStart.Add(r.PlannedDuration).Add(r.GraceWindow)
}

func (r *Room) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// TTL returns how long the room remains joinable, zero if already expired.
func (r *Room) TTL(now time.Time) time.Duration {
	ttl := r.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
