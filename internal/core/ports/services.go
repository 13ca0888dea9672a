package ports

import (
	"context"

	"syncroom/internal/core/domain"
)

type RoomService interface {
	ScheduleRoom(ctx context.Context, room *domain.Room) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	CancelRoom(ctx context.Context, id domain.RoomID) error
	ListRooms(ctx context.Context) ([]*domain.Room, error)
}

// MembershipService tracks who is connected to which room.
type MembershipService interface {
	Join(ctx context.Context, roomID domain.RoomID, participant domain.Participant) (*domain.Admission, error)
	// Leave removes the participant only while connID is still its current
	// connection and reports whether a removal happened.
	Leave(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, connID domain.ConnectionID) (*domain.Participant, bool)
	Roster(roomID domain.RoomID) []domain.Participant
	Lookup(roomID domain.RoomID, participantID domain.ParticipantID) (domain.Participant, bool)
	RoomCount() int
}

// MembershipNotifier receives join/leave events emitted by the tracker.
type MembershipNotifier interface {
	ParticipantJoined(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error
	ParticipantLeft(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error
}
