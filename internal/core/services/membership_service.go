package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomSession is the live roster of one room. It is created on the first join
// and dropped once the last participant leaves.
type RoomSession struct {
	ID domain.RoomID

	mu      sync.RWMutex
	members map[domain.ParticipantID]domain.Participant
	order   []domain.ParticipantID
	closed  bool
}

func newRoomSession(id domain.RoomID) *RoomSession {
	return &RoomSession{
		ID:      id,
		members: make(map[domain.ParticipantID]domain.Participant),
	}
}

// Snapshot returns members in join order, excluding the given id.
func (rs *RoomSession) Snapshot(exclude domain.ParticipantID) []domain.Participant {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.snapshotLocked(exclude)
}

func (rs *RoomSession) snapshotLocked(exclude domain.ParticipantID) []domain.Participant {
	out := make([]domain.Participant, 0, len(rs.order))
	for _, id := range rs.order {
		if id == exclude {
			continue
		}
		out = append(out, rs.members[id])
	}
	return out
}

func (rs *RoomSession) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.members)
}

func (rs *RoomSession) removeLocked(id domain.ParticipantID) {
	delete(rs.members, id)
	for i, pid := range rs.order {
		if pid == id {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
}

var _ ports.MembershipService = (*MembershipTracker)(nil)

// MembershipTracker owns every participant record. Other components refer to
// participants by id only.
type MembershipTracker struct {
	rooms    ports.RoomService
	notifier ports.MembershipNotifier
	logger   *zap.SugaredLogger

	now       func() time.Time
	newConnID func() domain.ConnectionID

	mu       sync.Mutex
	sessions map[domain.RoomID]*RoomSession
}

func NewMembershipTracker(rooms ports.RoomService, notifier ports.MembershipNotifier, logger *zap.SugaredLogger) *MembershipTracker {
	return &MembershipTracker{
		rooms:    rooms,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newConnID: func() domain.ConnectionID {
			return domain.ConnectionID(uuid.New().String())
		},
		sessions: make(map[domain.RoomID]*RoomSession),
	}
}

func (t *MembershipTracker) Join(ctx context.Context, roomID domain.RoomID, participant domain.Participant) (*domain.Admission, error) {
	if err := validation.ValidateParticipantID(string(participant.ID)); err != nil {
		return nil, err
	}
	if !participant.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, participant.Role)
	}

	room, err := t.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if room.Expired(t.now()) {
		return nil, domain.ErrRoomExpired
	}

	participant.ConnectionID = t.newConnID()
	participant.JoinedAt = t.now()

	var admission *domain.Admission
	for admission == nil {
		rs := t.session(roomID)

		rs.mu.Lock()
		if rs.closed {
			// Lost a race with the last leave; the next lookup creates a fresh session.
			rs.mu.Unlock()
			continue
		}
		admission = &domain.Admission{Self: participant}
		if prev, ok := rs.members[participant.ID]; ok {
			prevCopy := prev
			admission.Replaced = &prevCopy
			rs.removeLocked(participant.ID)
		}
		admission.Roster = rs.snapshotLocked(participant.ID)
		rs.members[participant.ID] = participant
		rs.order = append(rs.order, participant.ID)
		rs.mu.Unlock()
	}

	t.logger.Infow("participant joined room",
		"room_id", roomID,
		"participant_id", participant.ID,
		"connection_id", participant.ConnectionID,
		"role", participant.Role,
		"roster_size", len(admission.Roster),
		"reconnect", admission.Replaced != nil,
	)

	if t.notifier != nil {
		if admission.Replaced != nil {
			if err := t.notifier.ParticipantLeft(ctx, roomID, *admission.Replaced); err != nil {
				t.logger.Warnw("failed to publish leave notification", "room_id", roomID, "participant_id", participant.ID, "error", err)
			}
		}
		if err := t.notifier.ParticipantJoined(ctx, roomID, participant); err != nil {
			t.logger.Warnw("failed to publish join notification", "room_id", roomID, "participant_id", participant.ID, "error", err)
		}
	}

	return admission, nil
}

func (t *MembershipTracker) Leave(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, connID domain.ConnectionID) (*domain.Participant, bool) {
	t.mu.Lock()
	rs, ok := t.sessions[roomID]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}

	rs.mu.Lock()
	p, ok := rs.members[participantID]
	if !ok || p.ConnectionID != connID {
		rs.mu.Unlock()
		t.mu.Unlock()
		return nil, false
	}
	rs.removeLocked(participantID)
	if len(rs.members) == 0 {
		rs.closed = true
		delete(t.sessions, roomID)
	}
	rs.mu.Unlock()
	t.mu.Unlock()

	t.logger.Infow("participant left room",
		"room_id", roomID,
		"participant_id", participantID,
		"connection_id", connID,
	)

	if t.notifier != nil {
		if err := t.notifier.ParticipantLeft(ctx, roomID, p); err != nil {
			t.logger.Warnw("failed to publish leave notification", "room_id", roomID, "participant_id", participantID, "error", err)
		}
	}
	return &p, true
}

func (t *MembershipTracker) Roster(roomID domain.RoomID) []domain.Participant {
	t.mu.Lock()
	rs, ok := t.sessions[roomID]
	t.mu.Unlock()
	if !ok {
		return []domain.Participant{}
	}
	return rs.Snapshot("")
}

func (t *MembershipTracker) Lookup(roomID domain.RoomID, participantID domain.ParticipantID) (domain.Participant, bool) {
	t.mu.Lock()
	rs, ok := t.sessions[roomID]
	t.mu.Unlock()
	if !ok {
		return domain.Participant{}, false
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	p, ok := rs.members[participantID]
	return p, ok
}

func (t *MembershipTracker) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Session returns the live session for a room, nil when nobody is connected.
func (t *MembershipTracker) Session(roomID domain.RoomID) *RoomSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[roomID]
}

func (t *MembershipTracker) session(roomID domain.RoomID) *RoomSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, ok := t.sessions[roomID]
	if !ok {
		rs = newRoomSession(roomID)
		t.sessions[roomID] = rs
	}
	return rs
}
