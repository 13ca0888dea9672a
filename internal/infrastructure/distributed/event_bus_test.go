package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"syncroom/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	channel string
	data    []byte
	err     error
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.data = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	}
	return cmd
}

func newTestBus(pub Publisher) *EventBus {
	eb := NewEventBus(nil, "relay-a", zap.NewNop().Sugar())
	eb.publisher = pub
	eb.now = func() time.Time { return time.Unix(100, 0) }
	return eb
}

func TestEventBus_PublishesParticipantJoined(t *testing.T) {
	pub := &capturePublisher{}
	eb := newTestBus(pub)

	err := eb.ParticipantJoined(context.Background(), "room-1", domain.Participant{ID: "alice", Role: domain.RoleDriver})
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, pub.channel)

	var event Event
	require.NoError(t, json.Unmarshal(pub.data, &event))
	assert.Equal(t, EventParticipantJoined, event.Type)
	assert.Equal(t, "relay-a", event.InstanceID)
	assert.Equal(t, domain.RoomID("room-1"), event.RoomID)
	require.NotNil(t, event.Participant)
	assert.Equal(t, domain.ParticipantID("alice"), event.Participant.ID)
}

func TestEventBus_PublishError(t *testing.T) {
	eb := newTestBus(&capturePublisher{err: errors.New("connection refused")})
	err := eb.ParticipantLeft(context.Background(), "room-1", domain.Participant{ID: "alice"})
	assert.Error(t, err)
}

func TestEventBus_DispatchSkipsOwnEvents(t *testing.T) {
	eb := newTestBus(&capturePublisher{})

	var got []*Event
	handler := func(e *Event) error {
		got = append(got, e)
		return nil
	}

	own, _ := json.Marshal(Event{Type: EventRoomCancelled, InstanceID: "relay-a", RoomID: "r1"})
	other, _ := json.Marshal(Event{Type: EventRoomCancelled, InstanceID: "relay-b", RoomID: "r2"})

	eb.dispatch(string(own), handler)
	eb.dispatch(string(other), handler)
	eb.dispatch("{broken", handler)

	require.Len(t, got, 1)
	assert.Equal(t, domain.RoomID("r2"), got[0].RoomID)
}
