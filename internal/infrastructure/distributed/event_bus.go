package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventParticipantJoined EventType = "participant.joined"
	EventParticipantLeft   EventType = "participant.left"
	EventRoomScheduled     EventType = "room.scheduled"
	EventRoomCancelled     EventType = "room.cancelled"
)

const DefaultChannel = "syncroom:events"

type Event struct {
	Type        EventType           `json:"type"`
	InstanceID  string              `json:"instance_id"`
	Timestamp   time.Time           `json:"timestamp"`
	RoomID      domain.RoomID       `json:"room_id"`
	Participant *domain.Participant `json:"participant,omitempty"`
}

// Publisher is the transport the bus writes to; *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ ports.MembershipNotifier = (*EventBus)(nil)

// EventBus fans membership and room events out to other relay instances over
// redis pub/sub.
type EventBus struct {
	client     *redis.Client
	publisher  Publisher
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		publisher:  client,
		instanceID: instanceID,
		channel:    DefaultChannel,
		logger:     logger,
		now:        time.Now,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = eb.now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.publisher.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
	)
	return nil
}

func (eb *EventBus) ParticipantJoined(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	return eb.Publish(ctx, &Event{Type: EventParticipantJoined, RoomID: roomID, Participant: &participant})
}

func (eb *EventBus) ParticipantLeft(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	return eb.Publish(ctx, &Event{Type: EventParticipantLeft, RoomID: roomID, Participant: &participant})
}

func (eb *EventBus) RoomScheduled(ctx context.Context, roomID domain.RoomID) error {
	return eb.Publish(ctx, &Event{Type: EventRoomScheduled, RoomID: roomID})
}

func (eb *EventBus) RoomCancelled(ctx context.Context, roomID domain.RoomID) error {
	return eb.Publish(ctx, &Event{Type: EventRoomCancelled, RoomID: roomID})
}

// Subscribe blocks, delivering events from other instances to handler until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err)
		return
	}
	if event.InstanceID == eb.instanceID {
		return
	}
	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

// LogNotifier is the single-instance notifier: it only logs.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ParticipantJoined(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	n.logger.Debugw("membership event", "type", EventParticipantJoined, "room_id", roomID, "participant_id", participant.ID)
	return nil
}

func (n *LogNotifier) ParticipantLeft(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	n.logger.Debugw("membership event", "type", EventParticipantLeft, "room_id", roomID, "participant_id", participant.ID)
	return nil
}

func (n *LogNotifier) RoomScheduled(ctx context.Context, roomID domain.RoomID) error {
	n.logger.Debugw("room event", "type", EventRoomScheduled, "room_id", roomID)
	return nil
}

func (n *LogNotifier) RoomCancelled(ctx context.Context, roomID domain.RoomID) error {
	n.logger.Debugw("room event", "type", EventRoomCancelled, "room_id", roomID)
	return nil
}
