package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/core/services"
	"syncroom/internal/infrastructure/repositories/memory"
	"syncroom/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type relayFixture struct {
	server  *WebSocketServer
	http    *httptest.Server
	rooms   ports.RoomService
	auth    services.AuthService
	wsURL   string
	tracker *services.MembershipTracker
}

func testOptions() Options {
	return Options{
		PingInterval: time.Second,
		PongTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		JoinTimeout:  time.Second,
		SendBuffer:   64,
	}
}

func newRelayFixture(t *testing.T, mutate func(*Options)) *relayFixture {
	t.Helper()
	return newRelayFixtureWithNotifier(t, nil, mutate)
}

func newRelayFixtureWithNotifier(t *testing.T, notifier ports.MembershipNotifier, mutate func(*Options)) *relayFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	rooms := services.NewRoomService(memory.NewMemoryRoomRepository(), time.Minute)
	_, err := rooms.ScheduleRoom(context.Background(), &domain.Room{ID: "room-1", PlannedDuration: time.Hour})
	require.NoError(t, err)

	tracker := services.NewMembershipTracker(rooms, notifier, logger)
	auth := services.NewAuthService("secret", time.Hour, time.Hour)

	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	server := NewWebSocketServer(tracker, auth, nil, opts, logger)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &relayFixture{
		server:  server,
		http:    ts,
		rooms:   rooms,
		auth:    auth,
		tracker: tracker,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

type rawClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (f *relayFixture) dial(t *testing.T) *rawClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &rawClient{t: t, ws: ws}
}

func (c *rawClient) send(msg protocol.Message, to domain.ParticipantID) {
	env, err := protocol.Encode(msg, to)
	require.NoError(c.t, err)
	data, err := protocol.Marshal(env)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *rawClient) sendRaw(data string) {
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *rawClient) read() (*protocol.Envelope, protocol.Message) {
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	env, err := protocol.Parse(data)
	require.NoError(c.t, err)
	msg, err := protocol.Decode(env)
	require.NoError(c.t, err)
	return env, msg
}

// expectNothing asserts no frame arrives within d.
func (c *rawClient) expectNothing(d time.Duration) {
	c.ws.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.ws.ReadMessage()
	if err == nil {
		c.t.Fatalf("unexpected frame: %s", data)
	}
}

func (f *relayFixture) join(t *testing.T, id, role string) (*rawClient, *protocol.Roster) {
	t.Helper()
	c := f.dial(t)
	c.send(protocol.Join{Room: "room-1", ParticipantID: domain.ParticipantID(id), Name: id, Role: role}, "")
	_, msg := c.read()
	roster, ok := msg.(*protocol.Roster)
	require.True(t, ok, "expected roster, got %T", msg)
	return c, roster
}

func TestRelay_JoinRosterAndPeerJoined(t *testing.T) {
	f := newRelayFixture(t, nil)

	alice, roster := f.join(t, "alice", "interviewer")
	assert.Empty(t, roster.Participants)
	assert.Equal(t, domain.RoleDriver, roster.Self.Role)

	_, roster = f.join(t, "bob", "candidate")
	require.Len(t, roster.Participants, 1)
	assert.Equal(t, domain.ParticipantID("alice"), roster.Participants[0].ID)

	_, msg := alice.read()
	joined, ok := msg.(*protocol.PeerJoined)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("bob"), joined.Participant.ID)
	assert.Equal(t, domain.RoleSubject, joined.Participant.Role)
}

func TestRelay_TargetedAndBroadcast(t *testing.T) {
	f := newRelayFixture(t, nil)

	alice, _ := f.join(t, "alice", "driver")
	bob, _ := f.join(t, "bob", "subject")
	alice.read() // peer-joined bob
	carol, _ := f.join(t, "carol", "observer")
	alice.read() // peer-joined carol
	bob.read()   // peer-joined carol

	alice.send(protocol.ViewChange{View: "problem-2"}, "")
	for _, c := range []*rawClient{bob, carol} {
		env, msg := c.read()
		assert.Equal(t, domain.ParticipantID("alice"), env.From)
		assert.Equal(t, domain.ViewID("problem-2"), msg.(*protocol.ViewChange).View)
	}

	alice.send(protocol.Offer{SDP: "v=0"}, "bob")
	env, msg := bob.read()
	assert.Equal(t, domain.ParticipantID("alice"), env.From)
	assert.Equal(t, "v=0", msg.(*protocol.Offer).SDP)

	// A read timeout poisons a gorilla connection, so these checks come last.
	carol.expectNothing(100 * time.Millisecond)
	alice.expectNothing(100 * time.Millisecond)
}

func TestRelay_FromIsStampedBySender(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := f.join(t, "alice", "driver")
	bob, _ := f.join(t, "bob", "subject")
	alice.read()

	alice.sendRaw(`{"type":"board-clear","from":"mallory","payload":{"authorId":"alice"}}`)
	env, _ := bob.read()
	assert.Equal(t, domain.ParticipantID("alice"), env.From)
}

func TestRelay_PeerLeftOnce(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := f.join(t, "alice", "driver")
	bob, _ := f.join(t, "bob", "subject")
	alice.read()

	bob.ws.Close()

	_, msg := alice.read()
	left, ok := msg.(*protocol.PeerLeft)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("bob"), left.ParticipantID)
	alice.expectNothing(150 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return !f.server.IsConnected("room-1", "bob")
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_ReconnectReplacesConnection(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := f.join(t, "alice", "driver")
	oldBob, _ := f.join(t, "bob", "subject")
	alice.read()

	_, roster := f.join(t, "bob", "subject")
	require.Len(t, roster.Participants, 1)

	_, msg := alice.read()
	assert.IsType(t, &protocol.PeerLeft{}, msg)
	_, msg = alice.read()
	assert.IsType(t, &protocol.PeerJoined{}, msg)

	// The replaced socket is closed by the relay and its cleanup is silent.
	oldBob.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := oldBob.ws.ReadMessage(); err != nil {
			break
		}
	}
	alice.expectNothing(150 * time.Millisecond)
	assert.True(t, f.server.IsConnected("room-1", "bob"))
}

func TestRelay_RejectsBeforeJoin(t *testing.T) {
	f := newRelayFixture(t, nil)

	c := f.dial(t)
	c.send(protocol.Offer{SDP: "v=0"}, "bob")
	_, msg := c.read()
	e := msg.(*protocol.Error)
	assert.Equal(t, "JOIN_REQUIRED", e.Code)
	assert.True(t, e.Fatal)
}

func TestRelay_RejectsUnknownAndExpiredRooms(t *testing.T) {
	f := newRelayFixture(t, nil)
	_, err := f.rooms.ScheduleRoom(context.Background(), &domain.Room{
		ID:              "ending",
		ScheduledStart:  time.Now().Add(-time.Hour),
		PlannedDuration: time.Hour,
		GraceWindow:     300 * time.Millisecond,
	})
	require.NoError(t, err)

	c := f.dial(t)
	c.send(protocol.Join{Room: "nope", ParticipantID: "alice", Role: "driver"}, "")
	_, msg := c.read()
	assert.Equal(t, "ROOM_NOT_FOUND", msg.(*protocol.Error).Code)

	time.Sleep(400 * time.Millisecond)
	c = f.dial(t)
	c.send(protocol.Join{Room: "ending", ParticipantID: "alice", Role: "driver"}, "")
	_, msg = c.read()
	assert.Equal(t, "ROOM_EXPIRED", msg.(*protocol.Error).Code)
	assert.Zero(t, f.tracker.RoomCount())
}

func TestRelay_RequireJoinToken(t *testing.T) {
	f := newRelayFixture(t, func(o *Options) { o.RequireJoinToken = true })

	c := f.dial(t)
	c.send(protocol.Join{Room: "room-1", ParticipantID: "cand", Role: "driver"}, "")
	_, msg := c.read()
	assert.Equal(t, "NOT_ENTITLED", msg.(*protocol.Error).Code)

	room := &domain.Room{ID: "room-1", ScheduledStart: time.Now(), PlannedDuration: time.Hour}
	token, err := f.auth.IssueJoinToken(room, "cand", "Candidate", domain.RoleSubject)
	require.NoError(t, err)

	c = f.dial(t)
	// The token's role wins over the requested one.
	c.send(protocol.Join{Room: "room-1", ParticipantID: "cand", Role: "driver", Token: token}, "")
	_, msg = c.read()
	roster := msg.(*protocol.Roster)
	assert.Equal(t, domain.RoleSubject, roster.Self.Role)
	assert.Equal(t, "Candidate", roster.Self.DisplayName)
}

func TestRelay_NonFatalErrors(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := f.join(t, "alice", "driver")

	alice.send(protocol.Offer{SDP: "v=0"}, "ghost")
	_, msg := alice.read()
	assert.Equal(t, "NOT_FOUND", msg.(*protocol.Error).Code)
	assert.False(t, msg.(*protocol.Error).Fatal)

	alice.send(protocol.Join{Room: "room-1", ParticipantID: "alice", Role: "driver"}, "")
	_, msg = alice.read()
	assert.Equal(t, "CONFLICT", msg.(*protocol.Error).Code)

	alice.sendRaw(`{"type":"peer-left","payload":{"participantId":"bob"}}`)
	_, msg = alice.read()
	assert.Equal(t, "INVALID_INPUT", msg.(*protocol.Error).Code)

	// Connection survives non-fatal errors.
	assert.True(t, f.server.IsConnected("room-1", "alice"))
}

func TestRelay_RateLimit(t *testing.T) {
	f := newRelayFixture(t, func(o *Options) {
		o.MessagesPerSecond = 1
		o.Burst = 1
	})
	alice, _ := f.join(t, "alice", "driver")

	alice.send(protocol.ViewChange{View: "a"}, "")
	alice.send(protocol.ViewChange{View: "b"}, "")
	_, msg := alice.read()
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", msg.(*protocol.Error).Code)
}

func TestRelay_HealthAndShutdown(t *testing.T) {
	f := newRelayFixture(t, nil)
	f.join(t, "alice", "driver")

	rec := httptest.NewRecorder()
	f.server.HealthCheck(rec, httptest.NewRequest("GET", "/health", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, float64(1), body["rooms"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	assert.Zero(t, f.tracker.RoomCount())
}

// slowNotifier stalls join notifications for one room.
type slowNotifier struct {
	room  domain.RoomID
	delay time.Duration
}

func (n *slowNotifier) ParticipantJoined(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	if roomID == n.room {
		time.Sleep(n.delay)
	}
	return nil
}

func (n *slowNotifier) ParticipantLeft(ctx context.Context, roomID domain.RoomID, participant domain.Participant) error {
	return nil
}

func TestRelay_SlowJoinDoesNotStallOtherRooms(t *testing.T) {
	f := newRelayFixtureWithNotifier(t, &slowNotifier{room: "room-2", delay: 1500 * time.Millisecond}, nil)
	_, err := f.rooms.ScheduleRoom(context.Background(), &domain.Room{ID: "room-2", PlannedDuration: time.Hour})
	require.NoError(t, err)

	alice, _ := f.join(t, "alice", "interviewer")
	bob, _ := f.join(t, "bob", "candidate")
	_, msg := alice.read()
	require.IsType(t, &protocol.PeerJoined{}, msg)

	carol := f.dial(t)
	carol.send(protocol.Join{Room: "room-2", ParticipantID: "carol", Name: "carol", Role: "candidate"}, "")
	require.Eventually(t, func() bool {
		return len(f.tracker.Roster("room-2")) == 1
	}, time.Second, 5*time.Millisecond, "carol's join is being notified")

	started := time.Now()
	alice.send(protocol.BoardClear{AuthorID: "alice"}, "")
	_, msg = bob.read()
	assert.IsType(t, &protocol.BoardClear{}, msg)
	assert.Less(t, time.Since(started), 500*time.Millisecond)

	_, msg = carol.read()
	assert.IsType(t, &protocol.Roster{}, msg)
}
