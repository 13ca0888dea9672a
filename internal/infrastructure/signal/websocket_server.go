package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/protocol"
	"syncroom/pkg/config"
	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/tracing"
	"syncroom/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Authorizer checks a join against its signed entitlement.
type Authorizer interface {
	Authorize(token string, roomID domain.RoomID, participant domain.Participant) (domain.Participant, error)
}

// Metrics is the subset of the prometheus collector used by the relay.
type Metrics interface {
	RecordParticipantJoined(joinLatency time.Duration)
	RecordParticipantLeft()
	SetActiveRooms(n int)
	RecordRelayed(messageType string, targeted bool)
	RecordDropped(reason string)
	RecordJoinRejected(code string)
	RecordRateLimited()
}

type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	JoinTimeout       time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	RequireJoinToken  bool
	AllowedOrigins    []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:     cfg.Signal.PingInterval,
		PongTimeout:      cfg.Signal.PongTimeout,
		WriteTimeout:     cfg.Signal.WriteTimeout,
		JoinTimeout:      cfg.Signal.JoinTimeout,
		SendBuffer:       cfg.Signal.SendBuffer,
		RequireJoinToken: cfg.Auth.RequireJoinToken,
		AllowedOrigins:   cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
		opts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	return opts
}

// WebSocketServer relays envelopes between participants of the same room.
// It reads only type and to, and stamps from.
type WebSocketServer struct {
	tracker ports.MembershipService
	auth    Authorizer
	metrics Metrics
	opts    Options

	upgrader websocket.Upgrader

	// gates serialize admission and departure within one room, so tracker
	// order and broadcast order agree. Tracker calls run under the gate only.
	gatesMu sync.Mutex
	gates   map[domain.RoomID]*roomGate

	// mu guards the connection table and is never held across I/O.
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ParticipantID]*connection

	logger *zap.SugaredLogger
}

func NewWebSocketServer(tracker ports.MembershipService, auth Authorizer, metrics Metrics, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	s := &WebSocketServer{
		tracker: tracker,
		auth:    auth,
		metrics: metrics,
		opts:    opts,
		gates:   make(map[domain.RoomID]*roomGate),
		rooms:   make(map[domain.RoomID]map[domain.ParticipantID]*connection),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

type roomGate struct {
	mu   sync.Mutex
	refs int
}

// lockRoom takes the room's gate and returns its release.
func (s *WebSocketServer) lockRoom(roomID domain.RoomID) func() {
	s.gatesMu.Lock()
	g, ok := s.gates[roomID]
	if !ok {
		g = &roomGate{}
		s.gates[roomID] = g
	}
	g.refs++
	s.gatesMu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		s.gatesMu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(s.gates, roomID)
		}
		s.gatesMu.Unlock()
	}
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}

	conn, appErr := s.admit(r.Context(), ws)
	if appErr != nil {
		s.metrics.RecordJoinRejected(string(appErr.Code))
		s.logger.Infow("join rejected", "code", appErr.Code, "reason", appErr.Message)
		s.rejectAndClose(ws, appErr)
		return
	}
	s.metrics.RecordParticipantJoined(time.Since(started))

	go conn.writePump(s.opts.PingInterval, s.opts.WriteTimeout)
	s.serve(conn)
}

// admit reads the join frame and registers the connection. On success the
// roster is already queued for the joiner.
func (s *WebSocketServer) admit(ctx context.Context, ws *websocket.Conn) (*connection, *apperrors.AppError) {
	ws.SetReadDeadline(time.Now().Add(s.opts.JoinTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, apperrors.NewJoinRequiredError()
	}

	env, err := protocol.Parse(data)
	if err != nil || env.Type != protocol.TypeJoin {
		return nil, apperrors.NewJoinRequiredError()
	}
	msg, err := protocol.Decode(env)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	join := msg.(*protocol.Join)

	participant, appErr := s.participantFromJoin(join)
	if appErr != nil {
		return nil, appErr
	}

	unlock := s.lockRoom(join.Room)
	defer unlock()

	admission, err := s.tracker.Join(ctx, join.Room, participant)
	if err != nil {
		return nil, domain.ToAppError(err)
	}

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}
	conn := newConnection(ws, admission.Self, join.Room, s.opts.SendBuffer, limiter)

	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[join.Room]
	if members == nil {
		members = make(map[domain.ParticipantID]*connection)
		s.rooms[join.Room] = members
	}
	old := members[participant.ID]
	members[participant.ID] = conn
	s.metrics.SetActiveRooms(len(s.rooms))

	s.sendLocked(conn, protocol.Roster{Room: join.Room, Self: admission.Self, Participants: admission.Roster}, "")

	if admission.Replaced != nil {
		s.logger.Infow("participant reconnected, replacing connection",
			"room_id", join.Room,
			"participant_id", participant.ID,
			"old_connection_id", admission.Replaced.ConnectionID,
		)
		s.broadcastLocked(join.Room, participant.ID, protocol.PeerLeft{ParticipantID: participant.ID}, "")
		if old != nil {
			old.close()
			s.metrics.RecordParticipantLeft()
		}
	}
	s.broadcastLocked(join.Room, participant.ID, protocol.PeerJoined{Participant: admission.Self}, "")

	s.logger.Infow("participant admitted",
		"room_id", join.Room,
		"participant_id", participant.ID,
		"connection_id", admission.Self.ConnectionID,
		"role", admission.Self.Role,
		"roster_size", len(admission.Roster),
	)
	return conn, nil
}

func (s *WebSocketServer) participantFromJoin(join *protocol.Join) (domain.Participant, *apperrors.AppError) {
	if err := validation.ValidateRoomID(string(join.Room)); err != nil {
		return domain.Participant{}, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateParticipantID(string(join.ParticipantID)); err != nil {
		return domain.Participant{}, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateDisplayName(join.Name); err != nil {
		return domain.Participant{}, apperrors.NewInvalidInputError(err.Error())
	}

	participant := domain.Participant{
		ID:          join.ParticipantID,
		DisplayName: validation.SanitizeString(join.Name),
	}
	if join.Role != "" {
		role, err := domain.RoleFromInterviewRole(join.Role)
		if err != nil {
			return domain.Participant{}, apperrors.NewInvalidInputError(err.Error())
		}
		participant.Role = role
	}

	if s.opts.RequireJoinToken {
		if s.auth == nil {
			return domain.Participant{}, apperrors.NewNotEntitledError("join tokens are required but no authorizer is configured")
		}
		authorized, err := s.auth.Authorize(join.Token, join.Room, participant)
		if err != nil {
			return domain.Participant{}, apperrors.WrapError(err, apperrors.ErrCodeNotEntitled, "join not entitled", http.StatusForbidden)
		}
		participant = authorized
	}

	if !participant.Role.Valid() {
		return domain.Participant{}, apperrors.NewInvalidInputError("role is required")
	}
	return participant, nil
}

func (s *WebSocketServer) serve(conn *connection) {
	ws := conn.ws
	ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			select {
			case messageChan <- data:
			case <-conn.done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			s.handleFrame(conn, data)

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("connection lost",
					"room_id", conn.roomID,
					"participant_id", conn.participantID,
					"error", err,
				)
			}
			s.depart(conn)
			return

		case <-conn.done:
			s.depart(conn)
			return
		}
	}
}

func (s *WebSocketServer) handleFrame(conn *connection, data []byte) {
	if !conn.allow() {
		s.metrics.RecordRateLimited()
		s.sendError(conn, apperrors.NewRateLimitError(), false)
		return
	}

	env, err := protocol.Parse(data)
	if err != nil {
		s.sendError(conn, apperrors.NewInvalidInputError(err.Error()), false)
		return
	}

	ctx, span := tracing.TraceSignal(context.Background(), string(env.Type), string(conn.roomID), string(conn.participantID))
	defer span.End()

	if err := s.route(conn, env); err != nil {
		tracing.RecordError(ctx, err)
		appErr := domain.ToAppError(err)
		s.logger.Debugw("message not relayed",
			"room_id", conn.roomID,
			"participant_id", conn.participantID,
			"type", env.Type,
			"code", appErr.Code,
		)
		s.sendError(conn, appErr, false)
	}
}

func (s *WebSocketServer) route(conn *connection, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeJoin:
		return apperrors.NewConflictError("already joined")
	case protocol.TypeRoster, protocol.TypePeerJoined, protocol.TypePeerLeft, protocol.TypeError:
		return apperrors.NewInvalidInputError("message type is relay-only: " + string(env.Type))
	}
	if !protocol.Known(env.Type) {
		return apperrors.NewInvalidInputError("unknown message type: " + string(env.Type))
	}

	env.From = conn.participantID
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rooms[conn.roomID][conn.participantID] != conn {
		// Replaced by a newer connection; drop silently.
		return nil
	}

	if env.Targeted() {
		target, ok := s.rooms[conn.roomID][env.To]
		if !ok {
			s.metrics.RecordDropped("target_not_found")
			return apperrors.NewNotFoundError("participant " + string(env.To))
		}
		if !target.enqueue(data) {
			s.metrics.RecordDropped("slow_consumer")
		}
		s.metrics.RecordRelayed(string(env.Type), true)
		return nil
	}

	for id, member := range s.rooms[conn.roomID] {
		if id == conn.participantID {
			continue
		}
		if !member.enqueue(data) {
			s.metrics.RecordDropped("slow_consumer")
		}
	}
	s.metrics.RecordRelayed(string(env.Type), false)
	return nil
}

// depart removes the connection. Only the connection that still owns the
// participant slot triggers peer-left, so the notification fires once.
func (s *WebSocketServer) depart(conn *connection) {
	conn.close()

	unlock := s.lockRoom(conn.roomID)
	defer unlock()

	if _, removed := s.tracker.Leave(context.Background(), conn.roomID, conn.participantID, conn.connID); !removed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if members := s.rooms[conn.roomID]; members[conn.participantID] == conn {
		delete(members, conn.participantID)
		if len(members) == 0 {
			delete(s.rooms, conn.roomID)
		}
	}
	s.metrics.RecordParticipantLeft()
	s.metrics.SetActiveRooms(len(s.rooms))

	s.broadcastLocked(conn.roomID, conn.participantID, protocol.PeerLeft{ParticipantID: conn.participantID}, "")
	s.logger.Infow("participant left",
		"room_id", conn.roomID,
		"participant_id", conn.participantID,
		"connection_id", conn.connID,
	)
}

func (s *WebSocketServer) sendLocked(conn *connection, msg protocol.Message, from domain.ParticipantID) {
	data, err := encode(msg, from)
	if err != nil {
		s.logger.Errorw("failed to encode message", "type", msg.Type(), "error", err)
		return
	}
	conn.enqueue(data)
}

func (s *WebSocketServer) broadcastLocked(roomID domain.RoomID, exclude domain.ParticipantID, msg protocol.Message, from domain.ParticipantID) {
	data, err := encode(msg, from)
	if err != nil {
		s.logger.Errorw("failed to encode message", "type", msg.Type(), "error", err)
		return
	}
	for id, member := range s.rooms[roomID] {
		if id == exclude {
			continue
		}
		member.enqueue(data)
	}
}

func (s *WebSocketServer) sendError(conn *connection, appErr *apperrors.AppError, fatal bool) {
	data, err := encode(protocol.Error{Code: string(appErr.Code), Message: appErr.Message, Fatal: fatal}, "")
	if err != nil {
		return
	}
	conn.enqueue(data)
	if fatal {
		conn.close()
	}
}

// rejectAndClose answers a failed join directly; no write pump exists yet.
func (s *WebSocketServer) rejectAndClose(ws *websocket.Conn, appErr *apperrors.AppError) {
	defer ws.Close()
	data, err := encode(protocol.Error{Code: string(appErr.Code), Message: appErr.Message, Fatal: true}, "")
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(appErr.Code)))
}

func encode(msg protocol.Message, from domain.ParticipantID) ([]byte, error) {
	env, err := protocol.Encode(msg, "")
	if err != nil {
		return nil, err
	}
	env.From = from
	return protocol.Marshal(env)
}

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (s *WebSocketServer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Rooms: len(s.rooms)}
	for _, members := range s.rooms {
		stats.Connections += len(members)
	}
	return stats
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := s.Stats()
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// IsConnected reports whether the participant holds a live connection in the room.
func (s *WebSocketServer) IsConnected(roomID domain.RoomID, participantID domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID][participantID]
	return ok
}

// Shutdown closes every connection; each one departs through the normal path.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	conns := make([]*connection, 0)
	for _, members := range s.rooms {
		for _, c := range members {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Stats().Connections == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), errors.New("connections still open at shutdown"))
		case <-ticker.C:
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordParticipantJoined(time.Duration) {}
func (noopMetrics) RecordParticipantLeft()                {}
func (noopMetrics) SetActiveRooms(int)                    {}
func (noopMetrics) RecordRelayed(string, bool)            {}
func (noopMetrics) RecordDropped(string)                  {}
func (noopMetrics) RecordJoinRejected(string)             {}
func (noopMetrics) RecordRateLimited()                    {}
