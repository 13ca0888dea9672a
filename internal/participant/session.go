package participant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/participant/editor"
	"syncroom/internal/participant/negotiation"
	"syncroom/internal/participant/viewfollow"
	"syncroom/internal/participant/whiteboard"
	"syncroom/internal/protocol"
	"syncroom/pkg/retry"

	"go.uber.org/zap"
)

var (
	// ErrJoinRejected is matched by every RejectedError.
	ErrJoinRejected = errors.New("join rejected")
	ErrNotConnected = errors.New("not connected to relay")
	ErrJoinTimeout  = errors.New("timed out waiting for roster")
)

// RejectedError carries the relay's reason for refusing a join. Rejections
// are never retried.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s: %s", e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrJoinRejected
}

// Transport is one signaling connection. *signal.Client satisfies it.
type Transport interface {
	Send(env *protocol.Envelope) error
	// Incoming is closed when the connection ends.
	Incoming() <-chan *protocol.Envelope
	Done() <-chan struct{}
	Close() error
}

type Dialer func(ctx context.Context) (Transport, error)

// Hooks are optional observers. They run on lane or reader goroutines.
type Hooks struct {
	RosterChanged    func(roster []domain.Participant)
	LinkStateChanged func(remote domain.ParticipantID, state domain.NegotiationState)
	VideoUnavailable func(remote domain.ParticipantID)
	Reconnected      func(reconnects int)
}

type Config struct {
	Room  domain.RoomID
	Self  domain.Participant
	Token string

	JoinTimeout        time.Duration
	NegotiationTimeout time.Duration
	SyncTimeout        time.Duration
	EditorDebounce     time.Duration
	Reconnect          retry.Config

	Hooks Hooks
}

const (
	laneMedia  = "media"
	laneBoard  = "board"
	laneEditor = "editor"
	laneView   = "view"
)

// Session is one participant's presence in a room. It multiplexes the
// signaling connection into independent media, board, editor and view lanes
// and rejoins after a lost connection.
type Session struct {
	cfg    Config
	dial   Dialer
	logger *zap.SugaredLogger

	media       *negotiation.MediaSource
	negotiation *negotiation.Manager
	board       *whiteboard.Board
	editor      *editor.Channel
	lanes       map[string]*lane

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	mu        sync.RWMutex
	transport Transport
	epoch     uint64
	self      domain.Participant
	roster    map[domain.ParticipantID]domain.Participant
	view      *viewfollow.Controller
}

func New(cfg Config, dial Dialer, peers negotiation.PeerFactory, media *negotiation.MediaSource, logger *zap.SugaredLogger) *Session {
	logger = logger.With("room_id", cfg.Room, "participant_id", cfg.Self.ID)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		media:  media,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		self:   cfg.Self,
		roster: make(map[domain.ParticipantID]domain.Participant),
		lanes: map[string]*lane{
			laneMedia:  newLane(laneMedia),
			laneBoard:  newLane(laneBoard),
			laneEditor: newLane(laneEditor),
			laneView:   newLane(laneView),
		},
	}

	s.negotiation = negotiation.NewManager(cfg.Self.ID, peers, s, media, negotiation.Options{
		Timeout:       cfg.NegotiationTimeout,
		OnStateChange: cfg.Hooks.LinkStateChanged,
		OnUnavailable: s.videoUnavailable,
	}, logger)
	s.board = whiteboard.NewBoard(cfg.Self.ID, s, cfg.SyncTimeout, logger)
	s.editor = editor.NewChannel(cfg.Self.ID, s, cfg.EditorDebounce, logger)
	return s
}

func (s *Session) Negotiation() *negotiation.Manager { return s.negotiation }
func (s *Session) Media() *negotiation.MediaSource   { return s.media }
func (s *Session) Board() *whiteboard.Board          { return s.board }
func (s *Session) Editor() *editor.Channel           { return s.editor }

// View is nil until the first join settles the local role.
func (s *Session) View() *viewfollow.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

func (s *Session) Self() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Session) Roster() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Session) roleOf(id domain.ParticipantID) (domain.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roster[id]
	return p.Role, ok
}

// Done is closed when the session ends for good.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended; nil after a normal Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Join connects, waits for the roster and starts the session. A rejected
// join returns an error matching ErrJoinRejected.
func (s *Session) Join(ctx context.Context) error {
	joined := false
	var err error
	s.startOnce.Do(func() {
		var t Transport
		var roster *protocol.Roster
		t, roster, err = s.connectWithRetry(ctx)
		if err != nil {
			s.finish(err)
			return
		}
		for _, l := range s.lanes {
			go l.run(s.ctx)
		}
		s.admit(t, roster)
		go s.run(t)
		joined = true
	})
	if err != nil {
		return err
	}
	if !joined {
		return errors.New("session already started")
	}
	return nil
}

// Send delivers a message through the relay; an empty `to` broadcasts.
func (s *Session) Send(msg protocol.Message, to domain.ParticipantID) error {
	env, err := protocol.Encode(msg, to)
	if err != nil {
		return err
	}
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(env)
}

// Close leaves the room. A pending editor change is flushed first and every
// in-flight negotiation is cancelled.
func (s *Session) Close() error {
	if err := s.editor.Close(); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Debugw("failed to flush editor on close", "error", err)
	}
	s.finish(nil)
	return nil
}

func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		s.negotiation.Close()
		s.cancel()

		s.mu.Lock()
		t := s.transport
		s.transport = nil
		s.mu.Unlock()
		if t != nil {
			t.Close()
		}
		close(s.done)

		if err != nil {
			s.logger.Errorw("session ended", "error", err)
		} else {
			s.logger.Infow("left room")
		}
	})
}

func (s *Session) connectWithRetry(ctx context.Context) (Transport, *protocol.Roster, error) {
	type admission struct {
		t      Transport
		roster *protocol.Roster
	}

	cfg := s.cfg.Reconnect
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Warnw("connecting to relay failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	a, err := retry.RetryWithResult(ctx, cfg, func() (admission, error) {
		t, roster, err := s.connect(ctx)
		if errors.Is(err, ErrJoinRejected) {
			return admission{}, retry.Permanent(err)
		}
		return admission{t: t, roster: roster}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return a.t, a.roster, nil
}

// connect dials and performs the join handshake.
func (s *Session) connect(ctx context.Context) (Transport, *protocol.Roster, error) {
	t, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	join := &protocol.Join{
		Room:          s.cfg.Room,
		ParticipantID: s.cfg.Self.ID,
		Name:          s.cfg.Self.DisplayName,
		Role:          string(s.cfg.Self.Role),
		Token:         s.cfg.Token,
	}
	env, err := protocol.Encode(join, "")
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	if err := t.Send(env); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("failed to send join: %w", err)
	}

	timeout := s.cfg.JoinTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env, ok := <-t.Incoming():
		if !ok {
			t.Close()
			return nil, nil, errors.New("relay closed the connection during join")
		}
		msg, err := protocol.Decode(env)
		if err != nil {
			t.Close()
			return nil, nil, err
		}
		switch m := msg.(type) {
		case *protocol.Roster:
			return t, m, nil
		case *protocol.Error:
			t.Close()
			if m.Fatal {
				return nil, nil, &RejectedError{Code: m.Code, Message: m.Message}
			}
			return nil, nil, m
		default:
			t.Close()
			return nil, nil, fmt.Errorf("unexpected %s before roster", env.Type)
		}
	case <-timer.C:
		t.Close()
		return nil, nil, ErrJoinTimeout
	case <-ctx.Done():
		t.Close()
		return nil, nil, ctx.Err()
	}
}

// admit installs a fresh connection: the roster is replaced, this
// participant offers to every existing member and asks for the board.
func (s *Session) admit(t Transport, roster *protocol.Roster) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.transport = t
	s.self = roster.Self
	s.roster = make(map[domain.ParticipantID]domain.Participant, len(roster.Participants))
	for _, p := range roster.Participants {
		s.roster[p.ID] = p
	}
	if s.view == nil {
		s.view = viewfollow.NewController(s.cfg.Self.ID, roster.Self.Role, s, s.roleOf, s.logger)
	}
	members := s.rosterLocked()
	s.mu.Unlock()

	s.logger.Infow("joined room",
		"role", roster.Self.Role,
		"connection_id", roster.Self.ConnectionID,
		"roster_size", len(members),
	)
	s.rosterChanged()

	for _, p := range members {
		remote := p.ID
		s.onLane(laneMedia, epoch, func() {
			if err := s.negotiation.Initiate(remote); err != nil {
				s.logger.Warnw("failed to initiate link", "remote_id", remote, "error", err)
			}
		})
	}
	s.onLane(laneBoard, epoch, func() {
		if _, err := s.board.RequestSync(len(members) == 0); err != nil {
			s.logger.Warnw("failed to request board sync", "error", err)
		}
	})
}

// onLane queues fn on a lane; it is skipped if the connection it belongs to
// has been replaced by the time it runs.
func (s *Session) onLane(name string, epoch uint64, fn func()) {
	s.lanes[name].push(func() {
		s.mu.RLock()
		current := s.epoch == epoch
		s.mu.RUnlock()
		if current {
			fn()
		}
	})
}

func (s *Session) run(t Transport) {
	for {
		s.read(t)
		if s.ctx.Err() != nil {
			s.finish(nil)
			return
		}

		s.logger.Warnw("lost connection to relay, reconnecting")
		s.mu.Lock()
		if s.transport == t {
			s.transport = nil
		}
		s.roster = make(map[domain.ParticipantID]domain.Participant)
		s.mu.Unlock()
		s.negotiation.Reset()
		s.rosterChanged()

		next, roster, err := s.connectWithRetry(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(nil)
			} else {
				s.finish(fmt.Errorf("reconnect failed: %w", err))
			}
			return
		}
		s.admit(next, roster)
		if fn := s.cfg.Hooks.Reconnected; fn != nil {
			fn(int(s.currentEpoch()) - 1)
		}
		t = next
	}
}

func (s *Session) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Session) read(t Transport) {
	epoch := s.currentEpoch()
	for {
		select {
		case <-s.ctx.Done():
			return
		case env, ok := <-t.Incoming():
			if !ok {
				return
			}
			s.dispatch(env, epoch)
		}
	}
}

// dispatch routes one message to its lane. Membership changes update the
// roster mirror before anything is queued.
func (s *Session) dispatch(env *protocol.Envelope, epoch uint64) {
	msg, err := protocol.Decode(env)
	if err != nil {
		s.logger.Warnw("dropping undecodable message", "type", env.Type, "error", err)
		return
	}
	from := env.From

	switch m := msg.(type) {
	case *protocol.PeerJoined:
		s.memberJoined(m.Participant)
		id := m.Participant.ID
		s.onLane(laneEditor, epoch, func() {
			if err := s.editor.PeerJoined(id); err != nil {
				s.logger.Warnw("failed to send editor snapshot", "remote_id", id, "error", err)
			}
		})
		s.onLane(laneView, epoch, func() {
			if view := s.View(); view != nil {
				if err := view.PeerJoined(id); err != nil {
					s.logger.Warnw("failed to send view", "remote_id", id, "error", err)
				}
			}
		})
	case *protocol.PeerLeft:
		s.memberLeft(m.ParticipantID)
		id := m.ParticipantID
		s.onLane(laneMedia, epoch, func() { s.negotiation.HandlePeerLeft(id) })

	case *protocol.Offer:
		s.onLane(laneMedia, epoch, func() {
			if err := s.negotiation.HandleOffer(from, m); err != nil {
				s.logger.Warnw("failed to handle offer", "remote_id", from, "error", err)
			}
		})
	case *protocol.Answer:
		s.onLane(laneMedia, epoch, func() {
			if err := s.negotiation.HandleAnswer(from, m); err != nil {
				s.logger.Warnw("failed to handle answer", "remote_id", from, "error", err)
			}
		})
	case *protocol.ICECandidate:
		s.onLane(laneMedia, epoch, func() { s.negotiation.HandleCandidate(from, m.Candidate) })

	case *protocol.BoardStroke, *protocol.BoardUndo, *protocol.BoardClear:
		s.lanes[laneBoard].push(func() { s.board.HandleRemote(msg) })
	case *protocol.BoardSyncRequest:
		s.onLane(laneBoard, epoch, func() {
			if err := s.board.HandleSyncRequest(m); err != nil {
				s.logger.Warnw("failed to answer board sync", "remote_id", from, "error", err)
			}
		})
	case *protocol.BoardSyncReply:
		s.lanes[laneBoard].push(func() { s.board.HandleSyncReply(m) })

	case *protocol.EditorUpdate:
		s.lanes[laneEditor].push(func() { s.editor.HandleUpdate(m) })
	case *protocol.EditorResult:
		s.lanes[laneEditor].push(func() { s.editor.HandleResult(m) })

	case *protocol.ViewChange:
		s.lanes[laneView].push(func() {
			if view := s.View(); view != nil {
				view.HandleViewChange(from, m)
			}
		})

	case *protocol.Error:
		s.logger.Warnw("relay reported an error", "code", m.Code, "message", m.Message, "fatal", m.Fatal)
	default:
		s.logger.Debugw("ignoring message", "type", env.Type)
	}
}

func (s *Session) memberJoined(p domain.Participant) {
	s.mu.Lock()
	s.roster[p.ID] = p
	s.mu.Unlock()
	s.logger.Infow("participant joined", "remote_id", p.ID, "role", p.Role)
	s.rosterChanged()
}

func (s *Session) memberLeft(id domain.ParticipantID) {
	s.mu.Lock()
	delete(s.roster, id)
	s.mu.Unlock()
	s.logger.Infow("participant left", "remote_id", id)
	s.rosterChanged()
}

func (s *Session) rosterChanged() {
	if fn := s.cfg.Hooks.RosterChanged; fn != nil {
		fn(s.Roster())
	}
}

func (s *Session) videoUnavailable(remote domain.ParticipantID) {
	s.logger.Warnw("participant video unavailable", "remote_id", remote)
	if fn := s.cfg.Hooks.VideoUnavailable; fn != nil {
		fn(remote)
	}
}
