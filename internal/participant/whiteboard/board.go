package whiteboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNothingToUndo = errors.New("no own stroke to undo")
	ErrNothingToRedo = errors.New("no undone stroke to redo")
)

type Signaler interface {
	Send(msg protocol.Message, to domain.ParticipantID) error
}

type pendingSync struct {
	requestID string
	timer     *time.Timer
	// live holds board events seen while waiting, local and remote; they are
	// applied on arrival and again on top of the reply.
	live []protocol.Message
}

// Board synchronizes one participant's Log with the rest of the room.
type Board struct {
	self        domain.ParticipantID
	log         *Log
	signaler    Signaler
	syncTimeout time.Duration
	logger      *zap.SugaredLogger
	newID       func() string
	onChange    func()

	mu      sync.Mutex
	seq     uint64
	redo    []domain.Stroke
	pending *pendingSync
}

func NewBoard(self domain.ParticipantID, signaler Signaler, syncTimeout time.Duration, logger *zap.SugaredLogger) *Board {
	return &Board{
		self:        self,
		log:         NewLog(),
		signaler:    signaler,
		syncTimeout: syncTimeout,
		logger:      logger.With("participant_id", self),
		newID:       func() string { return uuid.New().String() },
	}
}

// OnChange registers a callback run after every change to the log.
func (b *Board) OnChange(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Board) changed() {
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *Board) Snapshot() []domain.Stroke {
	return b.log.Snapshot()
}

// Commit appends a new own stroke and broadcasts it.
func (b *Board) Commit(payload json.RawMessage) (domain.Stroke, error) {
	b.mu.Lock()
	b.seq++
	stroke := domain.Stroke{
		ID:       domain.StrokeID(b.newID()),
		AuthorID: b.self,
		Payload:  payload,
		Seq:      b.seq,
	}
	b.redo = nil
	msg := &protocol.BoardStroke{Stroke: stroke, AuthorID: b.self}
	b.log.Append(stroke)
	b.recordLocked(msg)
	b.mu.Unlock()

	b.changed()
	if err := b.signaler.Send(msg, ""); err != nil {
		return stroke, fmt.Errorf("failed to broadcast stroke: %w", err)
	}
	return stroke, nil
}

// Undo removes the newest own stroke everywhere.
func (b *Board) Undo() (domain.StrokeID, error) {
	b.mu.Lock()
	stroke, ok := b.log.LastBy(b.self)
	if ok {
		_, ok = b.log.Remove(stroke.ID)
	}
	if !ok {
		b.mu.Unlock()
		return "", ErrNothingToUndo
	}
	b.redo = append(b.redo, stroke)
	msg := &protocol.BoardUndo{StrokeID: stroke.ID, AuthorID: b.self}
	b.recordLocked(msg)
	b.mu.Unlock()

	b.changed()
	if err := b.signaler.Send(msg, ""); err != nil {
		return stroke.ID, fmt.Errorf("failed to broadcast undo: %w", err)
	}
	return stroke.ID, nil
}

// Redo re-commits the most recently undone own stroke under its original id.
func (b *Board) Redo() (domain.Stroke, error) {
	b.mu.Lock()
	if len(b.redo) == 0 {
		b.mu.Unlock()
		return domain.Stroke{}, ErrNothingToRedo
	}
	stroke := b.redo[len(b.redo)-1]
	b.redo = b.redo[:len(b.redo)-1]
	msg := &protocol.BoardStroke{Stroke: stroke, AuthorID: b.self}
	b.log.Append(stroke)
	b.recordLocked(msg)
	b.mu.Unlock()

	b.changed()
	if err := b.signaler.Send(msg, ""); err != nil {
		return stroke, fmt.Errorf("failed to broadcast redo: %w", err)
	}
	return stroke, nil
}

// Clear empties every participant's board. It is not acknowledged.
func (b *Board) Clear() error {
	b.mu.Lock()
	b.log.Clear()
	b.redo = nil
	msg := &protocol.BoardClear{AuthorID: b.self}
	b.recordLocked(msg)
	b.mu.Unlock()

	b.changed()
	if err := b.signaler.Send(msg, ""); err != nil {
		return fmt.Errorf("failed to broadcast clear: %w", err)
	}
	return nil
}

// recordLocked keeps a local event for replay over a pending sync reply.
func (b *Board) recordLocked(msg protocol.Message) {
	if b.pending != nil {
		b.pending.live = append(b.pending.live, msg)
	}
}

// RequestSync asks the room for its history. Nothing is sent when the
// roster is empty; it reports whether a request went out.
func (b *Board) RequestSync(rosterEmpty bool) (bool, error) {
	if rosterEmpty {
		return false, nil
	}

	b.mu.Lock()
	if b.pending != nil {
		b.pending.timer.Stop()
	}
	requestID := b.newID()
	pending := &pendingSync{requestID: requestID}
	pending.timer = time.AfterFunc(b.syncTimeout, func() { b.expire(pending) })
	b.pending = pending
	b.mu.Unlock()

	b.logger.Debugw("requesting board sync", "request_id", requestID)
	if err := b.signaler.Send(&protocol.BoardSyncRequest{RequesterID: b.self, RequestID: requestID}, ""); err != nil {
		b.expire(pending)
		return false, fmt.Errorf("failed to send sync request: %w", err)
	}
	return true, nil
}

func (b *Board) expire(p *pendingSync) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != p {
		return
	}
	p.timer.Stop()
	b.pending = nil
	b.logger.Infow("board sync abandoned", "request_id", p.requestID)
}

// Syncing reports whether a sync request is waiting for its reply.
func (b *Board) Syncing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// HandleSyncRequest answers a peer's request with the local history, unless
// the local log is empty.
func (b *Board) HandleSyncRequest(req *protocol.BoardSyncRequest) error {
	if req.RequesterID == b.self {
		return nil
	}
	return b.ProvideSync(req.RequesterID, req.RequestID)
}

func (b *Board) ProvideSync(target domain.ParticipantID, requestID string) error {
	strokes := b.log.Snapshot()
	if len(strokes) == 0 {
		return nil
	}
	reply := &protocol.BoardSyncReply{TargetID: target, RequestID: requestID, Strokes: strokes}
	if err := b.signaler.Send(reply, target); err != nil {
		return fmt.Errorf("failed to send sync reply: %w", err)
	}
	return nil
}

// HandleSyncReply applies the first reply to the pending request. Later,
// stale or misaddressed replies are ignored; it reports whether it applied.
func (b *Board) HandleSyncReply(reply *protocol.BoardSyncReply) bool {
	b.mu.Lock()
	p := b.pending
	if p == nil || reply.TargetID != b.self || reply.RequestID != p.requestID {
		b.mu.Unlock()
		b.logger.Debugw("ignoring board sync reply", "request_id", reply.RequestID)
		return false
	}
	p.timer.Stop()
	b.pending = nil
	// Undone strokes may be gone from the room's history.
	b.redo = nil
	b.log.Replace(reply.Strokes)
	for _, msg := range p.live {
		b.applyLocked(msg)
	}
	b.mu.Unlock()

	b.logger.Debugw("board synced",
		"request_id", reply.RequestID,
		"strokes", len(reply.Strokes),
		"replayed", len(p.live),
	)
	b.changed()
	return true
}

// HandleRemote applies a stroke, undo or clear from another participant.
func (b *Board) HandleRemote(msg protocol.Message) {
	b.mu.Lock()
	b.recordLocked(msg)
	applied := b.applyLocked(msg)
	b.mu.Unlock()

	if applied {
		b.changed()
	}
}

func (b *Board) applyLocked(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.BoardStroke:
		return b.log.Append(m.Stroke)
	case *protocol.BoardUndo:
		_, ok := b.log.Remove(m.StrokeID)
		return ok
	case *protocol.BoardClear:
		b.redo = nil
		b.log.Clear()
		return true
	default:
		b.logger.Warnw("unexpected board message", "type", msg.Type())
		return false
	}
}
