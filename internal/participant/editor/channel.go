package editor

import (
	"fmt"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"go.uber.org/zap"
)

type Signaler interface {
	Send(msg protocol.Message, to domain.ParticipantID) error
}

// Channel shares the code editor document. Local edits are coalesced and
// broadcast at most once per debounce interval; the latest snapshot wins.
type Channel struct {
	self     domain.ParticipantID
	signaler Signaler
	debounce time.Duration
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	current  domain.EditorSnapshot
	dirty    bool
	timer    *time.Timer
	closed   bool
	onUpdate func(domain.EditorSnapshot)
	onResult func(output string, author domain.ParticipantID)
}

func NewChannel(self domain.ParticipantID, signaler Signaler, debounce time.Duration, logger *zap.SugaredLogger) *Channel {
	return &Channel{
		self:     self,
		signaler: signaler,
		debounce: debounce,
		logger:   logger.With("participant_id", self),
	}
}

// OnUpdate registers a callback for snapshots received from other participants.
func (c *Channel) OnUpdate(fn func(domain.EditorSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// OnResult registers a callback for execution output shared by others.
func (c *Channel) OnResult(fn func(output string, author domain.ParticipantID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

func (c *Channel) Snapshot() domain.EditorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Edit records a local change. The broadcast happens when the debounce
// window that the first pending edit opened elapses.
func (c *Channel) Edit(content, language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.current = domain.EditorSnapshot{
		Content:  content,
		Language: language,
		AuthorID: c.self,
		Revision: c.current.Revision + 1,
	}
	c.dirty = true
	if c.timer == nil {
		c.timer = time.AfterFunc(c.debounce, func() {
			if err := c.Flush(); err != nil {
				c.logger.Warnw("failed to broadcast editor update", "error", err)
			}
		})
	}
}

// Flush broadcasts a pending local edit immediately.
func (c *Channel) Flush() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	c.dirty = false
	snap := c.current
	c.mu.Unlock()

	return c.signaler.Send(toUpdate(snap), "")
}

// HandleUpdate applies a remote snapshot. Updates authored by this
// participant are echoes and are ignored; it reports whether it applied.
func (c *Channel) HandleUpdate(msg *protocol.EditorUpdate) bool {
	if msg.AuthorID == c.self {
		return false
	}

	c.mu.Lock()
	// The remote write is newer than anything still pending here.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.dirty = false
	c.current = domain.EditorSnapshot{
		Content:  msg.Content,
		Language: msg.Language,
		AuthorID: msg.AuthorID,
		Revision: msg.Revision,
	}
	snap := c.current
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

// PublishResult shares the output of running the current code.
func (c *Channel) PublishResult(output string) error {
	if err := c.signaler.Send(&protocol.EditorResult{Output: output, AuthorID: c.self}, ""); err != nil {
		return fmt.Errorf("failed to broadcast editor result: %w", err)
	}
	return nil
}

func (c *Channel) HandleResult(msg *protocol.EditorResult) bool {
	if msg.AuthorID == c.self {
		return false
	}
	c.mu.Lock()
	fn := c.onResult
	c.mu.Unlock()
	if fn != nil {
		fn(msg.Output, msg.AuthorID)
	}
	return true
}

// PeerJoined sends the current document to a newcomer when this participant
// authored it.
func (c *Channel) PeerJoined(newcomer domain.ParticipantID) error {
	c.mu.Lock()
	snap := c.current
	c.mu.Unlock()

	if snap.AuthorID != c.self || snap.Revision == 0 {
		return nil
	}
	return c.signaler.Send(toUpdate(snap), newcomer)
}

// Close flushes a pending edit and stops the channel.
func (c *Channel) Close() error {
	err := c.Flush()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func toUpdate(s domain.EditorSnapshot) *protocol.EditorUpdate {
	return &protocol.EditorUpdate{
		Content:  s.Content,
		Language: s.Language,
		AuthorID: s.AuthorID,
		Revision: s.Revision,
	}
}
