package viewfollow

import (
	"sync"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"go.uber.org/zap"
)

type Signaler interface {
	Send(msg protocol.Message, to domain.ParticipantID) error
}

// RoleLookup resolves the role of a room member from the roster mirror.
type RoleLookup func(id domain.ParticipantID) (domain.Role, bool)

// Controller mirrors the driver's active view on every other participant.
// The driver is fixed by role at join time.
type Controller struct {
	self     domain.ParticipantID
	role     domain.Role
	signaler Signaler
	roleOf   RoleLookup
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	current  domain.ViewState
	onChange func(domain.ViewState)
}

func NewController(self domain.ParticipantID, role domain.Role, signaler Signaler, roleOf RoleLookup, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		self:     self,
		role:     role,
		signaler: signaler,
		roleOf:   roleOf,
		logger:   logger.With("participant_id", self),
	}
	if role == domain.RoleDriver {
		c.current.Driver = self
	}
	return c
}

func (c *Controller) OnChange(fn func(domain.ViewState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) Current() domain.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) IsDriver() bool {
	return c.role == domain.RoleDriver
}

// SetView switches the local view. Only the driver's change is broadcast;
// it reports whether a broadcast went out.
func (c *Controller) SetView(view domain.ViewID) (bool, error) {
	c.mu.Lock()
	c.current.View = view
	c.mu.Unlock()

	if !c.IsDriver() {
		return false, nil
	}
	if err := c.signaler.Send(&protocol.ViewChange{View: view}, ""); err != nil {
		return false, err
	}
	return true, nil
}

// HandleViewChange follows the driver. Changes from non-drivers, self
// receipts and changes received by the driver itself are no-ops.
func (c *Controller) HandleViewChange(from domain.ParticipantID, msg *protocol.ViewChange) bool {
	if from == c.self || c.IsDriver() {
		return false
	}
	if role, ok := c.roleOf(from); !ok || role != domain.RoleDriver {
		c.logger.Debugw("ignoring view change from non-driver", "remote_id", from, "view", msg.View)
		return false
	}

	c.mu.Lock()
	c.current = domain.ViewState{View: msg.View, Driver: from}
	snap := c.current
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

// PeerJoined brings a newcomer onto the driver's current view.
func (c *Controller) PeerJoined(newcomer domain.ParticipantID) error {
	if !c.IsDriver() {
		return nil
	}
	view := c.Current().View
	if view == "" {
		return nil
	}
	return c.signaler.Send(&protocol.ViewChange{View: view}, newcomer)
}
