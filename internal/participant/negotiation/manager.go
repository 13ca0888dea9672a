package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"
	"syncroom/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrManagerClosed = errors.New("negotiation manager closed")

// Options tune a Manager. Callbacks run outside the manager lock.
type Options struct {
	Timeout       time.Duration
	OnStateChange func(remote domain.ParticipantID, state domain.NegotiationState)
	// OnUnavailable reports that video from remote is gone for good.
	OnUnavailable func(remote domain.ParticipantID)
}

// PeerLink is the negotiation state for one remote participant.
type PeerLink struct {
	remote    domain.ParticipantID
	peer      Peer
	initiator bool
	state     domain.NegotiationState
	restarted bool
	// recovering is set while an ICE restart is in flight. A failure in
	// that window gives the link up; reaching connected clears it.
	recovering bool
	// remoteSet flips once a remote description is applied; candidates
	// arriving earlier wait in pending.
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	timer     *time.Timer
}

// Manager runs one PeerLink per remote participant. The participant that
// arrives later always offers; the existing member always answers.
type Manager struct {
	self     domain.ParticipantID
	factory  PeerFactory
	signaler Signaler
	media    *MediaSource
	opts     Options
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	links       map[domain.ParticipantID]*PeerLink
	early       map[domain.ParticipantID][]webrtc.ICECandidateInit
	unavailable map[domain.ParticipantID]bool
	closed      bool
	deferred    []func()
}

func NewManager(
	self domain.ParticipantID,
	factory PeerFactory,
	signaler Signaler,
	media *MediaSource,
	opts Options,
	logger *zap.SugaredLogger,
) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		self:        self,
		factory:     factory,
		signaler:    signaler,
		media:       media,
		opts:        opts,
		logger:      logger.With("participant_id", self),
		ctx:         ctx,
		cancel:      cancel,
		links:       make(map[domain.ParticipantID]*PeerLink),
		early:       make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
		unavailable: make(map[domain.ParticipantID]bool),
	}
}

func (m *Manager) lock() {
	m.mu.Lock()
}

// unlock releases the lock and then runs the callbacks queued while it was held.
func (m *Manager) unlock() {
	fns := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) setStateLocked(link *PeerLink, state domain.NegotiationState) {
	if link.state == state {
		return
	}
	m.logger.Debugw("link state changed",
		"remote_id", link.remote,
		"from", link.state,
		"to", state,
	)
	link.state = state
	if cb := m.opts.OnStateChange; cb != nil {
		remote := link.remote
		m.deferred = append(m.deferred, func() { cb(remote, state) })
	}
}

// Initiate opens a link to an existing room member and sends the offer.
func (m *Manager) Initiate(remote domain.ParticipantID) error {
	m.lock()
	defer m.unlock()
	if m.closed {
		return ErrManagerClosed
	}

	if old, ok := m.links[remote]; ok {
		m.teardownLocked(old, domain.NegotiationClosed)
	}
	link, err := m.newLinkLocked(remote, true)
	if err != nil {
		return err
	}
	return m.offerLocked(link, false)
}

// HandleOffer answers an offer. An offer that is not an ICE restart on an
// existing link means the remote re-joined, so the old link is replaced.
func (m *Manager) HandleOffer(from domain.ParticipantID, offer *protocol.Offer) error {
	m.lock()
	defer m.unlock()
	if m.closed {
		return ErrManagerClosed
	}

	link, ok := m.links[from]
	if ok && (!offer.Restart || link.state.Terminal()) {
		m.teardownLocked(link, domain.NegotiationClosed)
		ok = false
	}
	if !ok {
		var err error
		if link, err = m.newLinkLocked(from, false); err != nil {
			return err
		}
	} else {
		link.restarted = true
		link.recovering = true
	}

	_, span := tracing.TraceNegotiation(m.ctx, "answer", string(m.self), string(from))
	defer span.End()

	m.setStateLocked(link, domain.NegotiationAnswering)
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := link.peer.SetRemoteDescription(desc); err != nil {
		span.RecordError(err)
		m.failLocked(link, fmt.Errorf("apply offer: %w", err))
		return fmt.Errorf("%w: apply offer from %s: %v", domain.ErrNegotiationFailed, from, err)
	}
	m.flushCandidatesLocked(link)

	answer, err := link.peer.CreateAnswer()
	if err != nil {
		m.failLocked(link, fmt.Errorf("create answer: %w", err))
		return fmt.Errorf("%w: answer %s: %v", domain.ErrNegotiationFailed, from, err)
	}
	m.armTimerLocked(link)
	return m.signaler.Send(&protocol.Answer{SDP: answer.SDP}, from)
}

func (m *Manager) HandleAnswer(from domain.ParticipantID, answer *protocol.Answer) error {
	m.lock()
	defer m.unlock()
	if m.closed {
		return ErrManagerClosed
	}

	link, ok := m.links[from]
	if !ok || !link.initiator || link.state != domain.NegotiationOffering {
		m.logger.Warnw("unexpected answer", "remote_id", from)
		return fmt.Errorf("%w: no pending offer to %s", domain.ErrLinkNotFound, from)
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := link.peer.SetRemoteDescription(desc); err != nil {
		m.failLocked(link, fmt.Errorf("apply answer: %w", err))
		return fmt.Errorf("%w: apply answer from %s: %v", domain.ErrNegotiationFailed, from, err)
	}
	m.flushCandidatesLocked(link)
	return nil
}

// HandleCandidate applies a remote candidate, or buffers it until the remote
// description is known. Candidates may arrive before any link exists.
func (m *Manager) HandleCandidate(from domain.ParticipantID, candidate webrtc.ICECandidateInit) {
	m.lock()
	defer m.unlock()
	if m.closed {
		return
	}

	link, ok := m.links[from]
	if !ok || link.state.Terminal() {
		m.early[from] = append(m.early[from], candidate)
		return
	}
	if !link.remoteSet {
		link.pending = append(link.pending, candidate)
		return
	}
	if err := link.peer.AddICECandidate(candidate); err != nil {
		m.logger.Warnw("failed to add ICE candidate", "remote_id", from, "error", err)
	}
}

// HandlePeerLeft closes the link to a participant that left the room.
func (m *Manager) HandlePeerLeft(remote domain.ParticipantID) {
	m.lock()
	defer m.unlock()

	delete(m.early, remote)
	delete(m.unavailable, remote)
	if link, ok := m.links[remote]; ok {
		m.teardownLocked(link, domain.NegotiationClosed)
	}
}

// Reset closes every link but keeps the manager usable, e.g. across a
// signaling reconnect.
func (m *Manager) Reset() {
	m.lock()
	defer m.unlock()
	m.resetLocked()
}

// Close cancels all in-flight negotiations. The manager is unusable after.
func (m *Manager) Close() {
	m.lock()
	defer m.unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	for _, link := range m.links {
		m.teardownLocked(link, domain.NegotiationClosed)
	}
	m.early = make(map[domain.ParticipantID][]webrtc.ICECandidateInit)
	m.unavailable = make(map[domain.ParticipantID]bool)
}

func (m *Manager) State(remote domain.ParticipantID) (domain.NegotiationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[remote]
	if !ok {
		return "", false
	}
	return link.state, true
}

// LinkStatus is a read-only view of one link.
type LinkStatus struct {
	Remote      domain.ParticipantID
	State       domain.NegotiationState
	Initiator   bool
	Restarted   bool
	Unavailable bool
}

func (m *Manager) Links() []LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LinkStatus, 0, len(m.links))
	for remote, link := range m.links {
		out = append(out, LinkStatus{
			Remote:      remote,
			State:       link.state,
			Initiator:   link.initiator,
			Restarted:   link.restarted,
			Unavailable: m.unavailable[remote],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (m *Manager) Unavailable(remote domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavailable[remote]
}

func (m *Manager) newLinkLocked(remote domain.ParticipantID, initiator bool) (*PeerLink, error) {
	peer, err := m.factory.NewPeer(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer for %s: %w", remote, err)
	}
	if m.media != nil {
		if err := m.media.Attach(remote, peer); err != nil {
			_ = peer.Close()
			return nil, err
		}
	}

	link := &PeerLink{
		remote:    remote,
		peer:      peer,
		initiator: initiator,
		state:     domain.NegotiationIdle,
		pending:   m.early[remote],
	}
	delete(m.early, remote)
	delete(m.unavailable, remote)
	m.links[remote] = link

	peer.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.sendCandidate(link, c)
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.onConnectionState(link, state)
	})
	return link, nil
}

func (m *Manager) offerLocked(link *PeerLink, restart bool) error {
	op := "offer"
	if restart {
		op = "restart"
	}
	_, span := tracing.TraceNegotiation(m.ctx, op, string(m.self), string(link.remote))
	defer span.End()

	m.setStateLocked(link, domain.NegotiationOffering)
	if restart {
		// A restart negotiates a fresh remote description.
		link.remoteSet = false
	}
	offer, err := link.peer.CreateOffer(restart)
	if err != nil {
		m.failLocked(link, fmt.Errorf("create offer: %w", err))
		return fmt.Errorf("%w: offer %s: %v", domain.ErrNegotiationFailed, link.remote, err)
	}
	m.armTimerLocked(link)
	return m.signaler.Send(&protocol.Offer{SDP: offer.SDP, Restart: restart}, link.remote)
}

func (m *Manager) flushCandidatesLocked(link *PeerLink) {
	link.remoteSet = true
	pending := link.pending
	link.pending = nil
	for _, c := range pending {
		if err := link.peer.AddICECandidate(c); err != nil {
			m.logger.Warnw("failed to apply buffered ICE candidate",
				"remote_id", link.remote,
				"error", err,
			)
		}
	}
}

func (m *Manager) sendCandidate(link *PeerLink, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	current := !m.closed && m.links[link.remote] == link && !link.state.Terminal()
	m.mu.Unlock()
	if !current {
		return
	}
	if err := m.signaler.Send(&protocol.ICECandidate{Candidate: c}, link.remote); err != nil {
		m.logger.Debugw("failed to send ICE candidate", "remote_id", link.remote, "error", err)
	}
}

func (m *Manager) onConnectionState(link *PeerLink, state webrtc.PeerConnectionState) {
	m.lock()
	defer m.unlock()
	if m.closed || m.links[link.remote] != link || link.state.Terminal() {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.stopTimerLocked(link)
		link.recovering = false
		m.setStateLocked(link, domain.NegotiationConnected)
	case webrtc.PeerConnectionStateFailed:
		m.failLocked(link, errors.New("transport failed"))
	}
}

func (m *Manager) armTimerLocked(link *PeerLink) {
	m.stopTimerLocked(link)
	var timer *time.Timer
	timer = time.AfterFunc(m.opts.Timeout, func() {
		m.lock()
		defer m.unlock()
		if link.timer != timer || m.links[link.remote] != link || link.state.Terminal() {
			return
		}
		m.failLocked(link, errors.New("negotiation timed out"))
	})
	link.timer = timer
}

func (m *Manager) stopTimerLocked(link *PeerLink) {
	if link.timer != nil {
		link.timer.Stop()
		link.timer = nil
	}
}

// failLocked applies the failure policy: a failure restarts once, and a
// second failure before the link reconnects gives it up.
func (m *Manager) failLocked(link *PeerLink, cause error) {
	if m.closed {
		return
	}
	if !link.recovering {
		link.restarted = true
		link.recovering = true
		m.logger.Warnw("link failed, restarting",
			"remote_id", link.remote,
			"initiator", link.initiator,
			"error", cause,
		)
		if link.initiator {
			if err := m.offerLocked(link, true); err != nil {
				m.logger.Warnw("failed to send restart offer", "remote_id", link.remote, "error", err)
			}
			return
		}
		// The answerer waits for the restart offer.
		link.remoteSet = false
		m.setStateLocked(link, domain.NegotiationAnswering)
		m.armTimerLocked(link)
		return
	}

	m.logger.Errorw("link failed, video unavailable",
		"remote_id", link.remote,
		"error", cause,
	)
	m.teardownLocked(link, domain.NegotiationFailed)
	m.unavailable[link.remote] = true
	if cb := m.opts.OnUnavailable; cb != nil {
		remote := link.remote
		m.deferred = append(m.deferred, func() { cb(remote) })
	}
}

// teardownLocked closes the peer. Failed links stay visible in Links; closed
// ones are dropped.
func (m *Manager) teardownLocked(link *PeerLink, final domain.NegotiationState) {
	m.stopTimerLocked(link)
	link.pending = nil
	if m.media != nil {
		m.media.Detach(link.remote)
	}
	if err := link.peer.Close(); err != nil {
		m.logger.Debugw("failed to close peer", "remote_id", link.remote, "error", err)
	}
	m.setStateLocked(link, final)
	if final == domain.NegotiationClosed && m.links[link.remote] == link {
		delete(m.links, link.remote)
	}
}
