package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
	fail  error
	swaps int
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil && track != nil {
		return s.fail
	}
	s.track = track
	s.swaps++
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakePeer struct {
	remote domain.ParticipantID

	mu         sync.Mutex
	senders    map[webrtc.RTPCodecType]*fakeSender
	events     []string
	offers     []bool
	answers    int
	candidates []string
	closed     bool
	badCand    string
	onCand     func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: track}
	p.senders[kind] = s
	return s, nil
}

func (p *fakePeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, iceRestart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer %d", len(p.offers))}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "remote:"+desc.Type.String())
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Candidate == p.badCand {
		return errors.New("malformed candidate")
	}
	p.events = append(p.events, "candidate:"+c.Candidate)
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCand = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fire(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeer) gather(candidate string) {
	p.mu.Lock()
	fn := p.onCand
	p.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *fakePeer) snapshot() (events []string, offers []bool, answers int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...), append([]bool(nil), p.offers...), p.answers, p.closed
}

func (p *fakePeer) isClosed() bool {
	_, _, _, closed := p.snapshot()
	return closed
}

type fakeFactory struct {
	mu      sync.Mutex
	peers   map[domain.ParticipantID][]*fakePeer
	badCand string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{peers: make(map[domain.ParticipantID][]*fakePeer)}
}

func (f *fakeFactory) NewPeer(remote domain.ParticipantID) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{remote: remote, senders: make(map[webrtc.RTPCodecType]*fakeSender), badCand: f.badCand}
	f.peers[remote] = append(f.peers[remote], p)
	return p, nil
}

func (f *fakeFactory) last(t *testing.T, remote domain.ParticipantID) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	peers := f.peers[remote]
	require.NotEmpty(t, peers, "no peer created for %s", remote)
	return peers[len(peers)-1]
}

func (f *fakeFactory) count(remote domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers[remote])
}

type sentMessage struct {
	msg protocol.Message
	to  domain.ParticipantID
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSignaler) Send(msg protocol.Message, to domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{msg: msg, to: to})
	return nil
}

func (s *recordingSignaler) ofType(t protocol.Type) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.sent {
		if m.msg.Type() == t {
			out = append(out, m)
		}
	}
	return out
}
