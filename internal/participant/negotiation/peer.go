package negotiation

import (
	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"github.com/pion/webrtc/v3"
)

// Sender is one outbound RTP slot. *webrtc.RTPSender satisfies it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// Peer is a single peer connection to one remote participant.
type Peer interface {
	// AddTrack adds a send slot of the given kind. A nil track reserves the
	// slot so a track can be swapped in later without renegotiating.
	AddTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (Sender, error)
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// OnICECandidate is called for each gathered local candidate.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

type PeerFactory interface {
	NewPeer(remote domain.ParticipantID) (Peer, error)
}

// Signaler delivers a message through the relay; an empty `to` broadcasts.
type Signaler interface {
	Send(msg protocol.Message, to domain.ParticipantID) error
}
