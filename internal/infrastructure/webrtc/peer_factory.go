package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"syncroom/internal/core/domain"
	"syncroom/internal/participant/negotiation"
	"syncroom/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

func ConfigFromSettings(cfg *config.Config) Config {
	var out Config
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

// RTCPRecorder counts RTCP feedback by kind; the prometheus collector
// satisfies it.
type RTCPRecorder interface {
	RecordRTCP(kind string)
}

var _ negotiation.PeerFactory = (*PeerFactory)(nil)

// PeerFactory builds pion peer connections for the negotiation manager.
type PeerFactory struct {
	api      *webrtc.API
	config   webrtc.Configuration
	recorder RTCPRecorder
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	rtcp  map[string]uint64
	media map[domain.ParticipantID]uint64
}

func NewPeerFactory(cfg Config, recorder RTCPRecorder, logger *zap.SugaredLogger) (*PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		recorder: recorder,
		logger:   logger,
		rtcp:     make(map[string]uint64),
		media:    make(map[domain.ParticipantID]uint64),
	}, nil
}

func (f *PeerFactory) NewPeer(remote domain.ParticipantID) (negotiation.Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peer{pc: pc, remote: remote, factory: f}
	pc.OnTrack(p.handleRemoteTrack)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.logger.Debugw("ICE connection state changed",
			"remote_id", remote,
			"ice_state", state,
		)
	})
	return p, nil
}

// RTCPStats returns feedback counts received on outbound senders.
func (f *PeerFactory) RTCPStats() map[string]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64, len(f.rtcp))
	for k, v := range f.rtcp {
		out[k] = v
	}
	return out
}

// ReceivedPackets returns the number of RTP packets received from remote.
func (f *PeerFactory) ReceivedPackets(remote domain.ParticipantID) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.media[remote]
}

func (f *PeerFactory) countRTCP(packets []rtcp.Packet) {
	kinds := classifyRTCP(packets)
	f.mu.Lock()
	for _, kind := range kinds {
		f.rtcp[kind]++
	}
	f.mu.Unlock()

	if f.recorder != nil {
		for _, kind := range kinds {
			f.recorder.RecordRTCP(kind)
		}
	}
}

func classifyRTCP(packets []rtcp.Packet) []string {
	kinds := make([]string, 0, len(packets))
	for _, packet := range packets {
		switch packet.(type) {
		case *rtcp.PictureLossIndication:
			kinds = append(kinds, "pli")
		case *rtcp.FullIntraRequest:
			kinds = append(kinds, "fir")
		case *rtcp.TransportLayerNack:
			kinds = append(kinds, "nack")
		case *rtcp.ReceiverReport:
			kinds = append(kinds, "receiver_report")
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			kinds = append(kinds, "remb")
		default:
			kinds = append(kinds, "other")
		}
	}
	return kinds
}

// peer adapts *webrtc.PeerConnection to negotiation.Peer.
type peer struct {
	pc      *webrtc.PeerConnection
	remote  domain.ParticipantID
	factory *PeerFactory
}

func (p *peer) AddTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (negotiation.Sender, error) {
	var sender *webrtc.RTPSender
	if track != nil {
		s, err := p.pc.AddTrack(track)
		if err != nil {
			return nil, err
		}
		sender = s
	} else {
		tr, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return nil, err
		}
		sender = tr.Sender()
	}
	go p.drainRTCP(sender)
	return sender, nil
}

// drainRTCP reads feedback for one sender until the connection closes.
// Unread RTCP would stall the interceptors.
func (p *peer) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.factory.logger.Debugw("RTCP read ended", "remote_id", p.remote, "error", err)
			}
			return
		}
		p.factory.countRTCP(packets)
	}
}

func (p *peer) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p.factory.logger.Infow("receiving remote track",
		"remote_id", p.remote,
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	// Media is not rendered here; packets are read so the receive buffers
	// keep flowing and are counted.
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		p.factory.mu.Lock()
		p.factory.media[p.remote]++
		p.factory.mu.Unlock()
	}
}

func (p *peer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.factory.logger.Infow("peer connection state changed",
			"remote_id", p.remote,
			"connection_state", state,
		)
		fn(state)
	})
}

func (p *peer) Close() error {
	return p.pc.Close()
}
