package negotiation

import (
	"fmt"
	"sync"

	"syncroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type attachment struct {
	audio Sender
	video Sender
}

// MediaSource owns the outbound audio slot and the exclusive video slot
// shared by every link. All links always carry the same video source.
type MediaSource struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	audio   webrtc.TrackLocal
	sources map[domain.VideoSource]webrtc.TrackLocal
	active  domain.VideoSource
	links   map[domain.ParticipantID]*attachment
}

func NewMediaSource(audio webrtc.TrackLocal, logger *zap.SugaredLogger) *MediaSource {
	return &MediaSource{
		logger:  logger,
		audio:   audio,
		sources: make(map[domain.VideoSource]webrtc.TrackLocal),
		active:  domain.VideoNone,
		links:   make(map[domain.ParticipantID]*attachment),
	}
}

// SetSource registers the track that feeds a video source. It does not
// switch to it.
func (m *MediaSource) SetSource(source domain.VideoSource, track webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source] = track
}

func (m *MediaSource) Active() domain.VideoSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *MediaSource) videoTrackLocked() webrtc.TrackLocal {
	if m.active == domain.VideoNone {
		return nil
	}
	return m.sources[m.active]
}

// Attach adds the audio and video slots to a new peer.
func (m *MediaSource) Attach(remote domain.ParticipantID, peer Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	audio, err := peer.AddTrack(webrtc.RTPCodecTypeAudio, m.audio)
	if err != nil {
		return fmt.Errorf("failed to add audio slot: %w", err)
	}
	video, err := peer.AddTrack(webrtc.RTPCodecTypeVideo, m.videoTrackLocked())
	if err != nil {
		return fmt.Errorf("failed to add video slot: %w", err)
	}
	m.links[remote] = &attachment{audio: audio, video: video}
	return nil
}

func (m *MediaSource) Detach(remote domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, remote)
}

// SwitchVideo replaces the outbound video track on every attached link
// without renegotiating. Audio is never touched. If one replacement fails the
// links already switched are put back on the previous track.
func (m *MediaSource) SwitchVideo(source domain.VideoSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if source == m.active {
		return nil
	}
	var next webrtc.TrackLocal
	if source != domain.VideoNone {
		track, ok := m.sources[source]
		if !ok {
			return fmt.Errorf("%w: no track registered for %s", domain.ErrMediaSwitchFailed, source)
		}
		next = track
	}
	previous := m.videoTrackLocked()

	switched := make([]domain.ParticipantID, 0, len(m.links))
	for remote, a := range m.links {
		if err := a.video.ReplaceTrack(next); err != nil {
			m.rollbackLocked(switched, previous)
			return fmt.Errorf("%w: link %s: %v", domain.ErrMediaSwitchFailed, remote, err)
		}
		switched = append(switched, remote)
	}

	m.logger.Infow("video source switched",
		"from", m.active,
		"to", source,
		"links", len(switched),
	)
	m.active = source
	return nil
}

func (m *MediaSource) rollbackLocked(switched []domain.ParticipantID, previous webrtc.TrackLocal) {
	for _, remote := range switched {
		if err := m.links[remote].video.ReplaceTrack(previous); err != nil {
			m.logger.Errorw("failed to roll back video track",
				"remote_id", remote,
				"error", err,
			)
		}
	}
}
