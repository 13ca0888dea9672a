package negotiation

import (
	"errors"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTrack(t *testing.T, id string, mime string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "syncroom")
	require.NoError(t, err)
	return track
}

type mediaFixture struct {
	media  *MediaSource
	audio  webrtc.TrackLocal
	camera webrtc.TrackLocal
	screen webrtc.TrackLocal
}

func newMediaFixture(t *testing.T) *mediaFixture {
	f := &mediaFixture{
		audio:  newTrack(t, "mic", webrtc.MimeTypeOpus),
		camera: newTrack(t, "camera", webrtc.MimeTypeVP8),
		screen: newTrack(t, "screen", webrtc.MimeTypeVP8),
	}
	f.media = NewMediaSource(f.audio, zap.NewNop().Sugar())
	f.media.SetSource(domain.VideoCamera, f.camera)
	f.media.SetSource(domain.VideoScreen, f.screen)
	return f
}

func TestMediaSource_SwitchKeepsAudioAndDoesNotReoffer(t *testing.T) {
	mf := newMediaFixture(t)
	require.NoError(t, mf.media.SwitchVideo(domain.VideoCamera))

	factory := newFakeFactory()
	signaler := &recordingSignaler{}
	m := NewManager("bob", factory, signaler, mf.media, Options{Timeout: time.Minute}, zap.NewNop().Sugar())
	defer m.Close()

	require.NoError(t, m.Initiate("alice"))
	require.NoError(t, m.HandleAnswer("alice", &protocol.Answer{SDP: "v=0"}))
	peer := factory.last(t, "alice")
	peer.fire(webrtc.PeerConnectionStateConnected)

	audio := peer.senders[webrtc.RTPCodecTypeAudio]
	video := peer.senders[webrtc.RTPCodecTypeVideo]
	assert.Equal(t, mf.camera, video.Track())

	require.NoError(t, mf.media.SwitchVideo(domain.VideoScreen))
	assert.Equal(t, mf.screen, video.Track())
	assert.Equal(t, mf.audio, audio.Track())
	assert.Equal(t, 0, audio.swaps)
	assert.Equal(t, domain.VideoScreen, mf.media.Active())

	assert.Len(t, signaler.ofType(protocol.TypeOffer), 1, "switching does not renegotiate")
	requireState(t, m, "alice", domain.NegotiationConnected)
}

func TestMediaSource_NewLinkGetsActiveSource(t *testing.T) {
	mf := newMediaFixture(t)
	require.NoError(t, mf.media.SwitchVideo(domain.VideoScreen))

	peer := &fakePeer{senders: make(map[webrtc.RTPCodecType]*fakeSender)}
	require.NoError(t, mf.media.Attach("alice", peer))
	assert.Equal(t, mf.screen, peer.senders[webrtc.RTPCodecTypeVideo].Track())
}

func TestMediaSource_RollbackOnPartialFailure(t *testing.T) {
	mf := newMediaFixture(t)
	require.NoError(t, mf.media.SwitchVideo(domain.VideoCamera))

	var peers []*fakePeer
	for _, id := range []domain.ParticipantID{"alice", "bob", "carol"} {
		p := &fakePeer{senders: make(map[webrtc.RTPCodecType]*fakeSender)}
		require.NoError(t, mf.media.Attach(id, p))
		peers = append(peers, p)
	}
	peers[1].senders[webrtc.RTPCodecTypeVideo].fail = errors.New("sender closed")

	err := mf.media.SwitchVideo(domain.VideoScreen)
	assert.ErrorIs(t, err, domain.ErrMediaSwitchFailed)
	assert.Equal(t, domain.VideoCamera, mf.media.Active())
	for _, p := range peers {
		assert.Equal(t, mf.camera, p.senders[webrtc.RTPCodecTypeVideo].Track())
	}
}

func TestMediaSource_UnknownSource(t *testing.T) {
	media := NewMediaSource(nil, zap.NewNop().Sugar())
	assert.ErrorIs(t, media.SwitchVideo(domain.VideoScreen), domain.ErrMediaSwitchFailed)
	assert.NoError(t, media.SwitchVideo(domain.VideoNone))
}
