package webrtc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"syncroom/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRecorder struct {
	kinds []string
}

func (r *countingRecorder) RecordRTCP(kind string) {
	r.kinds = append(r.kinds, kind)
}

func newFactory(t *testing.T) *PeerFactory {
	t.Helper()
	f, err := NewPeerFactory(Config{}, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	return f
}

func TestPeerFactory_OfferAnswerWithReservedVideoSlot(t *testing.T) {
	f := newFactory(t)

	offerer, err := f.NewPeer("alice")
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := f.NewPeer("bob")
	require.NoError(t, err)
	defer answerer.Close()

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "bob")
	require.NoError(t, err)
	_, err = offerer.AddTrack(webrtc.RTPCodecTypeAudio, audio)
	require.NoError(t, err)
	video, err := offerer.AddTrack(webrtc.RTPCodecTypeVideo, nil)
	require.NoError(t, err)

	offer, err := offerer.CreateOffer(false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(offer.SDP, "v=0"))
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	require.NoError(t, answerer.SetRemoteDescription(offer))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetRemoteDescription(answer))

	screen, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "bob")
	require.NoError(t, err)
	require.NoError(t, video.ReplaceTrack(screen))
	assert.Equal(t, "screen", video.Track().ID())
}

func TestPeerFactory_RestartOfferChangesCredentials(t *testing.T) {
	f := newFactory(t)
	p, err := f.NewPeer("alice")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.AddTrack(webrtc.RTPCodecTypeAudio, nil)
	require.NoError(t, err)

	answerer, err := f.NewPeer("bob")
	require.NoError(t, err)
	defer answerer.Close()

	first, err := p.CreateOffer(false)
	require.NoError(t, err)
	require.NoError(t, answerer.SetRemoteDescription(first))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, p.SetRemoteDescription(answer))

	restart, err := p.CreateOffer(true)
	require.NoError(t, err)
	assert.NotEqual(t, iceUfrag(first.SDP), iceUfrag(restart.SDP))
}

func iceUfrag(sdp string) string {
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, "a=ice-ufrag:") {
			return line
		}
	}
	return ""
}

func TestClassifyRTCP(t *testing.T) {
	rec := &countingRecorder{}
	f, err := NewPeerFactory(Config{}, rec, zap.NewNop().Sugar())
	require.NoError(t, err)

	f.countRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: 1},
		&rtcp.TransportLayerNack{MediaSSRC: 1},
		&rtcp.PictureLossIndication{MediaSSRC: 2},
		&rtcp.SenderReport{SSRC: 3},
	})

	assert.Equal(t, []string{"pli", "nack", "pli", "other"}, rec.kinds)
	assert.Equal(t, map[string]uint64{"pli": 2, "nack": 1, "other": 1}, f.RTCPStats())
}

func TestConfigFromSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.ICEServers = []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 50100

	out := ConfigFromSettings(cfg)
	require.Len(t, out.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, out.ICEServers[0].URLs)
	assert.Equal(t, uint16(50000), out.PortRange.Min)

	_, err := NewPeerFactory(out, nil, zap.NewNop().Sugar())
	assert.NoError(t, err)
}

func TestRTPFeed_ForwardsPackets(t *testing.T) {
	feed, err := ListenRTPFeed("127.0.0.1:0", webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", "alice", zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	conn, err := net.Dial("udp", feed.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: uint16(i), SSRC: 42},
			Payload: []byte{0x01, 0x02},
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = conn.Write(data)
		require.NoError(t, err)
	}
	_, err = conn.Write([]byte{0x00})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return feed.Packets() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}
