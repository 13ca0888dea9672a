package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPFeed turns RTP packets arriving on a UDP socket, for example from
// ffmpeg or gstreamer, into a local track the media source can switch to.
type RTPFeed struct {
	conn    net.PacketConn
	track   *webrtc.TrackLocalStaticRTP
	logger  *zap.SugaredLogger
	packets atomic.Uint64
}

func ListenRTPFeed(addr string, codec webrtc.RTPCodecCapability, trackID, streamID string, logger *zap.SugaredLogger) (*RTPFeed, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create track %s: %w", trackID, err)
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for RTP on %s: %w", addr, err)
	}
	return &RTPFeed{conn: conn, track: track, logger: logger.With("track_id", trackID)}, nil
}

func (f *RTPFeed) Track() *webrtc.TrackLocalStaticRTP { return f.track }

func (f *RTPFeed) Addr() net.Addr { return f.conn.LocalAddr() }

func (f *RTPFeed) Packets() uint64 { return f.packets.Load() }

// Run forwards packets until ctx is done or the socket is closed.
func (f *RTPFeed) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		f.conn.Close()
	}()

	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	for {
		n, _, err := f.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rtp feed read: %w", err)
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			f.logger.Debugw("dropping malformed RTP packet", "error", err)
			continue
		}
		// Nobody bound to the track yet is not an error.
		if err := f.track.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			f.logger.Warnw("failed to write RTP packet", "error", err)
			continue
		}
		f.packets.Add(1)
	}
}

func (f *RTPFeed) Close() error {
	return f.conn.Close()
}
