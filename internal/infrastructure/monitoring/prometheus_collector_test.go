package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_Counts(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.RecordParticipantJoined(10 * time.Millisecond)
	c.RecordParticipantJoined(20 * time.Millisecond)
	c.RecordParticipantLeft()
	c.SetActiveRooms(3)
	c.RecordRelayed("offer", true)
	c.RecordRelayed("board-stroke", false)
	c.RecordRelayed("board-stroke", false)
	c.RecordJoinRejected("ROOM_EXPIRED")
	c.RecordRTCP("pli")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.participantsConnected))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.roomsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesRelayed.WithLabelValues("offer", "direct")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesRelayed.WithLabelValues("board-stroke", "broadcast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.joinsRejected.WithLabelValues("ROOM_EXPIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rtcpPackets.WithLabelValues("pli")))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}
