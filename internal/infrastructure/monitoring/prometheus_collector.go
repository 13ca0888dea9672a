package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	participantsConnected prometheus.Gauge
	roomsActive           prometheus.Gauge
	connectionsTotal      prometheus.Counter

	messagesRelayed     *prometheus.CounterVec
	messagesDropped     *prometheus.CounterVec
	joinsRejected       *prometheus.CounterVec
	messagesRateLimited prometheus.Counter

	joinDuration prometheus.Histogram

	negotiations *prometheus.CounterVec
	rtcpPackets  *prometheus.CounterVec
}

// NewPrometheusCollector registers the syncroom metrics with reg. Passing nil
// uses the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		participantsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_participants_connected",
			Help: "Number of participants currently connected to the relay",
		}),
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_rooms_active",
			Help: "Number of rooms with at least one connected participant",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_connections_total",
			Help: "Total number of accepted joins",
		}),
		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_messages_relayed_total",
			Help: "Messages forwarded by the relay",
		}, []string{"type", "mode"}),
		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_messages_dropped_total",
			Help: "Messages the relay could not deliver",
		}, []string{"reason"}),
		joinsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_joins_rejected_total",
			Help: "Join attempts rejected by the relay",
		}, []string{"code"}),
		messagesRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_messages_rate_limited_total",
			Help: "Messages rejected by the per-connection rate limit",
		}),
		joinDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncroom_join_duration_seconds",
			Help:    "Time from upgrade to roster delivery",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		negotiations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_negotiations_total",
			Help: "Peer link outcomes observed by a participant",
		}, []string{"outcome"}),
		rtcpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_rtcp_packets_total",
			Help: "RTCP feedback packets received on outbound tracks",
		}, []string{"kind"}),
	}
}

func (p *PrometheusCollector) RecordParticipantJoined(joinLatency time.Duration) {
	p.participantsConnected.Inc()
	p.connectionsTotal.Inc()
	p.joinDuration.Observe(joinLatency.Seconds())
}

func (p *PrometheusCollector) RecordParticipantLeft() {
	p.participantsConnected.Dec()
}

func (p *PrometheusCollector) SetActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) RecordRelayed(messageType string, targeted bool) {
	mode := "broadcast"
	if targeted {
		mode = "direct"
	}
	p.messagesRelayed.WithLabelValues(messageType, mode).Inc()
}

func (p *PrometheusCollector) RecordDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordJoinRejected(code string) {
	p.joinsRejected.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) RecordRateLimited() {
	p.messagesRateLimited.Inc()
}

// RecordNegotiation counts link outcomes: connected, restarted, failed, closed.
func (p *PrometheusCollector) RecordNegotiation(outcome string) {
	p.negotiations.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordRTCP(kind string) {
	p.rtcpPackets.WithLabelValues(kind).Inc()
}
