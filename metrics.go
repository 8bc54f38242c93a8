package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	framesReceived  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	payloadMisfits  *prometheus.CounterVec
	framesSent      *prometheus.CounterVec
	sendsDropped    *prometheus.CounterVec
	heartbeats      *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	streamDrops     *prometheus.CounterVec
	cacheFallbacks  *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_frames_received_total",
			Help: "Inbound frames decoded, by channel",
		}, []string{"channel"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_frames_dropped_total",
			Help: "Inbound frames dropped, by channel and reason",
		}, []string{"channel", "reason"}), // malformed|binary
		payloadMisfits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_payload_mismatches_total",
			Help: "Envelopes delivered without a typed payload because data did not match the type",
		}, []string{"channel", "type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_frames_sent_total",
			Help: "Outbound envelopes written, by channel",
		}, []string{"channel"}),
		sendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_sends_dropped_total",
			Help: "Outbound envelopes dropped because the channel was not connected",
		}, []string{"channel"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_heartbeats_total",
			Help: "Heartbeat probes written, by channel",
		}, []string{"channel"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_reconnect_attempts_total",
			Help: "Automatic reconnect attempts, by channel",
		}, []string{"channel"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 disconnecting)",
		}, []string{"channel"}),
		streamDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_stream_drops_total",
			Help: "Stream deliveries dropped because a subscriber buffer was full",
		}, []string{"stream"}),
		cacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_cache_fallbacks_total",
			Help: "Reads answered from the local cache after a backend failure",
		}, []string{"kind"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_write_failures_total",
			Help: "Backend writes that failed and left the cache untouched",
		}, []string{"kind"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_cache_errors_total",
			Help: "Local cache mutations that failed after a successful backend call",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.framesDropped,
			m.payloadMisfits,
			m.framesSent,
			m.sendsDropped,
			m.heartbeats,
			m.reconnects,
			m.connectionState,
			m.streamDrops,
			m.cacheFallbacks,
			m.writeFailures,
			m.cacheErrors,
		)
	}
	return m
}

func (m *Metrics) incFrameReceived(channel string) {
	if m != nil {
		m.framesReceived.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) incFrameDropped(channel, reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(channel, reason).Inc()
	}
}

func (m *Metrics) incPayloadMismatch(channel string, t MessageType) {
	if m != nil {
		m.payloadMisfits.WithLabelValues(channel, string(t)).Inc()
	}
}

func (m *Metrics) incFrameSent(channel string) {
	if m != nil {
		m.framesSent.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) incSendDropped(channel string) {
	if m != nil {
		m.sendsDropped.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) incHeartbeat(channel string) {
	if m != nil {
		m.heartbeats.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) incReconnect(channel string) {
	if m != nil {
		m.reconnects.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) setState(channel string, s ConnectionState) {
	if m != nil {
		m.connectionState.WithLabelValues(channel).Set(float64(s))
	}
}

func (m *Metrics) incStreamDrop(stream string) {
	if m != nil {
		m.streamDrops.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) incCacheFallback(kind string) {
	if m != nil {
		m.cacheFallbacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incWriteFailure(kind string) {
	if m != nil {
		m.writeFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incCacheError(kind string) {
	if m != nil {
		m.cacheErrors.WithLabelValues(kind).Inc()
	}
}
