package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Receiver aggregates the receiver-side counters. All methods are nil-safe
// so pipeline stages can run without telemetry wired up.
type Receiver struct {
	PacketsReceived      *prometheus.CounterVec
	PacketsLate          *prometheus.CounterVec
	PacketsDropped       *prometheus.CounterVec
	PacketsReconstructed *prometheus.CounterVec
	FECDecodeErrors      *prometheus.CounterVec
	FramesIncomplete     *prometheus.CounterVec
	SessionsLive         prometheus.Gauge
	SessionsTotal        prometheus.Counter
}

// NewReceiver creates the collector set. Metrics are labeled by session key
// so independent remote senders stay distinguishable.
func NewReceiver() *Receiver {
	label := []string{"session"}
	return &Receiver{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_packets_received_total",
			Help: "Media and repair packets accepted into a session",
		}, label),
		PacketsLate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_packets_late_total",
			Help: "Packets dropped for arriving behind the playback cursor",
		}, label),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_packets_dropped_total",
			Help: "Packets discarded for queue overflow or closed FEC blocks",
		}, label),
		PacketsReconstructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_packets_reconstructed_total",
			Help: "Source packets rebuilt from repair symbols",
		}, label),
		FECDecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_fec_decode_errors_total",
			Help: "FEC block decode failures",
		}, label),
		FramesIncomplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiowire_frames_incomplete_total",
			Help: "Frames containing concealed gap samples",
		}, label),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiowire_sessions_live",
			Help: "Sessions currently attached to the receiver",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiowire_sessions_total",
			Help: "Sessions created since startup",
		}),
	}
}

// Register attaches all collectors to a registry.
func (r *Receiver) Register(reg prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{
		r.PacketsReceived, r.PacketsLate, r.PacketsDropped,
		r.PacketsReconstructed, r.FECDecodeErrors, r.FramesIncomplete,
		r.SessionsLive, r.SessionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the label-bound view for one session key.
func (r *Receiver) Session(key string) *SessionMetrics {
	if r == nil {
		return nil
	}
	return &SessionMetrics{
		received:      r.PacketsReceived.WithLabelValues(key),
		late:          r.PacketsLate.WithLabelValues(key),
		dropped:       r.PacketsDropped.WithLabelValues(key),
		reconstructed: r.PacketsReconstructed.WithLabelValues(key),
		decodeErrors:  r.FECDecodeErrors.WithLabelValues(key),
		incomplete:    r.FramesIncomplete.WithLabelValues(key),
	}
}

// SessionAttached records a session joining.
func (r *Receiver) SessionAttached() {
	if r == nil {
		return
	}
	r.SessionsLive.Inc()
	r.SessionsTotal.Inc()
}

// SessionDetached records a session leaving.
func (r *Receiver) SessionDetached() {
	if r == nil {
		return
	}
	r.SessionsLive.Dec()
}

// SessionMetrics is the per-session counter view.
type SessionMetrics struct {
	received      prometheus.Counter
	late          prometheus.Counter
	dropped       prometheus.Counter
	reconstructed prometheus.Counter
	decodeErrors  prometheus.Counter
	incomplete    prometheus.Counter
}

// AddReceived counts accepted packets.
func (m *SessionMetrics) AddReceived(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.received.Add(float64(n))
}

// AddLate counts late-dropped packets.
func (m *SessionMetrics) AddLate(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.late.Add(float64(n))
}

// AddDropped counts discarded packets.
func (m *SessionMetrics) AddDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}

// AddReconstructed counts FEC-restored packets.
func (m *SessionMetrics) AddReconstructed(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.reconstructed.Add(float64(n))
}

// AddDecodeErrors counts FEC decode failures.
func (m *SessionMetrics) AddDecodeErrors(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.decodeErrors.Add(float64(n))
}

// AddIncompleteFrames counts frames with concealed gaps.
func (m *SessionMetrics) AddIncompleteFrames(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.incomplete.Add(float64(n))
}
