package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/fec"
	"github.com/opd-ai/audiowire/metrics"
	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtcp"
	"github.com/opd-ai/audiowire/rtp"
	"github.com/opd-ai/audiowire/sndio"
)

// Routing rejection reasons.
var (
	// ErrSessionLimit means the receiver is at its session cap.
	ErrSessionLimit = errors.New("pipeline: session limit reached")
	// ErrMalformedAddress means the packet carries no usable source address.
	ErrMalformedAddress = errors.New("pipeline: malformed source address")
)

// packetPoolSize is the payload slab size; large enough for any UDP media
// datagram this pipeline produces.
const packetPoolSize = 4096

// Receiver is the receiving peer: a packet.Writer fed by the network
// goroutine and a frame Source read by the pump. Each remote sender gets
// its own session; the mixer sums the live ones.
type Receiver struct {
	cfg    config.ReceiverConfig
	parser *rtp.Parser
	pool   *packet.BufferPool

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string

	mixer    *audio.Mixer
	reporter *rtcp.Reporter
	m        *metrics.Receiver

	rejected uint64
}

// NewReceiver creates a receiver.
func NewReceiver(cfg config.ReceiverConfig, m *metrics.Receiver) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := packet.NewBufferPool(packetPoolSize)
	if err != nil {
		return nil, err
	}

	scheme, err := cfg.FEC.Scheme()
	if err != nil {
		return nil, err
	}

	parser, err := rtp.NewParser(rtp.ParserConfig{
		Pool:       pool,
		FECEnabled: scheme != fec.SchemeNone,
	})
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:      cfg,
		parser:   parser,
		pool:     pool,
		sessions: make(map[string]*Session),
		mixer:    audio.NewMixer(),
		m:        m,
	}
	r.reporter = rtcp.NewReporter(0, senderReportDispatch{r})

	logrus.WithFields(logrus.Fields{
		"function":     "NewReceiver",
		"fec":          scheme.String(),
		"max_sessions": cfg.MaxSessions,
		"output_rate":  cfg.OutputSpec.Rate,
	}).Info("Created receiver")

	return r, nil
}

// Parser exposes the receiver's packet parser so the transport layer can
// turn datagrams into packets with the receiver's pool.
func (r *Receiver) Parser() *rtp.Parser {
	return r.parser
}

// WritePacket routes one parsed packet to its session, creating the session
// when the packet is allowed to establish one. Network goroutine only;
// never call it concurrently for the same receiver.
func (r *Receiver) WritePacket(p *packet.Packet) error {
	if p.Addr == nil {
		r.rejected++
		p.Release()
		return ErrMalformedAddress
	}

	key := sessionKey(p.Addr.String(), p.SSRC)

	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()

	if !ok {
		// Only a media packet with a recognized payload type founds a
		// session; repair traffic for an unknown source is dropped.
		if p.HasFlags(packet.FlagRepair) {
			r.rejected++
			p.Release()
			return nil
		}
		if _, err := rtp.LookupPayloadType(p.PayloadType); err != nil {
			r.rejected++
			p.Release()
			return err
		}

		var err error
		s, err = r.createSession(key, p)
		if err != nil {
			r.rejected++
			p.Release()
			return err
		}
	}

	return s.route(p)
}

func (r *Receiver) createSession(key string, p *packet.Packet) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, nil
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrSessionLimit
	}

	s, err := newSession(sessionConfig{
		key:         key,
		addr:        p.Addr,
		ssrc:        p.SSRC,
		payloadType: p.PayloadType,
		receiver:    r.cfg,
		parser:      r.parser,
		metrics:     r.m.Session(key),
	})
	if err != nil {
		return nil, err
	}

	r.sessions[key] = s
	r.rebuildOrderLocked()
	r.m.SessionAttached()
	return s, nil
}

// ReadFrame reaps dead sessions and mixes the live ones into one frame.
// Pipeline goroutine only.
func (r *Receiver) ReadFrame(f *audio.Frame) bool {
	readers := r.collectSessions()
	r.mixer.SetReaders(readers)
	return r.mixer.ReadFrame(f)
}

// collectSessions reaps the dead and returns the live columns in stable key
// order, so mixing is deterministic.
func (r *Receiver) collectSessions() []audio.FrameReader {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for key, s := range r.sessions {
		if !s.Alive() {
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.collectSessions",
				"session":  key,
			}).Info("Reaping dead session")
			s.Close()
			delete(r.sessions, key)
			r.m.SessionDetached()
			changed = true
		}
	}
	if changed {
		r.rebuildOrderLocked()
	}

	readers := make([]audio.FrameReader, 0, len(r.order))
	for _, key := range r.order {
		readers = append(readers, r.sessions[key])
	}
	return readers
}

func (r *Receiver) rebuildOrderLocked() {
	r.order = r.order[:0]
	for key := range r.sessions {
		r.order = append(r.order, key)
	}
	sort.Strings(r.order)
}

// Sessions returns the number of live sessions.
func (r *Receiver) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Rejected returns the number of packets refused by the router.
func (r *Receiver) Rejected() uint64 {
	return r.rejected
}

// State implements the source contract: the receiver is active while it has
// live sessions to play.
func (r *Receiver) State() sndio.DeviceState {
	if r.Sessions() > 0 {
		return sndio.StateActive
	}
	return sndio.StateInactive
}

// Pause is a no-op: a network source cannot hold back its peers.
func (r *Receiver) Pause() error { return nil }

// Resume is a no-op counterpart to Pause.
func (r *Receiver) Resume() error { return nil }

// Restart is a no-op: the stream continues from live traffic.
func (r *Receiver) Restart() error { return nil }

// Reclock receives the sink-adjusted playback time after every frame. The
// per-session latency monitors run on RTP timestamps; the playback time is
// only logged and is not used by them.
func (r *Receiver) Reclock(playbackTime time.Time) {
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.Reclock",
		"playback": playbackTime,
	}).Trace("Reclocked")
}

// BuildReceiverReport assembles the periodic RTCP RR for all sessions.
func (r *Receiver) BuildReceiverReport(now time.Time) ([]byte, error) {
	r.mu.RLock()
	stats := make([]rtcp.ReceptionStats, 0, len(r.sessions))
	for _, key := range r.order {
		s := r.sessions[key]
		ssrc, received, lost, highest := s.ReceptionStats()
		stats = append(stats, rtcp.ReceptionStats{
			SSRC:            ssrc,
			PacketsReceived: received,
			PacketsLost:     lost,
			HighestSeqnum:   highest,
		})
	}
	r.mu.RUnlock()

	if len(stats) == 0 {
		return nil, nil
	}
	return r.reporter.BuildReceiverReport(now, stats)
}

// ProcessControl consumes one incoming RTCP datagram.
func (r *Receiver) ProcessControl(data []byte) error {
	return r.reporter.ProcessPacket(data)
}

// Close tears down every session. The buffer pool must drain to zero; a
// leak here is a bug.
func (r *Receiver) Close() error {
	r.mu.Lock()
	for key, s := range r.sessions {
		s.Close()
		delete(r.sessions, key)
		r.m.SessionDetached()
	}
	r.order = nil
	r.mu.Unlock()

	if n := r.pool.Outstanding(); n != 0 {
		return fmt.Errorf("pipeline: %d buffers leaked at teardown", n)
	}
	return nil
}

// senderReportDispatch fans incoming sender reports out to the session with
// the matching SSRC.
type senderReportDispatch struct {
	r *Receiver
}

func (d senderReportDispatch) OnSenderReport(ssrc uint32, ntp time.Time, rtpTime uint32) {
	d.r.mu.RLock()
	defer d.r.mu.RUnlock()
	for _, s := range d.r.sessions {
		if s.SSRC() == ssrc {
			s.OnSenderReport(ntp, rtpTime)
		}
	}
}

func sessionKey(addr string, ssrc uint32) string {
	return fmt.Sprintf("%s/%08x", addr, ssrc)
}
