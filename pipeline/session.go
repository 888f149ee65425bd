package pipeline

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/fec"
	"github.com/opd-ai/audiowire/metrics"
	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtp"
)

// inboundQueueSize bounds the network-to-pipeline handoff per session.
const inboundQueueSize = 256

// sessionConfig wires one session into its receiver.
type sessionConfig struct {
	key         string
	addr        net.Addr
	ssrc        uint32
	payloadType uint8
	receiver    config.ReceiverConfig
	parser      *rtp.Parser
	metrics     *metrics.SessionMetrics
}

// Session is one remote source's pipeline column. The network goroutine
// only touches the inbound queue; everything else belongs to the pipeline
// goroutine.
type Session struct {
	key  string
	addr net.Addr
	ssrc uint32

	inbound     *packet.InboundQueue
	sourceQueue *packet.SortedQueue
	repairQueue *packet.SortedQueue
	fecReader   *fec.Reader

	depacketizer *audio.Depacketizer
	watchdog     *audio.Watchdog
	resampler    *audio.Resampler
	monitor      *audio.LatencyMonitor
	out          audio.FrameReader

	srcSpec audio.SampleSpec

	newestTs  packet.Timestamp
	hasNewest bool

	createdAt time.Time

	lastSRTime time.Time
	lastSRRTP  uint32

	received uint64
	m        *metrics.SessionMetrics

	lateSynced      uint64
	restoredSynced  uint64
	decodeErrSynced uint64
	droppedSynced   uint64
}

func newSession(cfg sessionConfig) (*Session, error) {
	spec, err := rtp.LookupPayloadType(cfg.payloadType)
	if err != nil {
		return nil, err
	}
	srcSpec := audio.SampleSpec{Rate: spec.SampleRate, Channels: spec.Channels}

	scheme, err := cfg.receiver.FEC.Scheme()
	if err != nil {
		return nil, err
	}

	s := &Session{
		key:       cfg.key,
		addr:      cfg.addr,
		ssrc:      cfg.ssrc,
		srcSpec:   srcSpec,
		createdAt: time.Now(),
		m:         cfg.metrics,
	}

	if s.inbound, err = packet.NewInboundQueue(inboundQueueSize); err != nil {
		return nil, err
	}

	// The reorder window covers a couple of FEC blocks plus slack.
	window := 128
	if scheme != fec.SchemeNone {
		w := 2 * (cfg.receiver.FEC.NSourcePackets + cfg.receiver.FEC.NRepairPackets)
		if w > window {
			window = w
		}
	}
	if s.sourceQueue, err = packet.NewSortedQueue(window); err != nil {
		return nil, err
	}

	var pktReader packet.Reader = s.sourceQueue
	if scheme != fec.SchemeNone {
		if s.repairQueue, err = packet.NewSortedQueue(window); err != nil {
			return nil, err
		}
		s.fecReader, err = fec.NewReader(fec.ReaderConfig{
			Scheme: scheme,
			Source: s.sourceQueue,
			Repair: s.repairQueue,
			Parser: cfg.parser,
		})
		if err != nil {
			return nil, err
		}
		pktReader = s.fecReader
	}

	encoding := "l16"
	if spec.Encoding == rtp.EncodingOpus {
		encoding = "opus"
	}
	decoder, err := audio.NewFrameDecoder(encoding, srcSpec)
	if err != nil {
		return nil, err
	}

	s.depacketizer, err = audio.NewDepacketizer(audio.DepacketizerConfig{
		Reader:     pktReader,
		Decoder:    decoder,
		SampleSpec: srcSpec,
		Beep:       cfg.receiver.BeepOnLoss,
	})
	if err != nil {
		return nil, err
	}

	s.watchdog, err = audio.NewWatchdog(audio.WatchdogConfig{
		Reader:                s.depacketizer,
		SampleSpec:            srcSpec,
		FrameLength:           cfg.receiver.FrameLength,
		NoPlaybackTimeout:     cfg.receiver.NoPlaybackTimeout,
		BrokenPlaybackTimeout: cfg.receiver.BrokenPlaybackTimeout,
	})
	if err != nil {
		return nil, err
	}

	out := audio.FrameReader(s.watchdog)
	outSpec := cfg.receiver.OutputSpec

	// Channel layout first, then rate: the mapper runs at the source rate
	// and the resampler converts the mapped stream to the sink rate.
	mapper, err := audio.NewChannelMapper(audio.ChannelMapperConfig{
		Reader:      out,
		InSpec:      srcSpec,
		OutSpec:     audio.SampleSpec{Rate: srcSpec.Rate, Channels: outSpec.Channels},
		FrameLength: cfg.receiver.FrameLength,
	})
	if err != nil {
		return nil, err
	}
	out = mapper

	if cfg.receiver.ResamplerProfile != "disable" {
		profile, err := audio.ParseResamplerProfile(cfg.receiver.ResamplerProfile)
		if err != nil {
			return nil, err
		}
		s.resampler, err = audio.NewResampler(audio.ResamplerConfig{
			Reader:      out,
			InSpec:      audio.SampleSpec{Rate: srcSpec.Rate, Channels: outSpec.Channels},
			OutSpec:     outSpec,
			Profile:     profile,
			FrameLength: cfg.receiver.FrameLength,
		})
		if err != nil {
			return nil, err
		}
		out = s.resampler
	}

	s.out = out

	monitorCfg := audio.LatencyMonitorConfig{
		TargetLatency:      cfg.receiver.TargetLatency,
		MaxLatencyOverrun:  cfg.receiver.MaxLatencyOverrun,
		MaxLatencyUnderrun: cfg.receiver.MaxLatencyUnderrun,
		SampleSpec:         srcSpec,
	}
	if s.resampler != nil {
		monitorCfg.Resampler = s.resampler
	}
	if s.monitor, err = audio.NewLatencyMonitor(monitorCfg); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "newSession",
		"session":      cfg.key,
		"ssrc":         cfg.ssrc,
		"payload_type": cfg.payloadType,
		"source_rate":  srcSpec.Rate,
		"fec":          scheme.String(),
	}).Info("Created session")

	return s, nil
}

// Key returns the stable session key.
func (s *Session) Key() string {
	return s.key
}

// SSRC returns the remote stream identifier.
func (s *Session) SSRC() uint32 {
	return s.ssrc
}

// route hands a packet to the session. Called from the network goroutine;
// this is the only cross-thread entry point.
func (s *Session) route(p *packet.Packet) error {
	return s.inbound.WritePacket(p)
}

// refresh drains the inbound queue into the sorted queues. Pipeline
// goroutine only.
func (s *Session) refresh() {
	for {
		p, err := s.inbound.ReadPacket()
		if err != nil {
			return
		}

		s.received++
		s.m.AddReceived(1)

		if p.HasFlags(packet.FlagRepair) {
			if s.repairQueue == nil {
				// Repair traffic without a FEC scheme configured.
				s.m.AddDropped(1)
				p.Release()
				continue
			}
			_ = s.repairQueue.WritePacket(p)
			continue
		}

		// The jump detector watches the media stream only; repair packets
		// run their own seqnum space.
		s.watchdog.ObservePacket(p.Seqnum, p.Timestamp)

		if !s.hasNewest || packet.TimestampLt(s.newestTs, p.End()) {
			s.newestTs = p.End()
			s.hasNewest = true
		}
		_ = s.sourceQueue.WritePacket(p)
	}
}

// Alive reports whether the session still produces audio.
func (s *Session) Alive() bool {
	return s.watchdog.Alive()
}

// ReadFrame produces one sink-spec frame. Pipeline goroutine only.
func (s *Session) ReadFrame(f *audio.Frame) bool {
	s.refresh()

	if !s.watchdog.Alive() {
		return false
	}

	s.updateLatency()

	if !s.out.ReadFrame(f) {
		return false
	}

	if f.Flags&audio.FlagIncomplete != 0 {
		s.m.AddIncompleteFrames(1)
	}
	s.syncCounters()
	return true
}

// updateLatency feeds the latency monitor and poisons the session when the
// playback clock drifted beyond repair.
func (s *Session) updateLatency() {
	if !s.depacketizer.Started() || !s.hasNewest {
		return
	}
	latency := packet.TimestampDiff(s.newestTs, s.depacketizer.Timestamp())
	if !s.monitor.Update(latency) {
		s.watchdog.Poison(fmt.Sprintf("latency drift: %d samples", latency))
	}
}

// syncCounters pushes the stage-local cumulative counters into the metrics
// as deltas.
func (s *Session) syncCounters() {
	if s.m == nil {
		return
	}

	late := s.sourceQueue.LateDropped() + s.depacketizer.DroppedPackets()
	s.m.AddLate(late - s.lateSynced)
	s.lateSynced = late

	dropped := s.sourceQueue.WindowDropped()
	if s.repairQueue != nil {
		dropped += s.repairQueue.WindowDropped()
	}
	if s.fecReader != nil {
		dropped += s.fecReader.OutOfWindow()
	}
	s.m.AddDropped(dropped - s.droppedSynced)
	s.droppedSynced = dropped

	if s.fecReader != nil {
		restored := s.fecReader.Restored()
		s.m.AddReconstructed(restored - s.restoredSynced)
		s.restoredSynced = restored

		errs := s.fecReader.DecodeErrors()
		s.m.AddDecodeErrors(errs - s.decodeErrSynced)
		s.decodeErrSynced = errs
	}
}

// ReceptionStats snapshots the session for the RTCP reporter.
func (s *Session) ReceptionStats() (uint32, uint64, uint64, uint32) {
	var lost uint64
	if s.fecReader != nil {
		lost = s.fecReader.Lost()
	}
	highest := uint32(0)
	if s.hasNewest {
		highest = uint32(s.newestTs)
	}
	return s.ssrc, s.received, lost, highest
}

// OnSenderReport records a sender report's NTP-to-RTP mapping, the
// reception-metrics hook; the latency monitor does not read it.
func (s *Session) OnSenderReport(ntp time.Time, rtpTime uint32) {
	s.lastSRTime = ntp
	s.lastSRRTP = rtpTime
	logrus.WithFields(logrus.Fields{
		"function": "Session.OnSenderReport",
		"session":  s.key,
		"rtp_time": rtpTime,
	}).Debug("Applied sender report mapping")
}

// Close releases everything the session holds.
func (s *Session) Close() {
	s.inbound.Close()
	if s.fecReader != nil {
		s.fecReader.Close()
	}
	s.depacketizer.Close()
	for {
		p, err := s.sourceQueue.ReadPacket()
		if err != nil {
			break
		}
		p.Release()
	}
	if s.repairQueue != nil {
		for {
			p, err := s.repairQueue.ReadPacket()
			if err != nil {
				break
			}
			p.Release()
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Session.Close",
		"session":  s.key,
		"received": s.received,
	}).Info("Closed session")
}
