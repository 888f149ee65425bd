package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/packet"
)

// DepacketizerConfig holds configuration for creating a depacketizer.
type DepacketizerConfig struct {
	// Reader supplies the recovered source packet stream.
	Reader packet.Reader
	// Decoder extracts samples from packet payloads.
	Decoder FrameDecoder
	// SampleSpec is the source-rate spec of the stream.
	SampleSpec SampleSpec
	// Beep fills gaps with a diagnostic tone instead of silence.
	Beep bool
	// BeepFrequency is the tone frequency in Hz. Zero means 880.
	BeepFrequency float64
}

// Depacketizer pulls packets in playback order, decodes their payloads, and
// produces a gapless stream of frames. The render timestamp advances by
// exactly the frame length per read whether or not packets are available:
// holes are concealed with silence or a beep and flagged on the frame.
type Depacketizer struct {
	reader  packet.Reader
	decoder FrameDecoder
	spec    SampleSpec
	beep    *beepGenerator

	pkt       *packet.Packet
	pktAvail  uint32 // per-channel samples not yet consumed from pkt
	timestamp packet.Timestamp
	started   bool

	zeroSamples    uint64
	missingSamples uint64
	packetSamples  uint64
	droppedPackets uint64

	rl *rateLimiter
}

type frameInfo struct {
	decodedSamples int
	missingSamples int
	droppedPackets int
}

// NewDepacketizer creates a depacketizer.
func NewDepacketizer(config DepacketizerConfig) (*Depacketizer, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("depacketizer: packet reader cannot be nil")
	}
	if config.Decoder == nil {
		return nil, fmt.Errorf("depacketizer: frame decoder cannot be nil")
	}
	if err := config.SampleSpec.Validate(); err != nil {
		return nil, fmt.Errorf("depacketizer: %w", err)
	}

	var beep *beepGenerator
	if config.Beep {
		freq := config.BeepFrequency
		if freq == 0 {
			freq = 880
		}
		beep = newBeepGenerator(freq, config.SampleSpec)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDepacketizer",
		"rate":     config.SampleSpec.Rate,
		"channels": config.SampleSpec.Channels,
		"beep":     config.Beep,
	}).Info("Created depacketizer")

	return &Depacketizer{
		reader:  config.Reader,
		decoder: config.Decoder,
		spec:    config.SampleSpec,
		beep:    beep,
		rl:      newRateLimiter(5 * time.Second),
	}, nil
}

// Started reports whether the first packet was seen.
func (d *Depacketizer) Started() bool {
	return d.started
}

// Timestamp returns the next render timestamp. Valid once Started.
func (d *Depacketizer) Timestamp() packet.Timestamp {
	return d.timestamp
}

// DroppedPackets returns the number of late packets discarded.
func (d *Depacketizer) DroppedPackets() uint64 {
	return d.droppedPackets
}

// ReadFrame fills the frame and advances the render timestamp by the frame
// length. It never fails: a starved stream produces concealed frames.
func (d *Depacketizer) ReadFrame(frame *Frame) bool {
	if len(frame.Samples)%d.spec.Channels != 0 {
		panic(fmt.Sprintf("depacketizer: frame of %d samples not aligned to %d channels",
			len(frame.Samples), d.spec.Channels))
	}

	// Every sub-read advances the render timestamp as it consumes, so the
	// net advance per frame is exactly the frame length.
	var info frameInfo
	buf := frame.Samples
	for len(buf) > 0 {
		buf = d.readSamples(buf, &info)
	}

	d.setFrameFlags(frame, info)
	d.reportStats()
	return true
}

func (d *Depacketizer) readSamples(buf []float32, info *frameInfo) []float32 {
	d.updatePacket(info)

	if d.pkt == nil {
		return d.readMissing(buf, info)
	}

	if packet.TimestampLt(d.timestamp, d.pkt.Timestamp) {
		// Gap before the next packet.
		gap := packet.TimestampDiff(d.pkt.Timestamp, d.timestamp)
		n := len(buf) / d.spec.Channels
		if int(gap) < n {
			n = int(gap)
		}
		d.readMissing(buf[:n*d.spec.Channels], info)
		return buf[n*d.spec.Channels:]
	}

	// The render cursor is inside the packet: decode the overlap.
	n := len(buf) / d.spec.Channels
	if int(d.pktAvail) < n {
		n = int(d.pktAvail)
	}
	decoded := d.decoder.ReadSamples(buf[:n*d.spec.Channels])
	d.pktAvail -= uint32(decoded)
	d.timestamp += packet.Timestamp(decoded)
	info.decodedSamples += decoded
	d.packetSamples += uint64(decoded)

	if d.pktAvail == 0 || decoded == 0 {
		d.closePacket()
	}
	return buf[decoded*d.spec.Channels:]
}

// readMissing conceals a hole with silence, or the beep tone when enabled.
// Before the first packet the stream simply has not begun: the fill is not
// counted as a gap and sets no flags.
func (d *Depacketizer) readMissing(buf []float32, info *frameInfo) []float32 {
	n := len(buf) / d.spec.Channels

	if d.started && d.beep != nil {
		d.beep.generate(buf)
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}

	if d.started {
		info.missingSamples += n
		d.missingSamples += uint64(n)
	} else {
		d.zeroSamples += uint64(n)
	}
	d.timestamp += packet.Timestamp(n)
	return buf[len(buf):]
}

// updatePacket fetches the next packet, discarding packets whose whole span
// is already behind the render cursor.
func (d *Depacketizer) updatePacket(info *frameInfo) {
	for d.pkt == nil {
		p, err := d.reader.ReadPacket()
		if err != nil {
			if !errors.Is(err, packet.ErrNoPacket) && d.rl.allow() {
				logrus.WithFields(logrus.Fields{
					"function": "Depacketizer.updatePacket",
					"error":    err.Error(),
				}).Warn("Packet read failed")
			}
			return
		}

		if !d.started {
			// Anchor the render timestamp on the first packet.
			d.started = true
			d.timestamp = p.Timestamp
			logrus.WithFields(logrus.Fields{
				"function":  "Depacketizer.updatePacket",
				"timestamp": p.Timestamp,
				"seqnum":    p.Seqnum,
			}).Info("First packet received, playback started")
		}

		if packet.TimestampLe(p.End(), d.timestamp) {
			// Entirely behind the cursor: late drop.
			d.droppedPackets++
			info.droppedPackets++
			if d.rl.allow() {
				logrus.WithFields(logrus.Fields{
					"function":   "Depacketizer.updatePacket",
					"pkt_end":    p.End(),
					"render_ts":  d.timestamp,
					"total_late": d.droppedPackets,
				}).Debug("Dropping late packet")
			}
			p.Release()
			continue
		}

		duration, err := d.decoder.Begin(p.Payload)
		if err != nil {
			if d.rl.allow() {
				logrus.WithFields(logrus.Fields{
					"function": "Depacketizer.updatePacket",
					"seqnum":   p.Seqnum,
					"error":    err.Error(),
				}).Warn("Payload decode failed, dropping packet")
			}
			p.Release()
			continue
		}

		d.pkt = p
		d.pktAvail = duration

		// The cursor may start inside the packet.
		if packet.TimestampLt(p.Timestamp, d.timestamp) {
			skip := uint32(packet.TimestampDiff(d.timestamp, p.Timestamp))
			if skip >= duration {
				d.closePacket()
				continue
			}
			d.decoder.Skip(skip)
			d.pktAvail -= skip
		}
	}
}

func (d *Depacketizer) closePacket() {
	d.decoder.End()
	d.pkt.Release()
	d.pkt = nil
	d.pktAvail = 0
}

func (d *Depacketizer) setFrameFlags(frame *Frame, info frameInfo) {
	frame.Flags = 0
	if info.decodedSamples > 0 {
		frame.Flags |= FlagHasSignal
	}
	if d.started && info.missingSamples > 0 {
		frame.Flags |= FlagIncomplete
	}
	if info.droppedPackets > 0 {
		frame.Flags |= FlagDrops
	}
}

func (d *Depacketizer) reportStats() {
	if !d.rl.allow() {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":        "Depacketizer.reportStats",
		"packet_samples":  d.packetSamples,
		"missing_samples": d.missingSamples,
		"zero_samples":    d.zeroSamples,
		"dropped_packets": d.droppedPackets,
	}).Debug("Depacketizer stats")
}

// Close releases the held packet.
func (d *Depacketizer) Close() {
	if d.pkt != nil {
		d.closePacket()
	}
}

// beepGenerator produces a continuous sinusoid used to make packet loss
// audible during diagnostics.
type beepGenerator struct {
	spec  SampleSpec
	step  float64
	phase float64
}

func newBeepGenerator(freq float64, spec SampleSpec) *beepGenerator {
	return &beepGenerator{
		spec: spec,
		step: 2 * math.Pi * freq / float64(spec.Rate),
	}
}

func (g *beepGenerator) generate(buf []float32) {
	for i := 0; i < len(buf); i += g.spec.Channels {
		v := float32(math.Sin(g.phase)) * 0.5
		for ch := 0; ch < g.spec.Channels; ch++ {
			buf[i+ch] = v
		}
		g.phase += g.step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
}
