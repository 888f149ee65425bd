package pipeline

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/fec"
	"github.com/opd-ai/audiowire/rtcp"
	"github.com/opd-ai/audiowire/rtp"
)

// DatagramWriter delivers outgoing datagrams to the network.
type DatagramWriter func(data []byte) error

// Sender is the sending peer: frames in, media and repair datagrams out.
// It is the inverse of one receiver session and exists mainly so the wire
// format can be exercised end to end.
type Sender struct {
	cfg      config.SenderConfig
	composer *rtp.Composer
	fecOut   *fec.Writer
	write    DatagramWriter

	samplesPerPacket int
	pending          []float32

	packets uint64
	octets  uint64
}

// NewSender creates a sender.
func NewSender(cfg config.SenderConfig, write DatagramWriter) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if write == nil {
		return nil, fmt.Errorf("pipeline: datagram writer cannot be nil")
	}

	composer, err := rtp.NewComposer(rtp.ComposerConfig{PayloadType: cfg.PayloadType})
	if err != nil {
		return nil, err
	}

	s := &Sender{
		cfg:              cfg,
		composer:         composer,
		write:            write,
		samplesPerPacket: cfg.InputSpec.SamplesFromDuration(cfg.PacketLength),
	}
	if s.samplesPerPacket == 0 {
		return nil, fmt.Errorf("pipeline: packet length shorter than one sample")
	}

	scheme, err := cfg.FEC.Scheme()
	if err != nil {
		return nil, err
	}
	if scheme != fec.SchemeNone {
		s.fecOut, err = fec.NewWriter(fec.WriterConfig{
			Scheme:      scheme,
			SourceCount: cfg.FEC.NSourcePackets,
			RepairCount: cfg.FEC.NRepairPackets,
			Composer:    composer,
		})
		if err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewSender",
		"ssrc":               composer.SSRC(),
		"payload_type":       cfg.PayloadType,
		"samples_per_packet": s.samplesPerPacket,
		"fec":                scheme.String(),
	}).Info("Created sender")

	return s, nil
}

// SSRC returns the outgoing stream identifier.
func (s *Sender) SSRC() uint32 {
	return s.composer.SSRC()
}

// WriteFrame packetizes one frame. Whole packets ship immediately; the
// remainder waits for the next frame.
func (s *Sender) WriteFrame(f *audio.Frame) {
	s.pending = append(s.pending, f.Samples...)

	packetSamples := s.samplesPerPacket * s.cfg.InputSpec.Channels
	for len(s.pending) >= packetSamples {
		if err := s.sendPacket(s.pending[:packetSamples]); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Sender.WriteFrame",
				"error":    err.Error(),
			}).Error("Failed to send packet")
		}
		s.pending = s.pending[packetSamples:]
	}
}

func (s *Sender) sendPacket(samples []float32) error {
	payload := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.BigEndian.PutUint16(payload[i*2:], uint16(int16(v*32767)))
	}

	var datagrams [][]byte
	if s.fecOut != nil {
		out, err := s.fecOut.WriteMedia(payload, uint32(s.samplesPerPacket))
		if err != nil {
			return err
		}
		datagrams = out
	} else {
		media, err := s.composer.ComposeMedia(payload, uint32(s.samplesPerPacket), nil)
		if err != nil {
			return err
		}
		datagrams = [][]byte{media}
	}

	for _, d := range datagrams {
		if err := s.write(d); err != nil {
			return err
		}
		s.packets++
		s.octets += uint64(len(d))
	}
	return nil
}

// SendingStats snapshots the sending metrics for the RTCP sender report.
func (s *Sender) SendingStats(now time.Time) rtcp.SendingStats {
	return rtcp.SendingStats{
		SSRC:        s.composer.SSRC(),
		NTPTime:     now,
		RTPTime:     s.composer.Timestamp(),
		PacketCount: uint32(s.packets),
		OctetCount:  uint32(s.octets),
	}
}
