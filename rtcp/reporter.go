package rtcp

import (
	"fmt"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
)

// ReceptionStats is one session's receive-side state at report time.
type ReceptionStats struct {
	// SSRC of the remote stream the stats describe.
	SSRC uint32
	// PacketsReceived counts accepted media packets.
	PacketsReceived uint64
	// PacketsLost counts positions given up as gaps.
	PacketsLost uint64
	// HighestSeqnum is the extended highest sequence number seen.
	HighestSeqnum uint32
	// Jitter is the interarrival jitter estimate in source-rate samples.
	Jitter uint32
}

// SendingStats is the sending-side state a sender report carries.
type SendingStats struct {
	SSRC        uint32
	NTPTime     time.Time
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
}

// SenderReportHandler consumes sender reports as reception metrics: the
// session records the latest NTP-to-RTP mapping; its latency monitor does
// not use it.
type SenderReportHandler interface {
	OnSenderReport(ssrc uint32, ntp time.Time, rtpTime uint32)
}

// Reporter builds outgoing reports and dispatches incoming ones.
type Reporter struct {
	localSSRC uint32
	handler   SenderReportHandler

	prevExpected map[uint32]uint64
	prevLost     map[uint32]uint64
}

// NewReporter creates a reporter identified by the local SSRC.
func NewReporter(localSSRC uint32, handler SenderReportHandler) *Reporter {
	return &Reporter{
		localSSRC:    localSSRC,
		handler:      handler,
		prevExpected: make(map[uint32]uint64),
		prevLost:     make(map[uint32]uint64),
	}
}

// BuildReceiverReport assembles one RR covering every live session.
func (r *Reporter) BuildReceiverReport(now time.Time, stats []ReceptionStats) ([]byte, error) {
	report := pionrtcp.ReceiverReport{SSRC: r.localSSRC}

	for _, s := range stats {
		expected := s.PacketsReceived + s.PacketsLost

		// Fraction lost covers the interval since the previous report.
		dExpected := expected - r.prevExpected[s.SSRC]
		dLost := s.PacketsLost - r.prevLost[s.SSRC]
		var fraction uint8
		if dExpected > 0 {
			fraction = uint8(dLost * 256 / dExpected)
		}
		r.prevExpected[s.SSRC] = expected
		r.prevLost[s.SSRC] = s.PacketsLost

		totalLost := s.PacketsLost
		if totalLost > 0x7FFFFF {
			totalLost = 0x7FFFFF
		}

		report.Reports = append(report.Reports, pionrtcp.ReceptionReport{
			SSRC:               s.SSRC,
			FractionLost:       fraction,
			TotalLost:          uint32(totalLost),
			LastSequenceNumber: s.HighestSeqnum,
			Jitter:             s.Jitter,
			LastSenderReport:   uint32(ntpTime(now) >> 16),
		})
	}

	data, err := report.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: failed to marshal receiver report: %w", err)
	}
	return data, nil
}

// BuildSenderReport assembles one SR from sending metrics.
func (r *Reporter) BuildSenderReport(stats SendingStats) ([]byte, error) {
	report := pionrtcp.SenderReport{
		SSRC:        stats.SSRC,
		NTPTime:     ntpTime(stats.NTPTime),
		RTPTime:     stats.RTPTime,
		PacketCount: stats.PacketCount,
		OctetCount:  stats.OctetCount,
	}

	data, err := report.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: failed to marshal sender report: %w", err)
	}
	return data, nil
}

// ProcessPacket dispatches one incoming RTCP datagram, which may be a
// compound packet.
func (r *Reporter) ProcessPacket(data []byte) error {
	packets, err := pionrtcp.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("rtcp: failed to parse packet: %w", err)
	}

	for _, p := range packets {
		switch report := p.(type) {
		case *pionrtcp.SenderReport:
			logrus.WithFields(logrus.Fields{
				"function": "Reporter.ProcessPacket",
				"ssrc":     report.SSRC,
				"rtp_time": report.RTPTime,
			}).Debug("Received sender report")
			if r.handler != nil {
				r.handler.OnSenderReport(report.SSRC, ntpToTime(report.NTPTime), report.RTPTime)
			}
		case *pionrtcp.ReceiverReport:
			logrus.WithFields(logrus.Fields{
				"function": "Reporter.ProcessPacket",
				"ssrc":     report.SSRC,
				"reports":  len(report.Reports),
			}).Debug("Received receiver report")
		default:
			// Other RTCP types carry nothing the pipeline consumes.
		}
	}
	return nil
}

// ntpEpochOffset is the difference between the NTP epoch (1900) and the
// Unix epoch (1970) in seconds.
const ntpEpochOffset = 2208988800

func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1000000000
	return secs<<32 | frac
}

func ntpToTime(ntp uint64) time.Time {
	secs := int64(ntp>>32) - ntpEpochOffset
	nanos := (ntp & 0xFFFFFFFF) * 1000000000 >> 32
	return time.Unix(secs, int64(nanos))
}
