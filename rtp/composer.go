package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// ComposerConfig holds configuration for creating a composer.
type ComposerConfig struct {
	// PayloadType of the media packets.
	PayloadType uint8
	// SSRC of the stream. Zero means derive one from a secure random source.
	SSRC uint32
}

// Composer builds outgoing media and repair packets for one stream.
// Media and repair packets share the SSRC but run separate sequence number
// spaces, as separate RTP flows do.
type Composer struct {
	ssrc        uint32
	payloadType uint8

	mediaSeq  uint16
	repairSeq uint16
	timestamp uint32
}

// NewComposer creates a composer for one outgoing stream.
func NewComposer(config ComposerConfig) (*Composer, error) {
	if _, err := LookupPayloadType(config.PayloadType); err != nil {
		return nil, err
	}

	ssrc := config.SSRC
	if ssrc == 0 {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("composer: failed to derive SSRC: %w", err)
		}
		ssrc = binary.BigEndian.Uint32(b[:])
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewComposer",
		"ssrc":         ssrc,
		"payload_type": config.PayloadType,
	}).Info("Created stream composer")

	return &Composer{
		ssrc:        ssrc,
		payloadType: config.PayloadType,
	}, nil
}

// SSRC returns the stream identifier.
func (c *Composer) SSRC() uint32 {
	return c.ssrc
}

// ComposeMedia builds one media packet around the payload and advances the
// sequence number and timestamp. A non-nil fecID appends the source FEC
// payload ID trailer.
func (c *Composer) ComposeMedia(payload []byte, samples uint32, fecID *FECPayloadID) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("composer: empty media payload")
	}

	body := payload
	if fecID != nil {
		if err := fecID.Validate(); err != nil {
			return nil, err
		}
		body = make([]byte, len(payload)+fecPayloadIDSize)
		copy(body, payload)
		fecID.encode(body[len(payload):])
	}

	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    c.payloadType,
			SequenceNumber: c.mediaSeq,
			Timestamp:      c.timestamp,
			SSRC:           c.ssrc,
		},
		Payload: body,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("composer: failed to marshal media packet: %w", err)
	}

	c.mediaSeq++
	c.timestamp += samples
	return data, nil
}

// ComposeRepair builds one repair packet carrying the symbol for the given
// block position. blockTimestamp is the timestamp of the block's first
// source packet.
func (c *Composer) ComposeRepair(symbol []byte, id FECPayloadID, repairPayloadType uint8, blockTimestamp uint32) ([]byte, error) {
	if !IsRepairPayloadType(repairPayloadType) {
		return nil, fmt.Errorf("composer: %d is not a repair payload type", repairPayloadType)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	body := make([]byte, fecPayloadIDSize+len(symbol))
	id.encode(body)
	copy(body[fecPayloadIDSize:], symbol)

	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    repairPayloadType,
			SequenceNumber: c.repairSeq,
			Timestamp:      blockTimestamp,
			SSRC:           c.ssrc,
		},
		Payload: body,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("composer: failed to marshal repair packet: %w", err)
	}

	c.repairSeq++
	return data, nil
}

// Timestamp returns the timestamp the next media packet will carry.
func (c *Composer) Timestamp() uint32 {
	return c.timestamp
}
