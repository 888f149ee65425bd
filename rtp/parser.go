package rtp

import (
	"fmt"
	"net"

	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/packet"
)

// ParserConfig holds configuration for creating a parser.
type ParserConfig struct {
	// Pool provides the slabs datagrams are copied into.
	Pool *packet.BufferPool
	// FECEnabled tells the parser that media packets carry a source FEC
	// payload ID trailer.
	FECEnabled bool
}

// Parser turns raw datagrams into typed packets.
//
// The whole datagram is copied into one pooled slab; the packet's Raw and
// Payload fields are slice views into it. FEC reconstruction re-parses
// recovered datagrams through the same parser, which is what makes a
// restored packet indistinguishable from a received one.
type Parser struct {
	pool       *packet.BufferPool
	fecEnabled bool
	malformed  uint64
}

// NewParser creates a new packet parser.
func NewParser(config ParserConfig) (*Parser, error) {
	if config.Pool == nil {
		return nil, fmt.Errorf("parser: buffer pool cannot be nil")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewParser",
		"fec_enabled": config.FECEnabled,
	}).Debug("Creating packet parser")

	return &Parser{
		pool:       config.Pool,
		fecEnabled: config.FECEnabled,
	}, nil
}

// Parse decodes one datagram received from addr into a packet.
func (p *Parser) Parse(addr net.Addr, data []byte) (*packet.Packet, error) {
	var rp pionrtp.Packet
	if err := rp.Unmarshal(data); err != nil {
		p.malformed++
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	if len(data) > p.pool.Size() {
		p.malformed++
		return nil, fmt.Errorf("%w: datagram of %d bytes exceeds pool slab", ErrMalformedPacket, len(data))
	}

	if IsRepairPayloadType(rp.PayloadType) {
		return p.parseRepair(addr, data, &rp)
	}
	return p.parseMedia(addr, data, &rp)
}

// Malformed returns the number of datagrams rejected as unparsable.
func (p *Parser) Malformed() uint64 {
	return p.malformed
}

func (p *Parser) parseMedia(addr net.Addr, data []byte, rp *pionrtp.Packet) (*packet.Packet, error) {
	spec, err := LookupPayloadType(rp.PayloadType)
	if err != nil {
		return nil, err
	}

	payloadLen := len(rp.Payload)
	var id FECPayloadID
	if p.fecEnabled {
		if payloadLen < fecPayloadIDSize {
			p.malformed++
			return nil, fmt.Errorf("%w: media payload too short for FEC trailer", ErrMalformedPacket)
		}
		id, err = decodeFECPayloadID(rp.Payload[payloadLen-fecPayloadIDSize:])
		if err != nil {
			p.malformed++
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
		payloadLen -= fecPayloadIDSize
	}

	buf := p.pool.Get()
	copy(buf.Data(), data)
	headerLen := len(data) - len(rp.Payload)

	pkt := packet.New(buf)
	pkt.Addr = addr
	pkt.SSRC = rp.SSRC
	pkt.Seqnum = rp.SequenceNumber
	pkt.Timestamp = rp.Timestamp
	pkt.PayloadType = rp.PayloadType
	pkt.Flags = packet.FlagAudio
	pkt.Duration = spec.Duration(payloadLen)
	pkt.Raw = buf.Slice(0, len(data))
	pkt.Payload = buf.Slice(headerLen, headerLen+payloadLen)

	if p.fecEnabled {
		pkt.FEC = packet.FEC{
			BlockNumber: id.BlockNumber,
			SymbolID:    int(id.SymbolID),
			SourceCount: int(id.SourceCount),
			TotalCount:  int(id.TotalCount),
		}
		if id.SymbolID == 0 {
			pkt.Flags |= packet.FlagBlockBegin
		}
		if int(id.SymbolID) == int(id.SourceCount)-1 {
			pkt.Flags |= packet.FlagBlockEnd
		}
	}

	return pkt, nil
}

func (p *Parser) parseRepair(addr net.Addr, data []byte, rp *pionrtp.Packet) (*packet.Packet, error) {
	if len(rp.Payload) < fecPayloadIDSize {
		p.malformed++
		return nil, fmt.Errorf("%w: repair payload too short", ErrMalformedPacket)
	}

	id, err := decodeFECPayloadID(rp.Payload[:fecPayloadIDSize])
	if err != nil {
		p.malformed++
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if id.SymbolID < id.SourceCount {
		p.malformed++
		return nil, fmt.Errorf("%w: repair packet with source symbol id %d", ErrMalformedPacket, id.SymbolID)
	}

	buf := p.pool.Get()
	copy(buf.Data(), data)
	headerLen := len(data) - len(rp.Payload)

	pkt := packet.New(buf)
	pkt.Addr = addr
	pkt.SSRC = rp.SSRC
	pkt.Seqnum = rp.SequenceNumber
	pkt.Timestamp = rp.Timestamp
	pkt.PayloadType = rp.PayloadType
	pkt.Flags = packet.FlagRepair
	pkt.Raw = buf.Slice(0, len(data))
	pkt.Payload = buf.Slice(headerLen+fecPayloadIDSize, len(data))
	pkt.FEC = packet.FEC{
		BlockNumber: id.BlockNumber,
		SymbolID:    int(id.SymbolID),
		SourceCount: int(id.SourceCount),
		TotalCount:  int(id.TotalCount),
	}

	return pkt, nil
}
