package packet

import (
	"fmt"
	"net"
	"sync/atomic"
)

// Flags describe what a packet carries.
type Flags uint8

const (
	// FlagAudio marks a packet carrying decodable media samples.
	FlagAudio Flags = 1 << iota
	// FlagRepair marks a FEC repair packet.
	FlagRepair
	// FlagBlockBegin marks the first packet of a FEC block.
	FlagBlockBegin
	// FlagBlockEnd marks the last source packet of a FEC block.
	FlagBlockEnd
	// FlagRestored marks a source packet reconstructed from repair symbols.
	// A restored packet is otherwise indistinguishable from a received one.
	FlagRestored
)

// FEC carries the erasure-coding position of a packet within its block.
type FEC struct {
	// BlockNumber identifies the FEC block.
	BlockNumber Blknum
	// SymbolID is the encoding symbol id: source packets occupy 0..K-1,
	// repair packets K..K+R-1.
	SymbolID int
	// SourceCount is K, the number of source packets per block.
	SourceCount int
	// TotalCount is K+R, the number of symbols per block.
	TotalCount int
}

// Packet is one parsed datagram. Immutable after parse; holders share it via
// Retain/Release and the payload buffer returns to its pool when the last
// reference is dropped.
type Packet struct {
	// Addr is the transport source address the datagram arrived from.
	Addr net.Addr
	// SSRC identifies the remote stream.
	SSRC uint32
	// Seqnum is the RTP sequence number.
	Seqnum Seqnum
	// Timestamp is the RTP timestamp in source-rate samples.
	Timestamp Timestamp
	// PayloadType is the RTP payload type.
	PayloadType uint8
	// Flags describe the packet kind.
	Flags Flags
	// FEC is set when an erasure-coding scheme is active.
	FEC FEC
	// Duration is the packet span in samples per channel. Zero for repair
	// packets.
	Duration uint32
	// Payload is a view into the pooled buffer: media samples for audio
	// packets, the repair symbol for repair packets.
	Payload []byte
	// Raw is a view of the whole datagram the packet was parsed from.
	// FEC symbols protect raw datagrams, so reconstruction needs it.
	Raw []byte

	buffer *Buffer
	refs   int32
}

// New wraps a parsed packet around its backing buffer with one reference.
func New(buffer *Buffer) *Packet {
	return &Packet{buffer: buffer, refs: 1}
}

// HasFlags reports whether all given flags are set.
func (p *Packet) HasFlags(f Flags) bool {
	return p.Flags&f == f
}

// End returns the timestamp one past the last sample of the packet.
func (p *Packet) End() Timestamp {
	return p.Timestamp + p.Duration
}

// Retain adds a reference.
func (p *Packet) Retain() *Packet {
	atomic.AddInt32(&p.refs, 1)
	return p
}

// Release drops a reference, returning the backing buffer to its pool when
// the count reaches zero.
func (p *Packet) Release() {
	n := atomic.AddInt32(&p.refs, -1)
	if n < 0 {
		panic(fmt.Sprintf("packet: release of freed packet (refs=%d)", n))
	}
	if n == 0 && p.buffer != nil {
		p.buffer.free()
		p.buffer = nil
	}
}
