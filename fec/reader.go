package fec

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtp"
)

// DefaultMaxOpenBlocks is the retention budget: a block this many blocks
// behind the newest opened one is closed whether or not it decoded.
const DefaultMaxOpenBlocks = 16

// ReaderConfig holds configuration for creating a FEC reader.
type ReaderConfig struct {
	// Scheme selects the decoder.
	Scheme Scheme
	// Source is the ordered source packet stream.
	Source packet.Reader
	// Repair is the ordered repair packet stream.
	Repair packet.Reader
	// Parser re-parses reconstructed datagrams so restored packets are
	// indistinguishable from received ones.
	Parser *rtp.Parser
	// MaxOpenBlocks overrides the retention budget. Zero means default.
	MaxOpenBlocks int
}

// Reader merges a source and a repair packet stream into a single recovered
// source stream. Source positions of block b are emitted strictly before
// block b+1, in position order within a block; repair packets are never
// emitted. Positions that cannot be recovered by the time their block's
// retention expires become gaps: the reader simply skips them and the
// depacketizer conceals the hole by timestamp.
type Reader struct {
	scheme  Scheme
	source  packet.Reader
	repair  packet.Reader
	parser  *rtp.Parser
	decoder BlockDecoder
	maxOpen int

	blocks     []*blockState
	started    bool
	latestOpen packet.Blknum

	restored     uint64
	lost         uint64
	decodeErrors uint64
	outOfWindow  uint64
}

type blockState struct {
	blknum    packet.Blknum
	k, n      int
	symbolLen int

	source  []*packet.Packet
	repairs []*packet.Packet

	nSource, nRepair int
	emitPos          int
	// lastAttempt dedupes decode attempts: retry only after more symbols.
	lastAttempt int
	decoded     bool
}

func (b *blockState) received() int {
	return b.nSource + b.nRepair
}

// NewReader creates a FEC reader.
func NewReader(config ReaderConfig) (*Reader, error) {
	if config.Source == nil || config.Repair == nil {
		return nil, fmt.Errorf("fec reader: source and repair readers cannot be nil")
	}
	if config.Parser == nil {
		return nil, fmt.Errorf("fec reader: parser cannot be nil")
	}

	decoder, err := NewBlockDecoder(config.Scheme)
	if err != nil {
		return nil, err
	}

	maxOpen := config.MaxOpenBlocks
	if maxOpen == 0 {
		maxOpen = DefaultMaxOpenBlocks
	}
	if maxOpen < 2 {
		return nil, fmt.Errorf("fec reader: retention of %d blocks is too small", maxOpen)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewReader",
		"scheme":          config.Scheme.String(),
		"max_open_blocks": maxOpen,
	}).Info("Created FEC reader")

	return &Reader{
		scheme:  config.Scheme,
		source:  config.Source,
		repair:  config.Repair,
		parser:  config.Parser,
		decoder: decoder,
		maxOpen: maxOpen,
	}, nil
}

// ReadPacket returns the next source packet, originally received or
// reconstructed, or ErrNoPacket when the stream has to wait for more
// symbols.
func (r *Reader) ReadPacket() (*packet.Packet, error) {
	r.fetch()

	for len(r.blocks) > 0 {
		b := r.blocks[0]
		r.tryDecode(b)

		for b.emitPos < b.k {
			if p := b.source[b.emitPos]; p != nil {
				// The block keeps its own reference: an emitted packet may
				// still serve as a decode symbol for a late repair packet.
				b.emitPos++
				return p.Retain(), nil
			}
			if !r.expired(b) {
				return nil, packet.ErrNoPacket
			}
			r.lost++
			b.emitPos++
		}

		r.dropBlock()
	}

	return nil, packet.ErrNoPacket
}

// Restored returns the number of reconstructed source packets.
func (r *Reader) Restored() uint64 {
	return r.restored
}

// Lost returns the number of source positions given up as gaps.
func (r *Reader) Lost() uint64 {
	return r.lost
}

// DecodeErrors returns the number of scheme decoder failures.
func (r *Reader) DecodeErrors() uint64 {
	return r.decodeErrors
}

// OutOfWindow returns the number of packets dropped for closed or
// out-of-window blocks.
func (r *Reader) OutOfWindow() uint64 {
	return r.outOfWindow
}

// Close releases everything still buffered.
func (r *Reader) Close() {
	for _, b := range r.blocks {
		releaseAll(b.source)
		releaseAll(b.repairs)
	}
	r.blocks = nil
}

func releaseAll(pkts []*packet.Packet) {
	for i, p := range pkts {
		if p != nil {
			p.Release()
			pkts[i] = nil
		}
	}
}

// expired reports whether the block's retention budget ran out.
func (r *Reader) expired(b *blockState) bool {
	return int(packet.BlknumDiff(r.latestOpen, b.blknum)) >= r.maxOpen
}

func (r *Reader) dropBlock() {
	b := r.blocks[0]
	releaseAll(b.source)
	releaseAll(b.repairs)
	copy(r.blocks, r.blocks[1:])
	r.blocks = r.blocks[:len(r.blocks)-1]
}

func (r *Reader) fetch() {
	for {
		p, err := r.repair.ReadPacket()
		if errors.Is(err, packet.ErrNoPacket) {
			break
		}
		if err != nil {
			return
		}
		r.addPacket(p)
	}
	for {
		p, err := r.source.ReadPacket()
		if errors.Is(err, packet.ErrNoPacket) {
			break
		}
		if err != nil {
			return
		}
		r.addPacket(p)
	}
}

func (r *Reader) addPacket(p *packet.Packet) {
	if p.FEC.SourceCount <= 0 || p.FEC.TotalCount <= p.FEC.SourceCount {
		r.outOfWindow++
		p.Release()
		return
	}

	blknum := p.FEC.BlockNumber
	if r.started {
		head := r.headBlknum()
		if packet.BlknumLt(blknum, head) {
			r.outOfWindow++
			logrus.WithFields(logrus.Fields{
				"function": "Reader.addPacket",
				"blknum":   blknum,
				"head":     head,
			}).Debug("Dropping packet for closed block")
			p.Release()
			return
		}
	}

	b := r.findOrOpenBlock(blknum, p.FEC.SourceCount, p.FEC.TotalCount)
	if b == nil {
		r.outOfWindow++
		p.Release()
		return
	}

	esi := p.FEC.SymbolID
	if p.HasFlags(packet.FlagRepair) {
		if esi < b.k || esi >= b.n || b.repairs[esi-b.k] != nil {
			r.outOfWindow++
			p.Release()
			return
		}
		if b.symbolLen == 0 {
			b.symbolLen = len(p.Payload)
		}
		if len(p.Payload) != b.symbolLen {
			r.outOfWindow++
			p.Release()
			return
		}
		b.repairs[esi-b.k] = p
		b.nRepair++
		return
	}

	if esi < 0 || esi >= b.k || esi < b.emitPos || b.source[esi] != nil {
		r.outOfWindow++
		p.Release()
		return
	}
	b.source[esi] = p
	b.nSource++
}

func (r *Reader) headBlknum() packet.Blknum {
	if len(r.blocks) > 0 {
		return r.blocks[0].blknum
	}
	return r.latestOpen + 1
}

// findOrOpenBlock returns the state for blknum, opening it (and any
// intermediate blocks implicitly, by ordering) when new. Blocks open
// strictly in increasing order; a block too far ahead of the head forces
// the head to expire on the next read pass.
func (r *Reader) findOrOpenBlock(blknum packet.Blknum, k, n int) *blockState {
	for _, b := range r.blocks {
		if b.blknum == blknum {
			if b.k != k || b.n != n {
				return nil
			}
			return b
		}
	}

	b := &blockState{
		blknum:  blknum,
		k:       k,
		n:       n,
		source:  make([]*packet.Packet, k),
		repairs: make([]*packet.Packet, n-k),
	}

	i := len(r.blocks)
	for i > 0 && packet.BlknumLt(blknum, r.blocks[i-1].blknum) {
		i--
	}
	r.blocks = append(r.blocks, nil)
	copy(r.blocks[i+1:], r.blocks[i:])
	r.blocks[i] = b

	if !r.started || packet.BlknumLt(r.latestOpen, blknum) {
		r.latestOpen = blknum
	}
	r.started = true
	return b
}

func (r *Reader) tryDecode(b *blockState) {
	if b.decoded || b.nSource >= b.k || b.received() < b.k || b.symbolLen == 0 {
		return
	}
	if b.received() == b.lastAttempt {
		return
	}
	b.lastAttempt = b.received()

	if err := r.decoder.Reset(b.k, b.n-b.k, b.symbolLen); err != nil {
		r.decodeErrors++
		return
	}

	for esi, p := range b.source {
		if p == nil {
			continue
		}
		sym, err := frameSymbol(p.Raw, b.symbolLen)
		if err != nil {
			r.decodeErrors++
			return
		}
		if err := r.decoder.AddSymbol(esi, sym); err != nil {
			r.decodeErrors++
			return
		}
	}
	for i, p := range b.repairs {
		if p == nil {
			continue
		}
		if err := r.decoder.AddSymbol(b.k+i, p.Payload); err != nil {
			r.decodeErrors++
			return
		}
	}

	symbols, err := r.decoder.TryDecode()
	if errors.Is(err, ErrInsufficientData) {
		return
	}
	if err != nil {
		r.decodeErrors++
		logrus.WithFields(logrus.Fields{
			"function": "Reader.tryDecode",
			"blknum":   b.blknum,
			"error":    err.Error(),
		}).Debug("Block decode failed")
		return
	}

	for esi := 0; esi < b.k; esi++ {
		if b.source[esi] != nil {
			continue
		}
		if err := r.restorePacket(b, esi, symbols[esi]); err != nil {
			r.decodeErrors++
			logrus.WithFields(logrus.Fields{
				"function": "Reader.tryDecode",
				"blknum":   b.blknum,
				"esi":      esi,
				"error":    err.Error(),
			}).Debug("Failed to restore packet from decoded symbol")
		}
	}
	b.decoded = true
}

func (r *Reader) restorePacket(b *blockState, esi int, symbol []byte) error {
	datagram, err := unframeSymbol(symbol)
	if err != nil {
		return err
	}

	// Borrow the source address from any received packet of the block.
	addr := r.blockAddr(b)

	p, err := r.parser.Parse(addr, datagram)
	if err != nil {
		return err
	}
	p.Flags |= packet.FlagRestored

	b.source[esi] = p
	b.nSource++
	r.restored++
	return nil
}

func (r *Reader) blockAddr(b *blockState) net.Addr {
	for _, p := range b.source {
		if p != nil {
			return p.Addr
		}
	}
	for _, p := range b.repairs {
		if p != nil {
			return p.Addr
		}
	}
	return nil
}
