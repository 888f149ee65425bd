package fec

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/rtp"
)

// WriterConfig holds configuration for creating a FEC writer.
type WriterConfig struct {
	// Scheme selects the encoder.
	Scheme Scheme
	// SourceCount is K, source packets per block.
	SourceCount int
	// RepairCount is R, repair packets per block.
	RepairCount int
	// Composer builds the outgoing packets.
	Composer *rtp.Composer
}

// Writer assembles outgoing media packets into FEC blocks and produces the
// block's repair packets after the last source packet.
type Writer struct {
	scheme   Scheme
	k, r     int
	composer *rtp.Composer
	encoder  BlockEncoder

	blknum    uint16
	datagrams [][]byte
	blockTs   uint32
}

// NewWriter creates a FEC writer.
func NewWriter(config WriterConfig) (*Writer, error) {
	if config.Composer == nil {
		return nil, fmt.Errorf("fec writer: composer cannot be nil")
	}
	if config.SourceCount <= 0 || config.RepairCount <= 0 {
		return nil, fmt.Errorf("fec writer: invalid block geometry k=%d r=%d",
			config.SourceCount, config.RepairCount)
	}

	encoder, err := NewBlockEncoder(config.Scheme)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewWriter",
		"scheme":         config.Scheme.String(),
		"source_packets": config.SourceCount,
		"repair_packets": config.RepairCount,
	}).Info("Created FEC writer")

	return &Writer{
		scheme:   config.Scheme,
		k:        config.SourceCount,
		r:        config.RepairCount,
		composer: config.Composer,
		encoder:  encoder,
	}, nil
}

// RepairPayloadType returns the repair carrier payload type for the scheme.
func (w *Writer) RepairPayloadType() (uint8, error) {
	switch w.scheme {
	case SchemeReedSolomon:
		return rtp.PayloadTypeRepairRS8M, nil
	case SchemeLDPC:
		return rtp.PayloadTypeRepairLDPC, nil
	default:
		return 0, fmt.Errorf("fec writer: no repair payload type for scheme %s", w.scheme)
	}
}

// WriteMedia composes the media packet for one payload and returns the
// datagrams to send: the media packet itself, plus the block's repair
// packets when this payload completes a block.
func (w *Writer) WriteMedia(payload []byte, samples uint32) ([][]byte, error) {
	esi := len(w.datagrams)
	if esi == 0 {
		w.blockTs = w.composer.Timestamp()
	}

	id := rtp.FECPayloadID{
		BlockNumber: w.blknum,
		SymbolID:    uint16(esi),
		SourceCount: uint16(w.k),
		TotalCount:  uint16(w.k + w.r),
	}

	media, err := w.composer.ComposeMedia(payload, samples, &id)
	if err != nil {
		return nil, err
	}
	w.datagrams = append(w.datagrams, media)

	out := [][]byte{media}
	if len(w.datagrams) < w.k {
		return out, nil
	}

	repairs, err := w.encodeBlock()
	if err != nil {
		return nil, err
	}
	out = append(out, repairs...)

	w.datagrams = nil
	w.blknum++
	return out, nil
}

func (w *Writer) encodeBlock() ([][]byte, error) {
	symbolLen := symbolSize(w.datagrams)

	if err := w.encoder.Reset(w.k, w.r, symbolLen); err != nil {
		return nil, err
	}
	for esi, d := range w.datagrams {
		sym, err := frameSymbol(d, symbolLen)
		if err != nil {
			return nil, err
		}
		if err := w.encoder.SetSourceSymbol(esi, sym); err != nil {
			return nil, err
		}
	}

	symbols, err := w.encoder.Encode()
	if err != nil {
		return nil, fmt.Errorf("fec writer: block %d encode failed: %w", w.blknum, err)
	}

	repairPT, err := w.RepairPayloadType()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, w.r)
	for i, sym := range symbols {
		id := rtp.FECPayloadID{
			BlockNumber: w.blknum,
			SymbolID:    uint16(w.k + i),
			SourceCount: uint16(w.k),
			TotalCount:  uint16(w.k + w.r),
		}
		repair, err := w.composer.ComposeRepair(sym, id, repairPT, w.blockTs)
		if err != nil {
			return nil, err
		}
		out = append(out, repair)
	}
	return out, nil
}
