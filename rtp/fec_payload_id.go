package rtp

import (
	"encoding/binary"
	"fmt"
)

// fecPayloadIDSize is the encoded size of a FEC payload ID.
const fecPayloadIDSize = 8

// FECPayloadID locates a symbol within its FEC block. Source packets carry
// it as a trailer after the media payload; repair packets carry it as a
// header before the repair symbol.
type FECPayloadID struct {
	BlockNumber uint16
	// SymbolID is the encoding symbol id within the block.
	SymbolID uint16
	// SourceCount is K, the number of source symbols per block.
	SourceCount uint16
	// TotalCount is K+R, the total number of symbols per block.
	TotalCount uint16
}

// Validate checks internal consistency.
func (id FECPayloadID) Validate() error {
	if id.SourceCount == 0 || id.TotalCount <= id.SourceCount {
		return fmt.Errorf("fec payload id: invalid block geometry k=%d n=%d",
			id.SourceCount, id.TotalCount)
	}
	if id.SymbolID >= id.TotalCount {
		return fmt.Errorf("fec payload id: symbol id %d outside block of %d symbols",
			id.SymbolID, id.TotalCount)
	}
	return nil
}

func (id FECPayloadID) encode(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], id.BlockNumber)
	binary.BigEndian.PutUint16(dst[2:4], id.SymbolID)
	binary.BigEndian.PutUint16(dst[4:6], id.SourceCount)
	binary.BigEndian.PutUint16(dst[6:8], id.TotalCount)
}

func decodeFECPayloadID(src []byte) (FECPayloadID, error) {
	if len(src) < fecPayloadIDSize {
		return FECPayloadID{}, fmt.Errorf("fec payload id: short buffer of %d bytes", len(src))
	}
	id := FECPayloadID{
		BlockNumber: binary.BigEndian.Uint16(src[0:2]),
		SymbolID:    binary.BigEndian.Uint16(src[2:4]),
		SourceCount: binary.BigEndian.Uint16(src[4:6]),
		TotalCount:  binary.BigEndian.Uint16(src[6:8]),
	}
	if err := id.Validate(); err != nil {
		return FECPayloadID{}, err
	}
	return id, nil
}
