package fec

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is reported by a decoder when the received symbols do
// not span the block: more symbols are needed before decoding can succeed.
var ErrInsufficientData = errors.New("fec: insufficient symbols to decode block")

// BlockDecoder reconstructs the source symbols of one block. A decoder is
// reused across blocks via Reset.
type BlockDecoder interface {
	// Reset prepares the decoder for a block of k source and r repair
	// symbols of symbolLen bytes each.
	Reset(k, r, symbolLen int) error
	// AddSymbol feeds one received symbol. Source symbols have esi in
	// 0..k-1, repair symbols k..k+r-1.
	AddSymbol(esi int, data []byte) error
	// TryDecode returns all k source symbols, reconstructing the missing
	// ones, or ErrInsufficientData when the received set has too low rank.
	TryDecode() ([][]byte, error)
}

// BlockEncoder produces the repair symbols of one block.
type BlockEncoder interface {
	// Reset prepares the encoder for a block of k source and r repair
	// symbols of symbolLen bytes each.
	Reset(k, r, symbolLen int) error
	// SetSourceSymbol feeds one source symbol, esi in 0..k-1.
	SetSourceSymbol(esi int, data []byte) error
	// Encode returns the r repair symbols.
	Encode() ([][]byte, error)
}

// NewBlockDecoder creates a decoder for the scheme.
func NewBlockDecoder(scheme Scheme) (BlockDecoder, error) {
	switch scheme {
	case SchemeReedSolomon:
		return newReedSolomonDecoder(), nil
	case SchemeLDPC:
		return newLDPCDecoder(), nil
	default:
		return nil, fmt.Errorf("fec: no decoder for scheme %s", scheme)
	}
}

// NewBlockEncoder creates an encoder for the scheme.
func NewBlockEncoder(scheme Scheme) (BlockEncoder, error) {
	switch scheme {
	case SchemeReedSolomon:
		return newReedSolomonEncoder(), nil
	case SchemeLDPC:
		return newLDPCEncoder(), nil
	default:
		return nil, fmt.Errorf("fec: no encoder for scheme %s", scheme)
	}
}

func validateGeometry(k, r, symbolLen int) error {
	if k <= 0 || r <= 0 {
		return fmt.Errorf("fec: invalid block geometry k=%d r=%d", k, r)
	}
	if symbolLen <= 0 {
		return fmt.Errorf("fec: invalid symbol length %d", symbolLen)
	}
	return nil
}
