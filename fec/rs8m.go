package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Reed-Solomon over GF(256). The coder is maximum-distance-separable: any k
// of the k+r symbols reconstruct the block.

type reedSolomonDecoder struct {
	rs        reedsolomon.Encoder
	k, r      int
	symbolLen int
	shards    [][]byte
}

func newReedSolomonDecoder() *reedSolomonDecoder {
	return &reedSolomonDecoder{}
}

func (d *reedSolomonDecoder) Reset(k, r, symbolLen int) error {
	if err := validateGeometry(k, r, symbolLen); err != nil {
		return err
	}

	if d.rs == nil || d.k != k || d.r != r {
		rs, err := reedsolomon.New(k, r)
		if err != nil {
			return fmt.Errorf("fec: reed-solomon init failed: %w", err)
		}
		d.rs = rs
	}

	d.k, d.r, d.symbolLen = k, r, symbolLen
	d.shards = make([][]byte, k+r)
	return nil
}

func (d *reedSolomonDecoder) AddSymbol(esi int, data []byte) error {
	if esi < 0 || esi >= d.k+d.r {
		return fmt.Errorf("fec: symbol id %d outside block of %d symbols", esi, d.k+d.r)
	}
	if len(data) != d.symbolLen {
		return fmt.Errorf("fec: symbol of %d bytes, expected %d", len(data), d.symbolLen)
	}
	shard := make([]byte, d.symbolLen)
	copy(shard, data)
	d.shards[esi] = shard
	return nil
}

func (d *reedSolomonDecoder) TryDecode() ([][]byte, error) {
	present := 0
	for _, s := range d.shards {
		if s != nil {
			present++
		}
	}
	if present < d.k {
		return nil, ErrInsufficientData
	}

	if err := d.rs.Reconstruct(d.shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon reconstruct failed: %w", err)
	}
	return d.shards[:d.k], nil
}

type reedSolomonEncoder struct {
	rs        reedsolomon.Encoder
	k, r      int
	symbolLen int
	shards    [][]byte
}

func newReedSolomonEncoder() *reedSolomonEncoder {
	return &reedSolomonEncoder{}
}

func (e *reedSolomonEncoder) Reset(k, r, symbolLen int) error {
	if err := validateGeometry(k, r, symbolLen); err != nil {
		return err
	}

	if e.rs == nil || e.k != k || e.r != r {
		rs, err := reedsolomon.New(k, r)
		if err != nil {
			return fmt.Errorf("fec: reed-solomon init failed: %w", err)
		}
		e.rs = rs
	}

	e.k, e.r, e.symbolLen = k, r, symbolLen
	e.shards = make([][]byte, k+r)
	for i := range e.shards {
		e.shards[i] = make([]byte, symbolLen)
	}
	return nil
}

func (e *reedSolomonEncoder) SetSourceSymbol(esi int, data []byte) error {
	if esi < 0 || esi >= e.k {
		return fmt.Errorf("fec: source symbol id %d outside 0..%d", esi, e.k-1)
	}
	if len(data) != e.symbolLen {
		return fmt.Errorf("fec: symbol of %d bytes, expected %d", len(data), e.symbolLen)
	}
	copy(e.shards[esi], data)
	return nil
}

func (e *reedSolomonEncoder) Encode() ([][]byte, error) {
	if err := e.rs.Encode(e.shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon encode failed: %w", err)
	}
	return e.shards[e.k:], nil
}
