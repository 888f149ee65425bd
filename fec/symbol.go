package fec

import (
	"encoding/binary"
	"fmt"
)

// Symbols protect whole datagrams. Datagram sizes may differ within a block,
// so each source symbol is the datagram prefixed with its 16-bit length and
// zero-padded to the block's uniform symbol length.

const symbolLenPrefix = 2

// frameSymbol builds the fixed-size symbol protecting one datagram.
func frameSymbol(datagram []byte, symbolLen int) ([]byte, error) {
	if symbolLenPrefix+len(datagram) > symbolLen {
		return nil, fmt.Errorf("fec: datagram of %d bytes does not fit symbol of %d", len(datagram), symbolLen)
	}
	sym := make([]byte, symbolLen)
	binary.BigEndian.PutUint16(sym, uint16(len(datagram)))
	copy(sym[symbolLenPrefix:], datagram)
	return sym, nil
}

// unframeSymbol extracts the datagram from a symbol.
func unframeSymbol(sym []byte) ([]byte, error) {
	if len(sym) < symbolLenPrefix {
		return nil, fmt.Errorf("fec: symbol of %d bytes too short", len(sym))
	}
	n := int(binary.BigEndian.Uint16(sym))
	if symbolLenPrefix+n > len(sym) {
		return nil, fmt.Errorf("fec: symbol length prefix %d exceeds symbol size %d", n, len(sym))
	}
	return sym[symbolLenPrefix : symbolLenPrefix+n], nil
}

// symbolSize returns the uniform symbol length needed for a set of datagrams.
func symbolSize(datagrams [][]byte) int {
	max := 0
	for _, d := range datagrams {
		if len(d) > max {
			max = len(d)
		}
	}
	return symbolLenPrefix + max
}
