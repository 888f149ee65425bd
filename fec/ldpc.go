package fec

import (
	"fmt"
)

// LDPC-Staircase. The parity check matrix is H = [H1 | H2] where H1 (r x k)
// carries n1 ones per source column placed by the RFC 5170 pseudo-random
// generator, and H2 (r x r) is the staircase double diagonal. Repair symbol
// j satisfies: xor(sources in row j) ^ repair[j] ^ repair[j-1] = 0.
//
// Unlike Reed-Solomon the code is not maximum-distance-separable: decoding
// needs the received set to span the missing symbols, which Gaussian
// elimination over GF(2) checks exactly.

const (
	ldpcN1   = 3
	ldpcSeed = 1389
)

// rfc5170PRNG is the Park-Miller minimal standard generator used by both
// ends to derive the same H1 matrix.
type rfc5170PRNG struct {
	state uint32
}

func newRFC5170PRNG(seed uint32) *rfc5170PRNG {
	if seed == 0 {
		seed = 1
	}
	return &rfc5170PRNG{state: seed}
}

func (p *rfc5170PRNG) next(m uint32) uint32 {
	p.state = uint32(uint64(p.state) * 16807 % 2147483647)
	return p.state % m
}

// buildH1 returns the left parity sub-matrix as per-row source column sets.
func buildH1(k, r int) [][]int {
	prng := newRFC5170PRNG(ldpcSeed)
	rows := make([][]bool, r)
	for j := range rows {
		rows[j] = make([]bool, k)
	}

	for col := 0; col < k; col++ {
		ones := ldpcN1
		if ones > r {
			ones = r
		}
		for t := 0; t < ones; t++ {
			row := int(prng.next(uint32(r)))
			for rows[row][col] {
				row = int(prng.next(uint32(r)))
			}
			rows[row][col] = true
		}
	}

	// A row with no source column would make its repair symbol depend only
	// on the staircase; give every row at least one.
	for j := 0; j < r; j++ {
		empty := true
		for col := 0; col < k && empty; col++ {
			empty = !rows[j][col]
		}
		if empty {
			rows[j][int(prng.next(uint32(k)))] = true
		}
	}

	out := make([][]int, r)
	for j := 0; j < r; j++ {
		for col := 0; col < k; col++ {
			if rows[j][col] {
				out[j] = append(out[j], col)
			}
		}
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range src {
		dst[i] ^= src[i]
	}
}

type ldpcEncoder struct {
	k, r      int
	symbolLen int
	h1        [][]int
	sources   [][]byte
}

func newLDPCEncoder() *ldpcEncoder {
	return &ldpcEncoder{}
}

func (e *ldpcEncoder) Reset(k, r, symbolLen int) error {
	if err := validateGeometry(k, r, symbolLen); err != nil {
		return err
	}
	if e.h1 == nil || e.k != k || e.r != r {
		e.h1 = buildH1(k, r)
	}
	e.k, e.r, e.symbolLen = k, r, symbolLen
	e.sources = make([][]byte, k)
	return nil
}

func (e *ldpcEncoder) SetSourceSymbol(esi int, data []byte) error {
	if esi < 0 || esi >= e.k {
		return fmt.Errorf("fec: source symbol id %d outside 0..%d", esi, e.k-1)
	}
	if len(data) != e.symbolLen {
		return fmt.Errorf("fec: symbol of %d bytes, expected %d", len(data), e.symbolLen)
	}
	sym := make([]byte, e.symbolLen)
	copy(sym, data)
	e.sources[esi] = sym
	return nil
}

func (e *ldpcEncoder) Encode() ([][]byte, error) {
	for esi, s := range e.sources {
		if s == nil {
			return nil, fmt.Errorf("fec: missing source symbol %d", esi)
		}
	}

	repairs := make([][]byte, e.r)
	for j := 0; j < e.r; j++ {
		sym := make([]byte, e.symbolLen)
		for _, col := range e.h1[j] {
			xorInto(sym, e.sources[col])
		}
		if j > 0 {
			xorInto(sym, repairs[j-1])
		}
		repairs[j] = sym
	}
	return repairs, nil
}

type ldpcDecoder struct {
	k, r      int
	symbolLen int
	h1        [][]int
	symbols   [][]byte // k sources then r repairs
}

func newLDPCDecoder() *ldpcDecoder {
	return &ldpcDecoder{}
}

func (d *ldpcDecoder) Reset(k, r, symbolLen int) error {
	if err := validateGeometry(k, r, symbolLen); err != nil {
		return err
	}
	if d.h1 == nil || d.k != k || d.r != r {
		d.h1 = buildH1(k, r)
	}
	d.k, d.r, d.symbolLen = k, r, symbolLen
	d.symbols = make([][]byte, k+r)
	return nil
}

func (d *ldpcDecoder) AddSymbol(esi int, data []byte) error {
	if esi < 0 || esi >= d.k+d.r {
		return fmt.Errorf("fec: symbol id %d outside block of %d symbols", esi, d.k+d.r)
	}
	if len(data) != d.symbolLen {
		return fmt.Errorf("fec: symbol of %d bytes, expected %d", len(data), d.symbolLen)
	}
	sym := make([]byte, d.symbolLen)
	copy(sym, data)
	d.symbols[esi] = sym
	return nil
}

// TryDecode solves the parity equations for the missing symbols by Gaussian
// elimination over GF(2).
func (d *ldpcDecoder) TryDecode() ([][]byte, error) {
	// Index the unknowns.
	unknown := make(map[int]int) // esi -> column in the elimination matrix
	var unknownESI []int
	missingSources := 0
	for esi, s := range d.symbols {
		if s == nil {
			unknown[esi] = len(unknownESI)
			unknownESI = append(unknownESI, esi)
			if esi < d.k {
				missingSources++
			}
		}
	}

	if missingSources == 0 {
		return d.symbols[:d.k], nil
	}

	// One equation per parity row: coefficient bits over the unknowns, the
	// known symbols folded into the right-hand side.
	type equation struct {
		coef []uint64
		rhs  []byte
	}
	words := (len(unknownESI) + 63) / 64
	setBit := func(coef []uint64, i int) { coef[i/64] ^= 1 << (i % 64) }
	hasBit := func(coef []uint64, i int) bool { return coef[i/64]&(1<<(i%64)) != 0 }

	eqs := make([]equation, 0, d.r)
	for j := 0; j < d.r; j++ {
		eq := equation{coef: make([]uint64, words), rhs: make([]byte, d.symbolLen)}
		accumulate := func(esi int) {
			if s := d.symbols[esi]; s != nil {
				xorInto(eq.rhs, s)
			} else {
				setBit(eq.coef, unknown[esi])
			}
		}
		for _, col := range d.h1[j] {
			accumulate(col)
		}
		accumulate(d.k + j)
		if j > 0 {
			accumulate(d.k + j - 1)
		}
		eqs = append(eqs, eq)
	}

	// Forward elimination to reduced row echelon form.
	pivotOf := make([]int, len(unknownESI))
	for i := range pivotOf {
		pivotOf[i] = -1
	}
	row := 0
	for col := 0; col < len(unknownESI) && row < len(eqs); col++ {
		pivot := -1
		for i := row; i < len(eqs); i++ {
			if hasBit(eqs[i].coef, col) {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			continue
		}
		eqs[row], eqs[pivot] = eqs[pivot], eqs[row]
		for i := 0; i < len(eqs); i++ {
			if i != row && hasBit(eqs[i].coef, col) {
				for w := range eqs[i].coef {
					eqs[i].coef[w] ^= eqs[row].coef[w]
				}
				xorInto(eqs[i].rhs, eqs[row].rhs)
			}
		}
		pivotOf[col] = row
		row++
	}

	// Every missing source symbol must have been pinned to a pivot row with
	// no other unknowns left in it.
	for col, esi := range unknownESI {
		if esi >= d.k {
			continue
		}
		r := pivotOf[col]
		if r < 0 {
			return nil, ErrInsufficientData
		}
		for c := range unknownESI {
			if c != col && hasBit(eqs[r].coef, c) {
				return nil, ErrInsufficientData
			}
		}
		sym := make([]byte, d.symbolLen)
		copy(sym, eqs[r].rhs)
		d.symbols[esi] = sym
	}

	return d.symbols[:d.k], nil
}
