package packet

// Seqnum is a 16-bit RTP sequence number. It wraps.
type Seqnum = uint16

// Timestamp is a 32-bit RTP timestamp in source-rate samples. It wraps.
type Timestamp = uint32

// Blknum is a 16-bit FEC block number. It wraps.
type Blknum = uint16

// SeqnumDiff computes a-b in signed modular arithmetic.
func SeqnumDiff(a, b Seqnum) int16 {
	return int16(a - b)
}

// SeqnumLt reports whether a is before b taking wrap into account.
func SeqnumLt(a, b Seqnum) bool {
	return SeqnumDiff(a, b) < 0
}

// SeqnumLe reports whether a is before or equal to b taking wrap into account.
func SeqnumLe(a, b Seqnum) bool {
	return SeqnumDiff(a, b) <= 0
}

// TimestampDiff computes a-b in signed modular arithmetic.
func TimestampDiff(a, b Timestamp) int32 {
	return int32(a - b)
}

// TimestampLt reports whether a is before b taking wrap into account.
func TimestampLt(a, b Timestamp) bool {
	return TimestampDiff(a, b) < 0
}

// TimestampLe reports whether a is before or equal to b taking wrap into account.
func TimestampLe(a, b Timestamp) bool {
	return TimestampDiff(a, b) <= 0
}

// BlknumDiff computes a-b in signed modular arithmetic.
func BlknumDiff(a, b Blknum) int16 {
	return int16(a - b)
}

// BlknumLt reports whether a is before b taking wrap into account.
func BlknumLt(a, b Blknum) bool {
	return BlknumDiff(a, b) < 0
}

// BlknumLe reports whether a is before or equal to b taking wrap into account.
func BlknumLe(a, b Blknum) bool {
	return BlknumDiff(a, b) <= 0
}
