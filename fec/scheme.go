package fec

import "fmt"

// Scheme selects the erasure coding scheme of a stream.
type Scheme int

const (
	// SchemeNone disables FEC.
	SchemeNone Scheme = iota
	// SchemeReedSolomon is Reed-Solomon over GF(256).
	SchemeReedSolomon
	// SchemeLDPC is LDPC-Staircase.
	SchemeLDPC
)

// String returns the configuration name of the scheme.
func (s Scheme) String() string {
	switch s {
	case SchemeNone:
		return "disable"
	case SchemeReedSolomon:
		return "rs8m"
	case SchemeLDPC:
		return "ldpc"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseScheme parses a configuration name into a scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "disable", "":
		return SchemeNone, nil
	case "rs8m":
		return SchemeReedSolomon, nil
	case "ldpc":
		return SchemeLDPC, nil
	default:
		return SchemeNone, fmt.Errorf("fec: unknown scheme %q", name)
	}
}
