package rtp

import "fmt"

// Registered payload types. The static L16 assignments follow RFC 3551;
// the 48 kHz L16 variants, Opus, and the repair carriers use the dynamic
// range.
const (
	PayloadTypeL16Stereo44 = 10
	PayloadTypeL16Mono44   = 11
	PayloadTypeL16Stereo48 = 100
	PayloadTypeL16Mono48   = 101
	PayloadTypeOpus        = 96

	PayloadTypeRepairRS8M = 123
	PayloadTypeRepairLDPC = 124
)

// Encoding identifies the media encoding of a payload type.
type Encoding int

const (
	// EncodingL16 is big-endian 16-bit linear PCM.
	EncodingL16 Encoding = iota
	// EncodingOpus is an Opus frame per packet.
	EncodingOpus
)

// PayloadSpec describes how to interpret a media payload type.
type PayloadSpec struct {
	Encoding   Encoding
	SampleRate uint32
	Channels   int
	// SamplesPerPacket is the fixed per-channel packet duration for
	// encodings whose payload length does not determine it.
	SamplesPerPacket uint32
}

var payloadSpecs = map[uint8]PayloadSpec{
	PayloadTypeL16Stereo44: {Encoding: EncodingL16, SampleRate: 44100, Channels: 2},
	PayloadTypeL16Mono44:   {Encoding: EncodingL16, SampleRate: 44100, Channels: 1},
	PayloadTypeL16Stereo48: {Encoding: EncodingL16, SampleRate: 48000, Channels: 2},
	PayloadTypeL16Mono48:   {Encoding: EncodingL16, SampleRate: 48000, Channels: 1},
	PayloadTypeOpus:        {Encoding: EncodingOpus, SampleRate: 48000, Channels: 2, SamplesPerPacket: 960},
}

// LookupPayloadType returns the spec for a media payload type.
func LookupPayloadType(pt uint8) (PayloadSpec, error) {
	spec, ok := payloadSpecs[pt]
	if !ok {
		return PayloadSpec{}, fmt.Errorf("%w: %d", ErrUnknownPayloadType, pt)
	}
	return spec, nil
}

// IsRepairPayloadType reports whether a payload type carries repair symbols.
func IsRepairPayloadType(pt uint8) bool {
	return pt == PayloadTypeRepairRS8M || pt == PayloadTypeRepairLDPC
}

// Duration returns the per-channel sample count of a payload of the given
// byte length.
func (s PayloadSpec) Duration(payloadLen int) uint32 {
	if s.Encoding == EncodingL16 {
		return uint32(payloadLen / 2 / s.Channels)
	}
	return s.SamplesPerPacket
}
