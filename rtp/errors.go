package rtp

import "errors"

var (
	// ErrUnknownPayloadType is returned for payload types not in the registry.
	ErrUnknownPayloadType = errors.New("rtp: unknown payload type")

	// ErrMalformedPacket is returned when a datagram cannot be parsed.
	ErrMalformedPacket = errors.New("rtp: malformed packet")
)
