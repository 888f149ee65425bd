package packet

import "errors"

// ErrNoPacket is returned by readers when no packet is currently available.
// It is not a failure; the caller retries on the next tick.
var ErrNoPacket = errors.New("packet: no packet available")

// Reader pulls packets from an upstream stage.
type Reader interface {
	ReadPacket() (*Packet, error)
}

// Writer pushes packets into a downstream stage.
//
// The receiver-facing Writer must be safe to call from one producer
// goroutine; it is never called concurrently for the same instance.
type Writer interface {
	WritePacket(p *Packet) error
}
