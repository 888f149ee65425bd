package packet

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// InboundQueue is the bounded FIFO handoff between the network goroutine and
// the pipeline goroutine. WritePacket never blocks: when the queue is full
// the packet is dropped and counted, so the network goroutine is never
// stalled by a slow pipeline.
type InboundQueue struct {
	ch      chan *Packet
	dropped uint64
}

// NewInboundQueue creates a queue holding up to capacity packets.
func NewInboundQueue(capacity int) (*InboundQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("inbound queue: invalid capacity %d", capacity)
	}
	return &InboundQueue{ch: make(chan *Packet, capacity)}, nil
}

// WritePacket enqueues a packet without blocking.
func (q *InboundQueue) WritePacket(p *Packet) error {
	select {
	case q.ch <- p:
		return nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		logrus.WithFields(logrus.Fields{
			"function": "InboundQueue.WritePacket",
			"seqnum":   p.Seqnum,
		}).Debug("Inbound queue full, dropping packet")
		p.Release()
		return nil
	}
}

// ReadPacket dequeues the next packet, or ErrNoPacket when empty.
func (q *InboundQueue) ReadPacket() (*Packet, error) {
	select {
	case p := <-q.ch:
		return p, nil
	default:
		return nil, ErrNoPacket
	}
}

// Dropped returns the number of packets lost to a full queue.
func (q *InboundQueue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Close drains and releases everything still queued.
func (q *InboundQueue) Close() {
	for {
		select {
		case p := <-q.ch:
			p.Release()
		default:
			return
		}
	}
}
