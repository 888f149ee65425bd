// Package audiowire is a toolkit for real-time audio streaming over
// unreliable networks.
//
// A Sender ingests PCM frames and emits RTP media packets, optionally
// protected by Reed-Solomon or LDPC-Staircase repair packets. A Receiver
// accepts out-of-order, lossy, duplicated packets from any number of remote
// senders, reconstructs what the FEC covers, conceals what it cannot,
// adapts its playback clock to each sender, and delivers a gapless stream
// of fixed-size frames to a sink.
//
// The pipeline is pull-based and synchronous: the sink pulls the mixer,
// the mixer pulls each session, the session pulls its depacketizer, the
// depacketizer pulls the FEC reader, and the FEC reader pulls the sorted
// queues. The only asynchronous edge is the bounded handoff between the
// network goroutine and the pipeline goroutine.
package audiowire

import (
	"sync"

	"github.com/opd-ai/audiowire/packet"
)

// serialWriter upholds the packet-writer contract when several sockets feed
// one receiver: the mutex is held only for the route itself, never across
// anything blocking.
type serialWriter struct {
	mu     sync.Mutex
	writer packet.Writer
}

func (w *serialWriter) WritePacket(p *packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.WritePacket(p)
}
