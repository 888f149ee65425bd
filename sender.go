package audiowire

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/pipeline"
	"github.com/opd-ai/audiowire/rtp"
	"github.com/opd-ai/audiowire/transport"
)

// Sender is the public sending peer: connect endpoints, then write frames.
type Sender struct {
	cfg      config.SenderConfig
	pipeline *pipeline.Sender

	mu         sync.Mutex
	sourceConn *transport.UDPSender
	repairConn *transport.UDPSender
	closed     bool
}

// OpenSender creates a sender from the configuration.
func OpenSender(cfg config.SenderConfig) (*Sender, error) {
	s := &Sender{cfg: cfg}

	p, err := pipeline.NewSender(cfg, s.routeDatagram)
	if err != nil {
		return nil, err
	}
	s.pipeline = p

	logrus.WithFields(logrus.Fields{
		"function": "OpenSender",
		"ssrc":     p.SSRC(),
	}).Info("Opened sender")

	return s, nil
}

// Connect attaches an endpoint: a source endpoint for media packets, a
// repair endpoint for repair packets. With no repair endpoint connected,
// repair packets share the media socket.
func (s *Sender) Connect(endpoint string) error {
	ep, err := config.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	conn, err := transport.NewUDPSender(addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case ep.IsSourceEndpoint():
		s.sourceConn = conn
	case ep.IsRepairEndpoint():
		s.repairConn = conn
	default:
		conn.Close()
		return fmt.Errorf("audiowire: endpoint %s carries no media or repair traffic", endpoint)
	}
	return nil
}

// SSRC returns the outgoing stream identifier.
func (s *Sender) SSRC() uint32 {
	return s.pipeline.SSRC()
}

// WriteFrame packetizes and sends one frame of interleaved samples.
func (s *Sender) WriteFrame(f *audio.Frame) error {
	s.mu.Lock()
	connected := s.sourceConn != nil
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("audiowire: sender is not connected")
	}
	s.pipeline.WriteFrame(f)
	return nil
}

// routeDatagram splits media and repair traffic across the connected
// sockets by payload type.
func (s *Sender) routeDatagram(data []byte) error {
	s.mu.Lock()
	conn := s.sourceConn
	if s.repairConn != nil && len(data) > 1 && rtp.IsRepairPayloadType(data[1]&0x7F) {
		conn = s.repairConn
	}
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("audiowire: no socket for outgoing datagram")
	}
	return conn.WriteDatagram(data)
}

// Close closes the sockets.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.sourceConn != nil {
		s.sourceConn.Close()
	}
	if s.repairConn != nil {
		s.repairConn.Close()
	}
	return nil
}
