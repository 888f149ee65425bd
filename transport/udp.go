package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtp"
)

// maxDatagramSize bounds one read; larger datagrams are truncated by the
// socket and rejected by the parser.
const maxDatagramSize = 4096

// UDPReceiver owns one listening socket and the goroutine that drains it
// into a packet writer.
type UDPReceiver struct {
	conn   net.PacketConn
	parser *rtp.Parser
	writer packet.Writer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUDPReceiver binds the address and starts the receive loop. Port zero
// picks an ephemeral port; LocalAddr reports the bound one.
func NewUDPReceiver(listenAddr string, parser *rtp.Parser, writer packet.Writer) (*UDPReceiver, error) {
	if parser == nil {
		return nil, fmt.Errorf("transport: parser cannot be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("transport: packet writer cannot be nil")
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &UDPReceiver{
		conn:   conn,
		parser: parser,
		writer: writer,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPReceiver",
		"addr":     conn.LocalAddr().String(),
	}).Info("UDP receiver listening")

	go r.receiveLoop()
	return r, nil
}

// LocalAddr returns the bound address.
func (r *UDPReceiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close stops the receive loop and closes the socket.
func (r *UDPReceiver) Close() error {
	r.cancel()
	err := r.conn.Close()
	<-r.done
	return err
}

func (r *UDPReceiver) receiveLoop() {
	defer close(r.done)
	buffer := make([]byte, maxDatagramSize)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := r.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "UDPReceiver.receiveLoop",
				"error":    err.Error(),
			}).Warn("Socket read failed")
			continue
		}

		pkt, err := r.parser.Parse(addr, buffer[:n])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UDPReceiver.receiveLoop",
				"addr":     addr.String(),
				"error":    err.Error(),
			}).Debug("Dropping unparsable datagram")
			continue
		}

		if err := r.writer.WritePacket(pkt); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UDPReceiver.receiveLoop",
				"addr":     addr.String(),
				"error":    err.Error(),
			}).Debug("Packet rejected by router")
		}
	}
}

// UDPControl owns one listening socket for control traffic, delivering raw
// datagrams to a handler on its own goroutine.
type UDPControl struct {
	conn    net.PacketConn
	handler func(data []byte)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUDPControl binds the address and starts the control receive loop.
func NewUDPControl(listenAddr string, handler func(data []byte)) (*UDPControl, error) {
	if handler == nil {
		return nil, fmt.Errorf("transport: control handler cannot be nil")
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &UDPControl{
		conn:    conn,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPControl",
		"addr":     conn.LocalAddr().String(),
	}).Info("UDP control listening")

	go c.receiveLoop()
	return c, nil
}

// LocalAddr returns the bound address.
func (c *UDPControl) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close stops the loop and closes the socket.
func (c *UDPControl) Close() error {
	c.cancel()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *UDPControl) receiveLoop() {
	defer close(c.done)
	buffer := make([]byte, maxDatagramSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := c.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		c.handler(data)
	}
}

// UDPSender owns one connected socket for outgoing datagrams.
type UDPSender struct {
	conn net.Conn
}

// NewUDPSender connects a socket to the remote address.
func NewUDPSender(remoteAddr string) (*UDPSender, error) {
	conn, err := net.Dial("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to connect %s: %w", remoteAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPSender",
		"remote":   remoteAddr,
	}).Info("UDP sender connected")

	return &UDPSender{conn: conn}, nil
}

// WriteDatagram sends one datagram.
func (s *UDPSender) WriteDatagram(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// Close closes the socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}
