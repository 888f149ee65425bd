package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtp"
)

// collectingWriter records routed packets.
type collectingWriter struct {
	mu      sync.Mutex
	packets []*packet.Packet
}

func (w *collectingWriter) WritePacket(p *packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, p)
	return nil
}

func (w *collectingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packets)
}

func newTestParser(t *testing.T) *rtp.Parser {
	t.Helper()
	pool, err := packet.NewBufferPool(4096)
	require.NoError(t, err)
	p, err := rtp.NewParser(rtp.ParserConfig{Pool: pool})
	require.NoError(t, err)
	return p
}

func TestUDPReceiverDeliversPackets(t *testing.T) {
	writer := &collectingWriter{}
	recv, err := NewUDPReceiver("127.0.0.1:0", newTestParser(t), writer)
	require.NoError(t, err)
	defer recv.Close()

	sender, err := NewUDPSender(recv.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	composer, err := rtp.NewComposer(rtp.ComposerConfig{PayloadType: rtp.PayloadTypeL16Mono44})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		data, err := composer.ComposeMedia(make([]byte, 128), 64, nil)
		require.NoError(t, err)
		require.NoError(t, sender.WriteDatagram(data))
	}

	deadline := time.Now().Add(5 * time.Second)
	for writer.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 5, writer.count())

	writer.mu.Lock()
	defer writer.mu.Unlock()
	for i, p := range writer.packets {
		assert.Equal(t, packet.Seqnum(i), p.Seqnum)
		assert.Equal(t, composer.SSRC(), p.SSRC)
		p.Release()
	}
}

func TestUDPReceiverIgnoresGarbage(t *testing.T) {
	writer := &collectingWriter{}
	recv, err := NewUDPReceiver("127.0.0.1:0", newTestParser(t), writer)
	require.NoError(t, err)
	defer recv.Close()

	conn, err := net.Dial("udp", recv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, writer.count())
}

func TestUDPReceiverCloseStopsLoop(t *testing.T) {
	recv, err := NewUDPReceiver("127.0.0.1:0", newTestParser(t), &collectingWriter{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- recv.Close() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestNewUDPReceiverValidation(t *testing.T) {
	parser := newTestParser(t)

	_, err := NewUDPReceiver("127.0.0.1:0", nil, &collectingWriter{})
	assert.Error(t, err)
	_, err = NewUDPReceiver("127.0.0.1:0", parser, nil)
	assert.Error(t, err)
	_, err = NewUDPReceiver("256.0.0.1:99999", parser, &collectingWriter{})
	assert.Error(t, err)
}
