package pipeline

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/metrics"
	"github.com/opd-ai/audiowire/packet"
	"github.com/opd-ai/audiowire/rtp"
)

func testReceiverConfig() config.ReceiverConfig {
	cfg := config.DefaultReceiverConfig()
	cfg.OutputSpec = audio.SampleSpec{Rate: 44100, Channels: 1}
	cfg.ResamplerProfile = "disable"
	cfg.FrameLength = 10 * time.Millisecond
	return cfg
}

func testSenderConfig() config.SenderConfig {
	cfg := config.DefaultSenderConfig()
	cfg.PayloadType = rtp.PayloadTypeL16Mono44
	cfg.PacketLength = 10 * time.Millisecond
	cfg.InputSpec = audio.SampleSpec{Rate: 44100, Channels: 1}
	return cfg
}

// wire connects a sender to a receiver, optionally dropping datagrams.
type wire struct {
	t        *testing.T
	receiver *Receiver
	addr     net.Addr
	drop     func(i int, data []byte) bool
	sent     int
}

func newWire(t *testing.T, r *Receiver) *wire {
	addr, _ := net.ResolveUDPAddr("udp", "192.0.2.1:30000")
	return &wire{t: t, receiver: r, addr: addr}
}

func (w *wire) deliver(data []byte) error {
	i := w.sent
	w.sent++
	if w.drop != nil && w.drop(i, data) {
		return nil
	}
	pkt, err := w.receiver.Parser().Parse(w.addr, data)
	if err != nil {
		return err
	}
	return w.receiver.WritePacket(pkt)
}

// feedRamp pushes a linear ramp through the sender; values step by 1/32768
// per sample so the L16 round trip stays analyzable.
func feedRamp(s *Sender, frames, samplesPerFrame int, start int) int {
	f := audio.NewFrame(samplesPerFrame)
	n := start
	for i := 0; i < frames; i++ {
		for j := range f.Samples {
			f.Samples[j] = float32(n%8192) / 32768
			n++
		}
		s.WriteFrame(f)
	}
	return n
}

func TestReceiverLosslessRamp(t *testing.T) {
	m := metrics.NewReceiver()
	recv, err := NewReceiver(testReceiverConfig(), m)
	require.NoError(t, err)

	w := newWire(t, recv)
	send, err := NewSender(testSenderConfig(), w.deliver)
	require.NoError(t, err)

	// 50 packets of 10ms land before playback starts.
	feedRamp(send, 50, 441, 0)
	require.Equal(t, 50, w.sent)
	require.Equal(t, 1, recv.Sessions())

	frame := audio.NewFrame(441)
	expected := 0
	for i := 0; i < 40; i++ {
		require.True(t, recv.ReadFrame(frame))
		assert.Equal(t, audio.FlagHasSignal, frame.Flags&audio.FlagHasSignal, "frame %d carries signal", i)
		assert.Zero(t, frame.Flags&audio.FlagIncomplete, "frame %d has no gaps", i)
		for j, s := range frame.Samples {
			want := float32(expected%8192) / 32768
			assert.InDelta(t, want, s, 2e-4, "frame %d sample %d", i, j)
			expected++
		}
	}

	require.NoError(t, recv.Close())
}

func TestReceiverReconstructsWithReedSolomon(t *testing.T) {
	cfg := testReceiverConfig()
	cfg.FEC = config.FECConfig{Encoding: "rs8m", NSourcePackets: 5, NRepairPackets: 3}

	m := metrics.NewReceiver()
	recv, err := NewReceiver(cfg, m)
	require.NoError(t, err)

	w := newWire(t, recv)
	// Drop the second media packet of every block: media datagrams are
	// followed by 3 repair datagrams every 5th packet, so the media index
	// within the stream is recoverable from the datagram index.
	mediaIdx := 0
	w.drop = func(i int, data []byte) bool {
		pkt, err := recv.Parser().Parse(w.addr, data)
		if err != nil {
			return false
		}
		defer pkt.Release()
		if pkt.HasFlags(packet.FlagRepair) {
			return false
		}
		drop := mediaIdx%5 == 1
		mediaIdx++
		return drop
	}

	sendCfg := testSenderConfig()
	sendCfg.FEC = config.FECConfig{Encoding: "rs8m", NSourcePackets: 5, NRepairPackets: 3}
	send, err := NewSender(sendCfg, w.deliver)
	require.NoError(t, err)

	feedRamp(send, 50, 441, 0)

	frame := audio.NewFrame(441)
	expected := 0
	for i := 0; i < 40; i++ {
		require.True(t, recv.ReadFrame(frame))
		assert.Zero(t, frame.Flags&audio.FlagIncomplete,
			"frame %d: FEC must conceal every dropped packet", i)
		for j, s := range frame.Samples {
			want := float32(expected%8192) / 32768
			assert.InDelta(t, want, s, 2e-4, "frame %d sample %d", i, j)
			expected++
		}
	}

	key := sessionKey(w.addr.String(), send.SSRC())
	restored := testutil.ToFloat64(m.PacketsReconstructed.WithLabelValues(key))
	assert.Greater(t, restored, 0.0, "reconstruction counter must move")

	require.NoError(t, recv.Close())
}

func TestReceiverLossWithoutRepairProducesGaps(t *testing.T) {
	cfg := testReceiverConfig()
	m := metrics.NewReceiver()
	recv, err := NewReceiver(cfg, m)
	require.NoError(t, err)

	w := newWire(t, recv)
	w.drop = func(i int, data []byte) bool { return i%5 == 1 }

	send, err := NewSender(testSenderConfig(), w.deliver)
	require.NoError(t, err)

	feedRamp(send, 30, 441, 0)

	frame := audio.NewFrame(441)
	sawIncomplete := false
	for i := 0; i < 25; i++ {
		require.True(t, recv.ReadFrame(frame))
		if frame.Flags&audio.FlagIncomplete != 0 {
			sawIncomplete = true
		}
	}
	assert.True(t, sawIncomplete, "unrecoverable loss must surface as incomplete frames")

	require.NoError(t, recv.Close())
}

func TestReceiverTwoSessionsMixIndependently(t *testing.T) {
	cfg := testReceiverConfig()
	m := metrics.NewReceiver()
	recv, err := NewReceiver(cfg, m)
	require.NoError(t, err)

	wA := newWire(t, recv)
	wB := newWire(t, recv)

	sendA, err := NewSender(testSenderConfig(), wA.deliver)
	require.NoError(t, err)
	sendB, err := NewSender(testSenderConfig(), wB.deliver)
	require.NoError(t, err)
	require.NotEqual(t, sendA.SSRC(), sendB.SSRC())

	// Both senders emit DC signals; the mix is their sum.
	dc := func(s *Sender, v float32, frames int) {
		f := audio.NewFrame(441)
		for i := range f.Samples {
			f.Samples[i] = v
		}
		for i := 0; i < frames; i++ {
			s.WriteFrame(f)
		}
	}
	dc(sendA, 0.25, 30)
	dc(sendB, 0.125, 30)

	require.Equal(t, 2, recv.Sessions())

	frame := audio.NewFrame(441)
	for i := 0; i < 20; i++ {
		require.True(t, recv.ReadFrame(frame))
	}
	// Steady state: both sessions contribute.
	assert.InDelta(t, 0.375, frame.Samples[100], 2e-3)

	require.NoError(t, recv.Close())
}

func TestReceiverSessionLimit(t *testing.T) {
	cfg := testReceiverConfig()
	cfg.MaxSessions = 1
	m := metrics.NewReceiver()
	recv, err := NewReceiver(cfg, m)
	require.NoError(t, err)

	w := newWire(t, recv)
	sendA, err := NewSender(testSenderConfig(), w.deliver)
	require.NoError(t, err)
	feedRamp(sendA, 1, 441, 0)
	require.Equal(t, 1, recv.Sessions())

	// A second SSRC from the same address must be refused.
	w2 := newWire(t, recv)
	sendB, err := NewSender(testSenderConfig(), func(data []byte) error {
		err := w2.deliver(data)
		assert.ErrorIs(t, err, ErrSessionLimit)
		return nil
	})
	require.NoError(t, err)
	feedRamp(sendB, 1, 441, 0)

	assert.Equal(t, 1, recv.Sessions())
	assert.Greater(t, recv.Rejected(), uint64(0))

	require.NoError(t, recv.Close())
}

func TestReceiverRejectsUnknownPayloadType(t *testing.T) {
	cfg := testReceiverConfig()
	m := metrics.NewReceiver()
	recv, err := NewReceiver(cfg, m)
	require.NoError(t, err)

	composer, err := rtp.NewComposer(rtp.ComposerConfig{PayloadType: rtp.PayloadTypeL16Mono44})
	require.NoError(t, err)
	data, err := composer.ComposeMedia(make([]byte, 882), 441, nil)
	require.NoError(t, err)
	data[1] = (data[1] & 0x80) | 77 // unregistered payload type

	addr, _ := net.ResolveUDPAddr("udp", "192.0.2.9:1000")
	_, err = recv.Parser().Parse(addr, data)
	assert.ErrorIs(t, err, rtp.ErrUnknownPayloadType)
	assert.Equal(t, 0, recv.Sessions())
}

func TestReceiverStateFollowsSessions(t *testing.T) {
	m := metrics.NewReceiver()
	recv, err := NewReceiver(testReceiverConfig(), m)
	require.NoError(t, err)

	assert.Equal(t, "inactive", recv.State().String())

	w := newWire(t, recv)
	send, err := NewSender(testSenderConfig(), w.deliver)
	require.NoError(t, err)
	feedRamp(send, 1, 441, 0)

	assert.Equal(t, "active", recv.State().String())
	require.NoError(t, recv.Close())
}

func TestReceiverBuildsReceiverReports(t *testing.T) {
	m := metrics.NewReceiver()
	recv, err := NewReceiver(testReceiverConfig(), m)
	require.NoError(t, err)

	data, err := recv.BuildReceiverReport(time.Now())
	require.NoError(t, err)
	assert.Nil(t, data, "no sessions, no report")

	w := newWire(t, recv)
	send, err := NewSender(testSenderConfig(), w.deliver)
	require.NoError(t, err)
	feedRamp(send, 5, 441, 0)

	frame := audio.NewFrame(441)
	require.True(t, recv.ReadFrame(frame))

	data, err = recv.BuildReceiverReport(time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.NoError(t, recv.Close())
}
