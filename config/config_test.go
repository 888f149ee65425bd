package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/audio"
)

func TestDefaultReceiverConfigIsValid(t *testing.T) {
	cfg := DefaultReceiverConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.TargetLatency)
	assert.Equal(t, ClockInternal, cfg.ClockSource)
}

func TestDefaultSenderConfigIsValid(t *testing.T) {
	cfg := DefaultSenderConfig()
	assert.NoError(t, cfg.Validate())
}

func TestReceiverConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReceiverConfig)
	}{
		{name: "Zero target latency", mutate: func(c *ReceiverConfig) { c.TargetLatency = 0 }},
		{name: "Negative overrun", mutate: func(c *ReceiverConfig) { c.MaxLatencyOverrun = -time.Second }},
		{name: "Zero watchdog timeout", mutate: func(c *ReceiverConfig) { c.NoPlaybackTimeout = 0 }},
		{name: "Zero frame length", mutate: func(c *ReceiverConfig) { c.FrameLength = 0 }},
		{name: "Bad resampler backend", mutate: func(c *ReceiverConfig) { c.ResamplerBackend = "speex" }},
		{name: "Bad resampler profile", mutate: func(c *ReceiverConfig) { c.ResamplerProfile = "ultra" }},
		{name: "Bad fec encoding", mutate: func(c *ReceiverConfig) { c.FEC.Encoding = "raptorq" }},
		{name: "Bad fec geometry", mutate: func(c *ReceiverConfig) { c.FEC.Encoding = "rs8m"; c.FEC.NSourcePackets = 0 }},
		{name: "Bad clock source", mutate: func(c *ReceiverConfig) { c.ClockSource = "gps" }},
		{name: "Zero sessions", mutate: func(c *ReceiverConfig) { c.MaxSessions = 0 }},
		{name: "Bad output spec", mutate: func(c *ReceiverConfig) { c.OutputSpec = audio.SampleSpec{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultReceiverConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadReceiverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.yaml")

	content := `
target_latency_ns: 100000000
frame_length_ns: 10000000
fec:
  encoding: rs8m
  n_source_packets: 15
  n_repair_packets: 5
beep_on_loss: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadReceiverFile(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.TargetLatency)
	assert.Equal(t, 10*time.Millisecond, cfg.FrameLength)
	assert.Equal(t, "rs8m", cfg.FEC.Encoding)
	assert.Equal(t, 15, cfg.FEC.NSourcePackets)
	assert.True(t, cfg.BeepOnLoss)
	// Untouched fields keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.NoPlaybackTimeout)
}

func TestLoadReceiverFileErrors(t *testing.T) {
	_, err := LoadReceiverFile("/nonexistent/receiver.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("target_latency_ns: [oops"), 0o644))
	_, err = LoadReceiverFile(bad)
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		want        Endpoint
		expectError bool
	}{
		{
			name: "Plain RTP",
			uri:  "rtp://127.0.0.1:10001",
			want: Endpoint{Proto: ProtoRTP, Host: "127.0.0.1", Port: 10001},
		},
		{
			name: "RTP with Reed-Solomon",
			uri:  "rtp+rs8m://0.0.0.0:10001",
			want: Endpoint{Proto: ProtoRTPRS8M, Host: "0.0.0.0", Port: 10001},
		},
		{
			name: "Repair stream",
			uri:  "rs8m://0.0.0.0:10002",
			want: Endpoint{Proto: ProtoRS8M, Host: "0.0.0.0", Port: 10002},
		},
		{
			name: "Ephemeral port",
			uri:  "rtp://192.168.0.1:0",
			want: Endpoint{Proto: ProtoRTP, Host: "192.168.0.1", Port: 0},
		},
		{
			name: "RTSP with path",
			uri:  "rtsp://example.com:554/stream",
			want: Endpoint{Proto: ProtoRTSP, Host: "example.com", Port: 554, Path: "/stream"},
		},
		{name: "Missing protocol", uri: "127.0.0.1:10001", expectError: true},
		{name: "Unknown protocol", uri: "udp://127.0.0.1:10001", expectError: true},
		{name: "Missing port", uri: "rtp://127.0.0.1", expectError: true},
		{name: "Bad port", uri: "rtp://127.0.0.1:banana", expectError: true},
		{name: "Empty host", uri: "rtp://:1000", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.uri)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep)
		})
	}
}

func TestEndpointClassification(t *testing.T) {
	src, err := ParseEndpoint("rtp+rs8m://0.0.0.0:10001")
	require.NoError(t, err)
	assert.True(t, src.IsSourceEndpoint())
	assert.False(t, src.IsRepairEndpoint())

	rep, err := ParseEndpoint("rs8m://0.0.0.0:10002")
	require.NoError(t, err)
	assert.False(t, rep.IsSourceEndpoint())
	assert.True(t, rep.IsRepairEndpoint())
}

func TestEndpointString(t *testing.T) {
	ep := Endpoint{Proto: ProtoRTP, Host: "127.0.0.1", Port: 9000, Path: "/a"}
	assert.Equal(t, "rtp://127.0.0.1:9000/a", ep.String())
}
