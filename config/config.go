package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/fec"
)

// ClockSource selects who paces the pipeline.
type ClockSource string

const (
	// ClockInternal lets the sink's blocking write pace the pipeline.
	ClockInternal ClockSource = "internal"
	// ClockExternal leaves pacing to the caller.
	ClockExternal ClockSource = "external"
)

// FECConfig selects the erasure coding scheme and block geometry.
type FECConfig struct {
	Encoding       string `yaml:"encoding"`
	NSourcePackets int    `yaml:"n_source_packets"`
	NRepairPackets int    `yaml:"n_repair_packets"`
}

// Scheme resolves the configured encoding name.
func (c FECConfig) Scheme() (fec.Scheme, error) {
	return fec.ParseScheme(c.Encoding)
}

// ReceiverConfig configures one receiver.
type ReceiverConfig struct {
	// TargetLatency is the desired playback latency.
	TargetLatency time.Duration `yaml:"target_latency_ns"`
	// MaxLatencyOverrun and MaxLatencyUnderrun are the fatal drift bounds.
	MaxLatencyOverrun  time.Duration `yaml:"max_latency_overrun_ns"`
	MaxLatencyUnderrun time.Duration `yaml:"max_latency_underrun_ns"`

	// NoPlaybackTimeout and BrokenPlaybackTimeout feed the watchdog.
	NoPlaybackTimeout     time.Duration `yaml:"no_playback_timeout_ns"`
	BrokenPlaybackTimeout time.Duration `yaml:"broken_playback_timeout_ns"`

	// FrameLength is the sink frame cadence.
	FrameLength time.Duration `yaml:"frame_length_ns"`

	// ResamplerBackend and ResamplerProfile select the rate converter.
	ResamplerBackend string `yaml:"resampler_backend"`
	ResamplerProfile string `yaml:"resampler_profile"`

	// FEC selects the erasure coding scheme.
	FEC FECConfig `yaml:"fec"`

	// ClockSource selects internal or external pacing.
	ClockSource ClockSource `yaml:"clock_source"`

	// BeepOnLoss replaces silence concealment with a diagnostic tone.
	BeepOnLoss bool `yaml:"beep_on_loss"`

	// MaxSessions caps concurrent remote senders.
	MaxSessions int `yaml:"max_sessions"`

	// OutputSpec is the sink-side rate and layout.
	OutputSpec audio.SampleSpec `yaml:"-"`
}

// DefaultReceiverConfig returns the stock receiver tuning.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		TargetLatency:         200 * time.Millisecond,
		MaxLatencyOverrun:     500 * time.Millisecond,
		MaxLatencyUnderrun:    500 * time.Millisecond,
		NoPlaybackTimeout:     2 * time.Second,
		BrokenPlaybackTimeout: 2 * time.Second,
		FrameLength:           20 * time.Millisecond,
		ResamplerBackend:      "builtin",
		ResamplerProfile:      "high",
		FEC: FECConfig{
			Encoding:       "disable",
			NSourcePackets: 20,
			NRepairPackets: 10,
		},
		ClockSource: ClockInternal,
		MaxSessions: 16,
		OutputSpec:  audio.SampleSpec{Rate: 44100, Channels: 2},
	}
}

// Validate checks the configuration is usable.
func (c ReceiverConfig) Validate() error {
	if c.TargetLatency <= 0 {
		return fmt.Errorf("config: target latency must be positive")
	}
	if c.MaxLatencyOverrun < 0 || c.MaxLatencyUnderrun < 0 {
		return fmt.Errorf("config: latency bounds cannot be negative")
	}
	if c.NoPlaybackTimeout <= 0 || c.BrokenPlaybackTimeout <= 0 {
		return fmt.Errorf("config: watchdog timeouts must be positive")
	}
	if c.FrameLength <= 0 {
		return fmt.Errorf("config: frame length must be positive")
	}
	if c.ResamplerBackend != "" && c.ResamplerBackend != "builtin" {
		return fmt.Errorf("config: unknown resampler backend %q", c.ResamplerBackend)
	}
	if c.ResamplerProfile != "" && c.ResamplerProfile != "disable" {
		if _, err := audio.ParseResamplerProfile(c.ResamplerProfile); err != nil {
			return err
		}
	}
	scheme, err := c.FEC.Scheme()
	if err != nil {
		return err
	}
	if scheme != fec.SchemeNone {
		if c.FEC.NSourcePackets <= 0 || c.FEC.NRepairPackets <= 0 {
			return fmt.Errorf("config: fec block geometry must be positive")
		}
	}
	if c.ClockSource != ClockInternal && c.ClockSource != ClockExternal {
		return fmt.Errorf("config: unknown clock source %q", c.ClockSource)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max sessions must be positive")
	}
	if err := c.OutputSpec.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SenderConfig configures one sender.
type SenderConfig struct {
	// PayloadType selects the media encoding on the wire.
	PayloadType uint8 `yaml:"payload_type"`
	// PacketLength is the media packet duration.
	PacketLength time.Duration `yaml:"packet_length_ns"`
	// FEC selects the erasure coding scheme.
	FEC FECConfig `yaml:"fec"`
	// InputSpec is the capture-side rate and layout.
	InputSpec audio.SampleSpec `yaml:"-"`
}

// DefaultSenderConfig returns the stock sender tuning.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		PayloadType:  10, // L16 stereo 44.1 kHz
		PacketLength: 7 * time.Millisecond,
		FEC: FECConfig{
			Encoding:       "disable",
			NSourcePackets: 20,
			NRepairPackets: 10,
		},
		InputSpec: audio.SampleSpec{Rate: 44100, Channels: 2},
	}
}

// Validate checks the configuration is usable.
func (c SenderConfig) Validate() error {
	if c.PacketLength <= 0 {
		return fmt.Errorf("config: packet length must be positive")
	}
	scheme, err := c.FEC.Scheme()
	if err != nil {
		return err
	}
	if scheme != fec.SchemeNone {
		if c.FEC.NSourcePackets <= 0 || c.FEC.NRepairPackets <= 0 {
			return fmt.Errorf("config: fec block geometry must be positive")
		}
	}
	if err := c.InputSpec.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadReceiverFile reads a receiver configuration from a YAML file, applying
// defaults for absent fields.
func LoadReceiverFile(path string) (ReceiverConfig, error) {
	cfg := DefaultReceiverConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if len(doc.Content) > 0 {
		// Integer *_ns values are nanoseconds; yaml.v3 decodes time.Duration
		// only from duration strings, so they are rewritten as "<n>ns".
		root := doc.Content[0]
		for i := 0; root.Kind == yaml.MappingNode && i+1 < len(root.Content); i += 2 {
			key, val := root.Content[i].Value, root.Content[i+1]
			if len(key) > 3 && key[len(key)-3:] == "_ns" && val.ShortTag() == "!!int" {
				val.Tag, val.Value = "!!str", val.Value+"ns"
			}
		}
		if err := doc.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadReceiverFile",
		"path":     path,
	}).Info("Loaded receiver configuration")

	return cfg, nil
}
