package audio

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/packet"
)

// Default jump bounds for the drift detector.
const (
	DefaultMaxSeqnumJump    = 100
	DefaultMaxTimestampJump = 4 * 48000 // four seconds at 48 kHz
)

// WatchdogConfig holds configuration for creating a watchdog.
type WatchdogConfig struct {
	// Reader is the upstream frame source, typically the depacketizer.
	Reader FrameReader
	// SampleSpec is the source-rate spec, used to convert the timeouts.
	SampleSpec SampleSpec
	// FrameLength is the per-read frame cadence.
	FrameLength time.Duration
	// NoPlaybackTimeout kills the session when no frame carries signal for
	// this long.
	NoPlaybackTimeout time.Duration
	// BrokenPlaybackTimeout is the sliding window over which playback
	// quality is judged.
	BrokenPlaybackTimeout time.Duration
	// BrokenFraction is the fraction of flawed frames within the window
	// that declares the session dead. Zero means 0.7.
	BrokenFraction float64
	// MaxSeqnumJump and MaxTimestampJump bound plausible packet-to-packet
	// discontinuities. Zero means defaults.
	MaxSeqnumJump    int
	MaxTimestampJump int
}

// Watchdog supervises one session's stream. It declares the session dead
// when no signal is produced for too long, when too many frames in a window
// are flawed, or when sequence numbers or timestamps jump implausibly.
// Death is monotonic: a dead session is never resurrected.
type Watchdog struct {
	reader FrameReader

	alive bool

	countdown int
	timeout   int

	window      []bool
	windowPos   int
	windowFill  int
	windowBad   int
	badFraction float64

	maxSeqJump int
	maxTsJump  int
	prevSeq    packet.Seqnum
	prevTs     packet.Timestamp
	hasPrev    bool
}

// NewWatchdog creates a watchdog.
func NewWatchdog(config WatchdogConfig) (*Watchdog, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("watchdog: frame reader cannot be nil")
	}
	if err := config.SampleSpec.Validate(); err != nil {
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	if config.FrameLength <= 0 {
		return nil, fmt.Errorf("watchdog: frame length must be positive")
	}
	if config.NoPlaybackTimeout <= 0 || config.BrokenPlaybackTimeout <= 0 {
		return nil, fmt.Errorf("watchdog: timeouts must be positive")
	}

	timeoutFrames := int(config.NoPlaybackTimeout / config.FrameLength)
	if timeoutFrames < 1 {
		timeoutFrames = 1
	}
	windowFrames := int(config.BrokenPlaybackTimeout / config.FrameLength)
	if windowFrames < 1 {
		windowFrames = 1
	}

	fraction := config.BrokenFraction
	if fraction == 0 {
		fraction = 0.7
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("watchdog: broken fraction %v outside [0,1]", fraction)
	}

	maxSeqJump := config.MaxSeqnumJump
	if maxSeqJump == 0 {
		maxSeqJump = DefaultMaxSeqnumJump
	}
	maxTsJump := config.MaxTimestampJump
	if maxTsJump == 0 {
		maxTsJump = DefaultMaxTimestampJump
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewWatchdog",
		"timeout_frames":  timeoutFrames,
		"window_frames":   windowFrames,
		"broken_fraction": fraction,
	}).Info("Created watchdog")

	return &Watchdog{
		reader:      config.Reader,
		alive:       true,
		countdown:   timeoutFrames,
		timeout:     timeoutFrames,
		window:      make([]bool, windowFrames),
		badFraction: fraction,
		maxSeqJump:  maxSeqJump,
		maxTsJump:   maxTsJump,
	}, nil
}

// Alive reports whether the session is still considered live.
func (w *Watchdog) Alive() bool {
	return w.alive
}

// Poison declares the session dead from the outside, used by the latency
// monitor when drift exceeds the fatal bounds.
func (w *Watchdog) Poison(reason string) {
	if !w.alive {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Watchdog.Poison",
		"reason":   reason,
	}).Warn("Session poisoned")
	w.alive = false
}

// ObservePacket feeds the drift detector. Called for every packet entering
// the session's queues.
func (w *Watchdog) ObservePacket(sn packet.Seqnum, ts packet.Timestamp) {
	if !w.alive {
		return
	}

	if w.hasPrev {
		snDist := int(packet.SeqnumDiff(sn, w.prevSeq))
		if snDist < 0 {
			snDist = -snDist
		}
		if snDist > w.maxSeqJump {
			logrus.WithFields(logrus.Fields{
				"function": "Watchdog.ObservePacket",
				"prev":     w.prevSeq,
				"next":     sn,
				"dist":     snDist,
			}).Warn("Implausible seqnum jump, killing session")
			w.alive = false
			return
		}

		tsDist := int(packet.TimestampDiff(ts, w.prevTs))
		if tsDist < 0 {
			tsDist = -tsDist
		}
		if tsDist > w.maxTsJump {
			logrus.WithFields(logrus.Fields{
				"function": "Watchdog.ObservePacket",
				"prev":     w.prevTs,
				"next":     ts,
				"dist":     tsDist,
			}).Warn("Implausible timestamp jump, killing session")
			w.alive = false
			return
		}
	}

	if !w.hasPrev || packet.SeqnumLt(w.prevSeq, sn) {
		w.prevSeq = sn
		w.prevTs = ts
		w.hasPrev = true
	}
}

// ReadFrame reads from upstream and updates the supervision state. A dead
// session reads false; the caller contributes silence.
func (w *Watchdog) ReadFrame(f *Frame) bool {
	if !w.alive {
		return false
	}
	if !w.reader.ReadFrame(f) {
		w.alive = false
		return false
	}

	w.updateNoPlayback(f.Flags)
	w.updateBrokenPlayback(f.Flags)

	return w.alive
}

func (w *Watchdog) updateNoPlayback(flags FrameFlags) {
	if flags&FlagHasSignal != 0 {
		w.countdown = w.timeout
		return
	}
	w.countdown--
	if w.countdown <= 0 {
		logrus.WithFields(logrus.Fields{
			"function":       "Watchdog.updateNoPlayback",
			"timeout_frames": w.timeout,
		}).Warn("No playback for too long, killing session")
		w.alive = false
	}
}

func (w *Watchdog) updateBrokenPlayback(flags FrameFlags) {
	if !w.alive {
		return
	}

	bad := flags&(FlagIncomplete|FlagDrops) != 0
	if w.windowFill == len(w.window) {
		if w.window[w.windowPos] {
			w.windowBad--
		}
	} else {
		w.windowFill++
	}
	w.window[w.windowPos] = bad
	if bad {
		w.windowBad++
	}
	w.windowPos = (w.windowPos + 1) % len(w.window)

	if w.windowFill == len(w.window) &&
		float64(w.windowBad) > w.badFraction*float64(len(w.window)) {
		logrus.WithFields(logrus.Fields{
			"function":      "Watchdog.updateBrokenPlayback",
			"bad_frames":    w.windowBad,
			"window_frames": len(w.window),
		}).Warn("Broken playback for too long, killing session")
		w.alive = false
	}
}
