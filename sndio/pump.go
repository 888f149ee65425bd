package sndio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
)

// PumpMode selects when the pump loop exits.
type PumpMode int

const (
	// ModeContinuous runs until Stop.
	ModeContinuous PumpMode = iota
	// ModeOneshot exits once the main source goes inactive, provided it
	// produced at least one frame.
	ModeOneshot
)

// PumpConfig holds configuration for creating a pump.
type PumpConfig struct {
	// Source is the main frame source.
	Source Source
	// Backup plays while the main source is inactive. Optional.
	Backup Source
	// Sink consumes the frames.
	Sink Sink
	// SampleSpec is the frame layout moved between them.
	SampleSpec audio.SampleSpec
	// FrameLength is the cadence of one read/write iteration.
	FrameLength time.Duration
	// Mode selects continuous or one-shot operation.
	Mode PumpMode
}

// Pump is the top-level loop: read one frame from the source, write it to
// the sink, feed the sink's latency back to the source. One frame is always
// in flight; Stop is observed between frames.
type Pump struct {
	main   Source
	backup Source
	sink   Sink
	mode   PumpMode

	frame  *audio.Frame
	stop   atomic.Bool
	nBufs  uint64
	closed bool
}

// NewPump creates a pump.
func NewPump(config PumpConfig) (*Pump, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("pump: source cannot be nil")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("pump: sink cannot be nil")
	}
	if err := config.SampleSpec.Validate(); err != nil {
		return nil, fmt.Errorf("pump: %w", err)
	}

	frameSize := config.SampleSpec.SamplesFromDuration(config.FrameLength) * config.SampleSpec.Channels
	if frameSize == 0 {
		return nil, fmt.Errorf("pump: frame size cannot be 0")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewPump",
		"frame_size":  frameSize,
		"mode":        config.Mode,
		"have_backup": config.Backup != nil,
	}).Info("Created pump")

	return &Pump{
		main:   config.Source,
		backup: config.Backup,
		sink:   config.Sink,
		mode:   config.Mode,
		frame:  audio.NewFrame(frameSize),
	}, nil
}

// Run drives the loop until the stream ends or Stop is called. It returns
// false when interrupted by Stop.
func (p *Pump) Run() bool {
	logrus.WithFields(logrus.Fields{
		"function": "Pump.Run",
	}).Debug("Starting main loop")

	current := p.main

	for !p.stop.Load() {
		if p.main.State() == StateActive {
			if current == p.backup {
				logrus.WithFields(logrus.Fields{
					"function": "Pump.Run",
				}).Info("Switching to main source")
				if err := p.main.Resume(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Pump.Run",
						"error":    err.Error(),
					}).Error("Cannot resume main source")
				} else {
					current = p.main
					if err := p.backup.Pause(); err != nil {
						logrus.WithFields(logrus.Fields{
							"function": "Pump.Run",
							"error":    err.Error(),
						}).Error("Cannot pause backup source")
					}
				}
			}
		} else {
			if p.mode == ModeOneshot && p.nBufs != 0 {
				logrus.WithFields(logrus.Fields{
					"function": "Pump.Run",
					"frames":   p.nBufs,
				}).Info("Main source became inactive in oneshot mode")
				break
			}

			if p.backup != nil && current != p.backup {
				logrus.WithFields(logrus.Fields{
					"function": "Pump.Run",
				}).Info("Switching to backup source")
				if err := p.backup.Restart(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Pump.Run",
						"error":    err.Error(),
					}).Error("Cannot restart backup source")
				} else {
					current = p.backup
					if err := p.main.Pause(); err != nil {
						logrus.WithFields(logrus.Fields{
							"function": "Pump.Run",
							"error":    err.Error(),
						}).Error("Cannot pause main source")
					}
				}
			}
		}

		p.frame.Clear()
		if !current.ReadFrame(p.frame) {
			logrus.WithFields(logrus.Fields{
				"function": "Pump.Run",
			}).Debug("Got EOF from source")

			if current == p.backup {
				current = p.main
				continue
			}
			break
		}

		p.sink.WriteFrame(p.frame)

		current.Reclock(time.Now().Add(p.sink.Latency()))

		if current == p.main {
			p.nBufs++
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pump.Run",
		"frames":   p.nBufs,
	}).Debug("Exiting main loop")

	return !p.stop.Load()
}

// Stop interrupts the loop at the next frame boundary. Safe to call from
// another goroutine.
func (p *Pump) Stop() {
	p.stop.Store(true)
}

// Frames returns the number of frames pumped from the main source.
func (p *Pump) Frames() uint64 {
	return p.nBufs
}
