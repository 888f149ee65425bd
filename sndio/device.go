package sndio

import (
	"time"

	"github.com/opd-ai/audiowire/audio"
)

// DeviceState describes whether a source currently produces signal.
type DeviceState int

const (
	// StateActive means the source produces frames.
	StateActive DeviceState = iota
	// StateInactive means the source has nothing to produce right now.
	StateInactive
	// StateBroken means the source failed and will not recover.
	StateBroken
)

// String returns a readable state name.
func (s DeviceState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Source produces frames at its own pace: a capture device, a receiver
// pipeline, or a backup signal.
type Source interface {
	audio.FrameReader

	// State reports whether the source currently produces signal.
	State() DeviceState
	// Pause suspends the source.
	Pause() error
	// Resume continues a paused source.
	Resume() error
	// Restart rewinds the source to its beginning, where that means
	// anything.
	Restart() error
	// Reclock tells the source the wall-clock time its last read frame
	// will actually play, so it can tune its clock.
	Reclock(playbackTime time.Time)
}

// Sink consumes frames: a playback device or an encoder. WriteFrame may
// block until the device accepts the frame; that block is what paces the
// pipeline in internal-clock mode.
type Sink interface {
	audio.FrameWriter

	// Latency reports the delay between a written frame and its playback.
	Latency() time.Duration
	// SampleSpec reports the sink's native rate and layout.
	SampleSpec() audio.SampleSpec
}
