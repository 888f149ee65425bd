package audio

import (
	"fmt"
	"time"
)

// SampleSpec describes a PCM stream: sample rate and channel count.
type SampleSpec struct {
	Rate     uint32
	Channels int
}

// Validate checks the spec is usable.
func (s SampleSpec) Validate() error {
	if s.Rate == 0 {
		return fmt.Errorf("sample spec: rate cannot be zero")
	}
	if s.Channels < 1 || s.Channels > 2 {
		return fmt.Errorf("sample spec: unsupported channel count %d", s.Channels)
	}
	return nil
}

// SamplesFromDuration converts a duration to per-channel samples, rounding
// down.
func (s SampleSpec) SamplesFromDuration(d time.Duration) int {
	return int(d * time.Duration(s.Rate) / time.Second)
}

// DurationFromSamples converts per-channel samples to a duration.
func (s SampleSpec) DurationFromSamples(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.Rate)
}
