package audio

import (
	"github.com/sirupsen/logrus"
)

// Mixer sums the frames of live sessions into one output stream. A reader
// that produces no frame contributes zeros; samples saturate instead of
// wrapping; flags are ORed across contributors.
type Mixer struct {
	readers []FrameReader
	tmp     *Frame
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{}
}

// SetReaders replaces the input set. The caller controls ordering, so
// mixing stays deterministic across reads.
func (m *Mixer) SetReaders(readers []FrameReader) {
	m.readers = readers
}

// ReadFrame sums one frame across all inputs. It always succeeds: with no
// live input the output is silence.
func (m *Mixer) ReadFrame(out *Frame) bool {
	out.Clear()

	if m.tmp == nil || len(m.tmp.Samples) != len(out.Samples) {
		m.tmp = NewFrame(len(out.Samples))
	}

	for _, r := range m.readers {
		m.tmp.Flags = 0
		if !r.ReadFrame(m.tmp) {
			continue
		}
		for i, v := range m.tmp.Samples {
			s := out.Samples[i] + v
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			out.Samples[i] = s
		}
		out.Flags |= m.tmp.Flags
	}

	if len(m.readers) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.ReadFrame",
		}).Debug("Mixing with no live sessions")
	}
	return true
}
