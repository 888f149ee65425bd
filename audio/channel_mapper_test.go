package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternReader emits a repeating per-channel pattern.
type patternReader struct {
	pattern []float32
	flags   FrameFlags
}

func (r *patternReader) ReadFrame(f *Frame) bool {
	for i := range f.Samples {
		f.Samples[i] = r.pattern[i%len(r.pattern)]
	}
	f.Flags = r.flags
	return true
}

func TestChannelMapperMonoToStereo(t *testing.T) {
	src := &patternReader{pattern: []float32{0.25}, flags: FlagHasSignal}
	m, err := NewChannelMapper(ChannelMapperConfig{
		Reader:      src,
		InSpec:      SampleSpec{Rate: 44100, Channels: 1},
		OutSpec:     SampleSpec{Rate: 44100, Channels: 2},
		FrameLength: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	out := NewFrame(64)
	require.True(t, m.ReadFrame(out))

	for i := 0; i < len(out.Samples); i += 2 {
		assert.Equal(t, float32(0.25), out.Samples[i], "left duplicates mono")
		assert.Equal(t, float32(0.25), out.Samples[i+1], "right duplicates mono")
	}
	assert.Equal(t, FlagHasSignal, out.Flags)
}

func TestChannelMapperStereoToMono(t *testing.T) {
	src := &patternReader{pattern: []float32{0.2, 0.6}}
	m, err := NewChannelMapper(ChannelMapperConfig{
		Reader:      src,
		InSpec:      SampleSpec{Rate: 44100, Channels: 2},
		OutSpec:     SampleSpec{Rate: 44100, Channels: 1},
		FrameLength: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	out := NewFrame(32)
	require.True(t, m.ReadFrame(out))

	for _, s := range out.Samples {
		assert.InDelta(t, 0.4, s, 1e-6, "downmix averages the channels")
	}
}

func TestChannelMapperIdentityPassthrough(t *testing.T) {
	src := &patternReader{pattern: []float32{0.1, 0.9}, flags: FlagIncomplete}
	m, err := NewChannelMapper(ChannelMapperConfig{
		Reader:      src,
		InSpec:      SampleSpec{Rate: 48000, Channels: 2},
		OutSpec:     SampleSpec{Rate: 48000, Channels: 2},
		FrameLength: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	out := NewFrame(16)
	require.True(t, m.ReadFrame(out))
	assert.Equal(t, float32(0.1), out.Samples[0])
	assert.Equal(t, float32(0.9), out.Samples[1])
	assert.Equal(t, FlagIncomplete, out.Flags)
}

func TestChannelMapperRejectsRateChange(t *testing.T) {
	src := &patternReader{pattern: []float32{0}}
	_, err := NewChannelMapper(ChannelMapperConfig{
		Reader:      src,
		InSpec:      SampleSpec{Rate: 44100, Channels: 1},
		OutSpec:     SampleSpec{Rate: 48000, Channels: 2},
		FrameLength: 10 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestMixerSumsSessions(t *testing.T) {
	m := NewMixer()
	m.SetReaders([]FrameReader{
		&patternReader{pattern: []float32{0.25}, flags: FlagHasSignal},
		&patternReader{pattern: []float32{0.5}, flags: FlagIncomplete},
	})

	out := NewFrame(32)
	require.True(t, m.ReadFrame(out))

	for _, s := range out.Samples {
		assert.InDelta(t, 0.75, s, 1e-6)
	}
	assert.Equal(t, FlagHasSignal|FlagIncomplete, out.Flags, "flags OR across sessions")
}

func TestMixerSaturates(t *testing.T) {
	m := NewMixer()
	m.SetReaders([]FrameReader{
		&patternReader{pattern: []float32{0.8, -0.8}},
		&patternReader{pattern: []float32{0.8, -0.8}},
	})

	out := NewFrame(8)
	require.True(t, m.ReadFrame(out))
	for i, s := range out.Samples {
		if i%2 == 0 {
			assert.InDelta(t, 1.0, s, 1e-6, "sum saturates at the positive rail")
		} else {
			assert.InDelta(t, -1.0, s, 1e-6, "sum saturates at the negative rail")
		}
	}
}

type deadReader struct{}

func (deadReader) ReadFrame(*Frame) bool { return false }

func TestMixerDeadSessionContributesSilence(t *testing.T) {
	m := NewMixer()
	m.SetReaders([]FrameReader{
		deadReader{},
		&patternReader{pattern: []float32{0.3}, flags: FlagHasSignal},
	})

	out := NewFrame(8)
	require.True(t, m.ReadFrame(out))
	for _, s := range out.Samples {
		assert.InDelta(t, 0.3, s, 1e-6)
	}
}

func TestMixerNoSessions(t *testing.T) {
	m := NewMixer()

	out := NewFrame(8)
	out.Samples[3] = 0.5
	require.True(t, m.ReadFrame(out))
	for _, s := range out.Samples {
		assert.Zero(t, s, "no sessions means silence")
	}
	assert.Zero(t, out.Flags)
}
