package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampleSpecValidate(t *testing.T) {
	tests := []struct {
		name        string
		spec        SampleSpec
		expectError bool
	}{
		{name: "Stereo 44.1k", spec: SampleSpec{Rate: 44100, Channels: 2}},
		{name: "Mono 48k", spec: SampleSpec{Rate: 48000, Channels: 1}},
		{name: "Zero rate", spec: SampleSpec{Rate: 0, Channels: 2}, expectError: true},
		{name: "Zero channels", spec: SampleSpec{Rate: 44100, Channels: 0}, expectError: true},
		{name: "Too many channels", spec: SampleSpec{Rate: 44100, Channels: 8}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSampleSpecConversions(t *testing.T) {
	spec := SampleSpec{Rate: 44100, Channels: 2}

	assert.Equal(t, 8820, spec.SamplesFromDuration(200*time.Millisecond))
	assert.Equal(t, 200*time.Millisecond, spec.DurationFromSamples(8820))

	spec48 := SampleSpec{Rate: 48000, Channels: 1}
	assert.Equal(t, 960, spec48.SamplesFromDuration(20*time.Millisecond))
}

func TestL16DecoderRoundTrip(t *testing.T) {
	spec := SampleSpec{Rate: 44100, Channels: 2}
	dec := newL16Decoder(spec)

	payload := []byte{0x7F, 0xFF, 0x80, 0x00, 0x00, 0x01, 0xFF, 0xFF}
	n, err := dec.Begin(payload)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	dst := make([]float32, 4)
	got := dec.ReadSamples(dst)
	assert.Equal(t, 2, got)
	assert.InDelta(t, 0.99997, dst[0], 1e-4)
	assert.InDelta(t, -1.0, dst[1], 1e-9)
	assert.InDelta(t, 1.0/32768, dst[2], 1e-9)
	assert.InDelta(t, -1.0/32768, dst[3], 1e-9)
	dec.End()
}

func TestL16DecoderSkip(t *testing.T) {
	spec := SampleSpec{Rate: 44100, Channels: 1}
	dec := newL16Decoder(spec)

	payload := make([]byte, 8) // 4 mono samples
	payload[5] = 0x42
	_, err := dec.Begin(payload)
	assert.NoError(t, err)

	dec.Skip(2)
	dst := make([]float32, 2)
	assert.Equal(t, 2, dec.ReadSamples(dst))
	assert.InDelta(t, float32(0x42)/32768, dst[0], 1e-9)
}

func TestL16DecoderRejectsMisalignedPayload(t *testing.T) {
	dec := newL16Decoder(SampleSpec{Rate: 44100, Channels: 2})
	_, err := dec.Begin(make([]byte, 6)) // not a multiple of 4
	assert.Error(t, err)
}
