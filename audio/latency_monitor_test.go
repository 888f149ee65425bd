package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreqEstimatorConvergesUpward(t *testing.T) {
	fe, err := NewFreqEstimator(DefaultFreqEstimatorConfig(), 8820)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fe.Coeff())

	// Latency persistently above target: playback must speed up.
	for i := 0; i < 2000; i++ {
		fe.Update(8820 + 2000)
	}
	assert.Greater(t, fe.Coeff(), 1.0)
}

func TestFreqEstimatorConvergesDownward(t *testing.T) {
	fe, err := NewFreqEstimator(DefaultFreqEstimatorConfig(), 8820)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		fe.Update(8820 - 2000)
	}
	assert.Less(t, fe.Coeff(), 1.0)
}

func TestFreqEstimatorClampsOutput(t *testing.T) {
	fe, err := NewFreqEstimator(DefaultFreqEstimatorConfig(), 8820)
	require.NoError(t, err)

	// An absurd error must saturate at the scaling bound, not run away.
	for i := 0; i < 10000; i++ {
		fe.Update(8820 + 1000000)
	}
	assert.InDelta(t, 1.005, fe.Coeff(), 1e-9)

	// And the integrator must not have wound up: a few updates at target
	// bring the output back inside the band.
	for i := 0; i < 2000; i++ {
		fe.Update(8820)
	}
	assert.Less(t, fe.Coeff(), 1.005)
}

func TestFreqEstimatorValidation(t *testing.T) {
	_, err := NewFreqEstimator(FreqEstimatorConfig{DecimationFactor1: 0}, 100)
	assert.Error(t, err)
	_, err = NewFreqEstimator(FreqEstimatorConfig{DecimationFactor1: 10, MaxScalingDelta: 1.5}, 100)
	assert.Error(t, err)
}

type scalingRecorder struct {
	values []float64
	reject bool
}

func (r *scalingRecorder) SetScaling(s float64) bool {
	if r.reject {
		return false
	}
	r.values = append(r.values, s)
	return true
}

func newTestMonitor(t *testing.T, rs ScalingSetter) *LatencyMonitor {
	t.Helper()
	m, err := NewLatencyMonitor(LatencyMonitorConfig{
		TargetLatency:      200 * time.Millisecond,
		MaxLatencyOverrun:  500 * time.Millisecond,
		MaxLatencyUnderrun: 500 * time.Millisecond,
		SampleSpec:         SampleSpec{Rate: 44100, Channels: 2},
		UpdateInterval:     4,
		Resampler:          rs,
	})
	require.NoError(t, err)
	return m
}

func TestLatencyMonitorForwardsScaling(t *testing.T) {
	rec := &scalingRecorder{}
	m := newTestMonitor(t, rec)

	target := int32(44100 / 5) // 200ms in samples
	for i := 0; i < 16; i++ {
		require.True(t, m.Update(target))
	}
	assert.Len(t, rec.values, 4, "scaling updates at the configured cadence")
	for _, s := range rec.values {
		assert.InDelta(t, 1.0, s, 0.005)
	}
}

func TestLatencyMonitorFatalOverrun(t *testing.T) {
	m := newTestMonitor(t, &scalingRecorder{})

	// 200ms target + 500ms bound; 800ms of latency is fatal.
	fatal := int32(44100 * 8 / 10)
	assert.False(t, m.Update(fatal))
	assert.False(t, m.Alive())

	// Death is permanent.
	assert.False(t, m.Update(int32(44100/5)))
}

func TestLatencyMonitorFatalUnderrun(t *testing.T) {
	m := newTestMonitor(t, &scalingRecorder{})

	assert.False(t, m.Update(int32(-44100)))
	assert.False(t, m.Alive())
}

func TestLatencyMonitorResamplerRejection(t *testing.T) {
	rec := &scalingRecorder{reject: true}
	m := newTestMonitor(t, rec)

	target := int32(44100 / 5)
	alive := true
	for i := 0; i < 4 && alive; i++ {
		alive = m.Update(target)
	}
	assert.False(t, alive)
	assert.False(t, m.Alive())
}

func TestLatencyMonitorValidation(t *testing.T) {
	_, err := NewLatencyMonitor(LatencyMonitorConfig{
		TargetLatency: 0,
		SampleSpec:    SampleSpec{Rate: 44100, Channels: 2},
	})
	assert.Error(t, err)

	_, err = NewLatencyMonitor(LatencyMonitorConfig{
		TargetLatency: time.Second,
		SampleSpec:    SampleSpec{},
	})
	assert.Error(t, err)
}
