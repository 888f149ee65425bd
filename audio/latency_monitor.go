package audio

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ScalingSetter is the resampler-side half of the clock loop.
type ScalingSetter interface {
	SetScaling(scaling float64) bool
}

// LatencyMonitorConfig holds configuration for creating a latency monitor.
type LatencyMonitorConfig struct {
	// TargetLatency is the desired playback latency.
	TargetLatency time.Duration
	// MaxLatencyOverrun and MaxLatencyUnderrun are the fatal drift bounds
	// relative to the target.
	MaxLatencyOverrun  time.Duration
	MaxLatencyUnderrun time.Duration
	// SampleSpec is the source-rate spec latencies are measured in.
	SampleSpec SampleSpec
	// UpdateInterval is the controller refresh cadence in frames. Zero
	// means every fourth frame.
	UpdateInterval int
	// Estimator overrides the controller tuning.
	Estimator FreqEstimatorConfig
	// Resampler consumes the scaling factor. Nil disables steering (the
	// monitor still enforces the fatal bounds).
	Resampler ScalingSetter
}

// LatencyMonitor measures playback latency every frame and steers the
// resampler so it converges on the target. Latency beyond the fatal bounds
// is unrecoverable and poisons the session.
type LatencyMonitor struct {
	target    int
	overrun   int
	underrun  int
	interval  int
	estimator *FreqEstimator
	resampler ScalingSetter

	frames uint64
	alive  bool
	rl     *rateLimiter
}

// NewLatencyMonitor creates a latency monitor.
func NewLatencyMonitor(config LatencyMonitorConfig) (*LatencyMonitor, error) {
	if err := config.SampleSpec.Validate(); err != nil {
		return nil, fmt.Errorf("latency monitor: %w", err)
	}
	if config.TargetLatency <= 0 {
		return nil, fmt.Errorf("latency monitor: target latency must be positive")
	}
	if config.MaxLatencyOverrun < 0 || config.MaxLatencyUnderrun < 0 {
		return nil, fmt.Errorf("latency monitor: fatal bounds cannot be negative")
	}

	interval := config.UpdateInterval
	if interval == 0 {
		interval = 4
	}

	estConfig := config.Estimator
	if estConfig.DecimationFactor1 == 0 {
		estConfig = DefaultFreqEstimatorConfig()
	}

	target := config.SampleSpec.SamplesFromDuration(config.TargetLatency)
	estimator, err := NewFreqEstimator(estConfig, target)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewLatencyMonitor",
		"target_samples":  target,
		"update_interval": interval,
	}).Info("Created latency monitor")

	return &LatencyMonitor{
		target:    target,
		overrun:   config.SampleSpec.SamplesFromDuration(config.MaxLatencyOverrun),
		underrun:  config.SampleSpec.SamplesFromDuration(config.MaxLatencyUnderrun),
		interval:  interval,
		estimator: estimator,
		resampler: config.Resampler,
		alive:     true,
		rl:        newRateLimiter(5 * time.Second),
	}, nil
}

// Alive reports whether latency has stayed within the fatal bounds.
func (m *LatencyMonitor) Alive() bool {
	return m.alive
}

// Scaling returns the current clock scaling coefficient.
func (m *LatencyMonitor) Scaling() float64 {
	return m.estimator.Coeff()
}

// Update feeds one per-frame latency reading in source-rate samples.
// It returns false when drift is fatal.
func (m *LatencyMonitor) Update(latency int32) bool {
	if !m.alive {
		return false
	}

	e := int(latency) - m.target
	if (m.overrun > 0 && e > m.overrun) || (m.underrun > 0 && -e > m.underrun) {
		logrus.WithFields(logrus.Fields{
			"function":       "LatencyMonitor.Update",
			"latency":        latency,
			"target_samples": m.target,
			"error_samples":  e,
		}).Warn("Latency drift beyond fatal bounds")
		m.alive = false
		return false
	}

	m.estimator.Update(latency)
	m.frames++

	if m.resampler != nil && m.frames%uint64(m.interval) == 0 {
		scaling := m.estimator.Coeff()
		if !m.resampler.SetScaling(scaling) {
			logrus.WithFields(logrus.Fields{
				"function": "LatencyMonitor.Update",
				"scaling":  scaling,
			}).Warn("Resampler rejected scaling factor")
			m.alive = false
			return false
		}
		if m.rl.allow() {
			logrus.WithFields(logrus.Fields{
				"function": "LatencyMonitor.Update",
				"latency":  latency,
				"scaling":  scaling,
			}).Debug("Updated playback clock scaling")
		}
	}

	return true
}
