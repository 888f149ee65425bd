package audio

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/dsp/window"
)

// ResamplerProfile trades kernel length for CPU.
type ResamplerProfile int

const (
	// ProfileLow is a short kernel for constrained hosts.
	ProfileLow ResamplerProfile = iota
	// ProfileHigh is a long kernel for best quality.
	ProfileHigh
)

// ParseResamplerProfile parses a configuration name.
func ParseResamplerProfile(name string) (ResamplerProfile, error) {
	switch name {
	case "low":
		return ProfileLow, nil
	case "high", "":
		return ProfileHigh, nil
	default:
		return ProfileHigh, fmt.Errorf("resampler: unknown profile %q", name)
	}
}

func (p ResamplerProfile) taps() int {
	if p == ProfileLow {
		return 32
	}
	return 128
}

func (p ResamplerProfile) phases() int {
	if p == ProfileLow {
		return 64
	}
	return 256
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	// Reader is the upstream frame source at the input rate.
	Reader FrameReader
	// InSpec and OutSpec share the channel count; the rates may differ.
	InSpec  SampleSpec
	OutSpec SampleSpec
	// Profile selects the kernel.
	Profile ResamplerProfile
	// FrameLength sizes the internal input batch.
	FrameLength time.Duration
}

// Resampler converts the input rate to the output rate with a windowed-sinc
// kernel, scaled by a small clock correction factor. The phase accumulator
// survives scaling updates, so a correction never produces a click. The
// kernel introduces a fixed delay of half its length.
type Resampler struct {
	reader   FrameReader
	inSpec   SampleSpec
	outSpec  SampleSpec
	channels int

	taps    int
	phases  int
	kernel  []float64 // sampled at phase resolution over [-taps/2, taps/2]
	history []float32 // last taps input samples, interleaved

	baseRatio float64
	scaling   float64
	ratio     float64
	phase     float64

	inFrame *Frame
	inPos   int // per-channel position within inFrame
	inEOF   bool
	flags   FrameFlags
}

const maxScalingDeviation = 0.5

// NewResampler creates a resampler.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("resampler: frame reader cannot be nil")
	}
	if err := config.InSpec.Validate(); err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	if err := config.OutSpec.Validate(); err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	if config.InSpec.Channels != config.OutSpec.Channels {
		return nil, fmt.Errorf("resampler: input and output channel counts must match")
	}
	if config.FrameLength <= 0 {
		return nil, fmt.Errorf("resampler: frame length must be positive")
	}

	inFrameSamples := config.InSpec.SamplesFromDuration(config.FrameLength) * config.InSpec.Channels
	if inFrameSamples == 0 {
		return nil, fmt.Errorf("resampler: frame length shorter than one sample")
	}

	taps := config.Profile.taps()
	phases := config.Profile.phases()

	r := &Resampler{
		reader:    config.Reader,
		inSpec:    config.InSpec,
		outSpec:   config.OutSpec,
		channels:  config.InSpec.Channels,
		taps:      taps,
		phases:    phases,
		kernel:    buildKernel(taps, phases),
		history:   make([]float32, taps*config.InSpec.Channels),
		baseRatio: float64(config.InSpec.Rate) / float64(config.OutSpec.Rate),
		scaling:   1,
		inFrame:   NewFrame(inFrameSamples),
		inPos:     inFrameSamples / config.InSpec.Channels, // force a read
	}
	r.ratio = r.baseRatio

	logrus.WithFields(logrus.Fields{
		"function": "NewResampler",
		"in_rate":  config.InSpec.Rate,
		"out_rate": config.OutSpec.Rate,
		"taps":     taps,
		"phases":   phases,
	}).Info("Created resampler")

	return r, nil
}

// buildKernel samples a Blackman-windowed sinc at the phase resolution.
func buildKernel(taps, phases int) []float64 {
	half := taps / 2
	n := 2*half*phases + 1
	k := make([]float64, n)
	for i := range k {
		x := float64(i-half*phases) / float64(phases)
		if x == 0 {
			k[i] = 1
		} else {
			k[i] = math.Sin(math.Pi*x) / (math.Pi * x)
		}
	}
	return window.Blackman(k)
}

// Delay returns the fixed kernel delay in per-channel samples.
func (r *Resampler) Delay() int {
	return r.taps / 2
}

// Scaling returns the current clock correction factor.
func (r *Resampler) Scaling() float64 {
	return r.scaling
}

// SetScaling updates the clock correction factor. The phase accumulator is
// untouched, so the output stays continuous across updates.
func (r *Resampler) SetScaling(scaling float64) bool {
	if scaling < 1-maxScalingDeviation || scaling > 1+maxScalingDeviation {
		return false
	}
	r.scaling = scaling
	r.ratio = r.baseRatio * scaling
	return true
}

// ReadFrame produces one output-rate frame.
func (r *Resampler) ReadFrame(out *Frame) bool {
	if len(out.Samples)%r.channels != 0 {
		panic(fmt.Sprintf("resampler: frame of %d samples not aligned to %d channels",
			len(out.Samples), r.channels))
	}

	r.flags = 0
	n := len(out.Samples) / r.channels
	for i := 0; i < n; i++ {
		for r.phase >= 1 {
			if !r.shiftInput() {
				return false
			}
			r.phase--
		}
		r.interpolate(out.Samples[i*r.channels : (i+1)*r.channels])
		r.phase += r.ratio
	}

	out.Flags = r.flags
	return true
}

// shiftInput consumes one input sample per channel into the history window.
func (r *Resampler) shiftInput() bool {
	if r.inPos*r.channels == len(r.inFrame.Samples) {
		if r.inEOF {
			return false
		}
		if !r.reader.ReadFrame(r.inFrame) {
			r.inEOF = true
			return false
		}
		r.inPos = 0
		r.flags |= r.inFrame.Flags
	}

	copy(r.history, r.history[r.channels:])
	copy(r.history[len(r.history)-r.channels:], r.inFrame.Samples[r.inPos*r.channels:(r.inPos+1)*r.channels])
	r.inPos++
	return true
}

// interpolate computes one output sample per channel from the history
// window at the current fractional phase. The kernel is sampled over
// [-half, half]; tap i evaluates it at (i - half + 1) - phase, which stays
// inside the support, and the tap weights are renormalized so the kernel
// truncation never tilts the DC gain.
func (r *Resampler) interpolate(dst []float32) {
	half := r.taps / 2

	for ch := 0; ch < r.channels; ch++ {
		var acc, gain float64
		for i := 0; i < r.taps; i++ {
			x := float64(i-half+1) - r.phase
			pos := (x + float64(half)) * float64(r.phases)
			idx := int(pos)
			if idx < 0 || idx+1 >= len(r.kernel) {
				continue
			}
			frac := pos - float64(idx)
			w := r.kernel[idx]*(1-frac) + r.kernel[idx+1]*frac
			acc += float64(r.history[i*r.channels+ch]) * w
			gain += w
		}
		if gain != 0 {
			acc /= gain
		}
		dst[ch] = float32(acc)
	}
}
