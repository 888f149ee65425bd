package audio

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ChannelMapperConfig holds configuration for creating a channel mapper.
type ChannelMapperConfig struct {
	// Reader is the upstream frame source in the input layout.
	Reader FrameReader
	// InSpec and OutSpec share the sample rate; the channel counts differ.
	InSpec  SampleSpec
	OutSpec SampleSpec
	// FrameLength sizes the internal batch buffer.
	FrameLength time.Duration
}

// ChannelMapper translates between channel layouts with a precomputed
// matrix: mono to stereo duplicates, stereo to mono averages. It never
// changes the sample rate. The flags of the upstream reads behind one output
// frame are ORed onto it.
type ChannelMapper struct {
	reader  FrameReader
	inSpec  SampleSpec
	outSpec SampleSpec
	enabled bool

	matrix [][]float32 // out channel -> per-in-channel weights
	inBuf  *Frame
}

// NewChannelMapper creates a channel mapper.
func NewChannelMapper(config ChannelMapperConfig) (*ChannelMapper, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("channel mapper: frame reader cannot be nil")
	}
	if err := config.InSpec.Validate(); err != nil {
		return nil, fmt.Errorf("channel mapper: %w", err)
	}
	if err := config.OutSpec.Validate(); err != nil {
		return nil, fmt.Errorf("channel mapper: %w", err)
	}
	if config.InSpec.Rate != config.OutSpec.Rate {
		return nil, fmt.Errorf("channel mapper: input and output sample rates must be equal")
	}
	if config.FrameLength <= 0 {
		return nil, fmt.Errorf("channel mapper: frame length must be positive")
	}

	m := &ChannelMapper{
		reader:  config.Reader,
		inSpec:  config.InSpec,
		outSpec: config.OutSpec,
		enabled: config.InSpec.Channels != config.OutSpec.Channels,
	}

	if m.enabled {
		m.matrix = buildChannelMatrix(config.InSpec.Channels, config.OutSpec.Channels)
		batch := config.InSpec.SamplesFromDuration(config.FrameLength) * config.InSpec.Channels
		if batch == 0 {
			return nil, fmt.Errorf("channel mapper: frame length shorter than one sample")
		}
		m.inBuf = NewFrame(batch)

		logrus.WithFields(logrus.Fields{
			"function":     "NewChannelMapper",
			"in_channels":  config.InSpec.Channels,
			"out_channels": config.OutSpec.Channels,
		}).Debug("Created channel mapper")
	}

	return m, nil
}

func buildChannelMatrix(in, out int) [][]float32 {
	matrix := make([][]float32, out)
	for o := range matrix {
		matrix[o] = make([]float32, in)
		if in == 1 {
			// Mono upmix: duplicate.
			matrix[o][0] = 1
			continue
		}
		if out == 1 {
			// Downmix: average.
			for i := range matrix[o] {
				matrix[o][i] = 1 / float32(in)
			}
			continue
		}
		// Same count: permutation is the identity here.
		matrix[o][o%in] = 1
	}
	return matrix
}

// ReadFrame fills an output-layout frame.
func (m *ChannelMapper) ReadFrame(out *Frame) bool {
	if len(out.Samples)%m.outSpec.Channels != 0 {
		panic(fmt.Sprintf("channel mapper: frame of %d samples not aligned to %d channels",
			len(out.Samples), m.outSpec.Channels))
	}

	if !m.enabled {
		return m.reader.ReadFrame(out)
	}

	total := len(out.Samples) / m.outSpec.Channels
	maxBatch := len(m.inBuf.Samples) / m.inSpec.Channels

	var flags FrameFlags
	done := 0
	for done < total {
		n := total - done
		if n > maxBatch {
			n = maxBatch
		}

		in := Frame{Samples: m.inBuf.Samples[:n*m.inSpec.Channels]}
		if !m.reader.ReadFrame(&in) {
			return false
		}
		flags |= in.Flags

		for s := 0; s < n; s++ {
			for o := 0; o < m.outSpec.Channels; o++ {
				var acc float32
				for i := 0; i < m.inSpec.Channels; i++ {
					acc += m.matrix[o][i] * in.Samples[s*m.inSpec.Channels+i]
				}
				out.Samples[(done+s)*m.outSpec.Channels+o] = acc
			}
		}
		done += n
	}

	out.Flags = flags
	return true
}
