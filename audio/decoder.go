package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// FrameDecoder extracts samples from one packet payload at a time. The
// depacketizer drives it: Begin, then interleaved ReadSamples/Skip calls
// walking the payload, then End.
type FrameDecoder interface {
	// Begin starts decoding a payload and returns its per-channel sample
	// count.
	Begin(payload []byte) (uint32, error)
	// ReadSamples fills dst with interleaved samples and returns the number
	// of per-channel samples produced.
	ReadSamples(dst []float32) int
	// Skip advances past n per-channel samples without producing them.
	Skip(n uint32)
	// End finishes the current payload.
	End()
}

// NewFrameDecoder creates a decoder for the given encoding.
func NewFrameDecoder(encoding string, spec SampleSpec) (FrameDecoder, error) {
	switch encoding {
	case "l16":
		return newL16Decoder(spec), nil
	case "opus":
		return newOpusDecoder(spec), nil
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", encoding)
	}
}

// l16Decoder decodes big-endian 16-bit linear PCM.
type l16Decoder struct {
	spec    SampleSpec
	payload []byte
	pos     int // per-channel position
	total   int
}

func newL16Decoder(spec SampleSpec) *l16Decoder {
	return &l16Decoder{spec: spec}
}

func (d *l16Decoder) Begin(payload []byte) (uint32, error) {
	frameBytes := 2 * d.spec.Channels
	if len(payload)%frameBytes != 0 {
		return 0, fmt.Errorf("audio: l16 payload of %d bytes not aligned to %d channels",
			len(payload), d.spec.Channels)
	}
	d.payload = payload
	d.pos = 0
	d.total = len(payload) / frameBytes
	return uint32(d.total), nil
}

func (d *l16Decoder) ReadSamples(dst []float32) int {
	want := len(dst) / d.spec.Channels
	if avail := d.total - d.pos; want > avail {
		want = avail
	}
	for i := 0; i < want*d.spec.Channels; i++ {
		off := (d.pos*d.spec.Channels + i) * 2
		v := int16(binary.BigEndian.Uint16(d.payload[off:]))
		dst[i] = float32(v) / 32768
	}
	d.pos += want
	return want
}

func (d *l16Decoder) Skip(n uint32) {
	d.pos += int(n)
	if d.pos > d.total {
		d.pos = d.total
	}
}

func (d *l16Decoder) End() {
	d.payload = nil
	d.pos = 0
	d.total = 0
}

// opusSamplesPerPacket is the fixed per-channel packet duration the Opus
// streams here use: 20 ms at 48 kHz.
const opusSamplesPerPacket = 960

// opusDecoder decodes Opus packets with the pure Go pion decoder. The whole
// packet is decoded on Begin and served from an internal buffer.
type opusDecoder struct {
	spec    SampleSpec
	decoder opus.Decoder
	out     []byte
	pcm     []float32
	pos     int
	total   int
}

func newOpusDecoder(spec SampleSpec) *opusDecoder {
	return &opusDecoder{
		spec:    spec,
		decoder: opus.NewDecoder(),
		out:     make([]byte, 1920*2*2),
	}
}

func (d *opusDecoder) Begin(payload []byte) (uint32, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("audio: empty opus payload")
	}

	_, isStereo, err := d.decoder.Decode(payload, d.out)
	if err != nil {
		return 0, fmt.Errorf("audio: opus decode failed: %w", err)
	}

	srcChannels := 1
	if isStereo {
		srcChannels = 2
	}

	// The decoder produces little-endian int16 into the fixed buffer; the
	// stream runs at the registry's fixed packet duration.
	decoded := opusSamplesPerPacket

	logrus.WithFields(logrus.Fields{
		"function":  "opusDecoder.Begin",
		"is_stereo": isStereo,
		"samples":   decoded,
	}).Debug("Decoded opus packet")

	if cap(d.pcm) < decoded*d.spec.Channels {
		d.pcm = make([]float32, decoded*d.spec.Channels)
	}
	d.pcm = d.pcm[:decoded*d.spec.Channels]

	for i := 0; i < decoded; i++ {
		for ch := 0; ch < d.spec.Channels; ch++ {
			src := ch
			if src >= srcChannels {
				src = srcChannels - 1
			}
			v := int16(binary.LittleEndian.Uint16(d.out[(i*srcChannels+src)*2:]))
			d.pcm[i*d.spec.Channels+ch] = float32(v) / 32768
		}
	}

	d.pos = 0
	d.total = decoded
	return uint32(decoded), nil
}

func (d *opusDecoder) ReadSamples(dst []float32) int {
	want := len(dst) / d.spec.Channels
	if avail := d.total - d.pos; want > avail {
		want = avail
	}
	copy(dst, d.pcm[d.pos*d.spec.Channels:(d.pos+want)*d.spec.Channels])
	d.pos += want
	return want
}

func (d *opusDecoder) Skip(n uint32) {
	d.pos += int(n)
	if d.pos > d.total {
		d.pos = d.total
	}
}

func (d *opusDecoder) End() {
	d.pos = 0
	d.total = 0
}
