package audio

import (
	"encoding/binary"
	"math"
)

type converter struct {
	format  Format
	pending []byte
	rs      *resampler
}

func newConverter(f Format) *converter {
	return &converter{
		format: f,
		rs:     newResampler(f.SampleRateHz, CanonicalFormat.SampleRateHz),
	}
}

func (c *converter) convert(raw []byte) []int16 {
	frameBytes := c.format.BytesPerFrame()
	data := raw
	if len(c.pending) > 0 {
		data = append(c.pending, raw...)
		c.pending = nil
	}
	whole := len(data) / frameBytes * frameBytes
	if rest := data[whole:]; len(rest) > 0 {
		c.pending = append([]byte(nil), rest...)
	}
	mono := toMono16(data[:whole], c.format)
	return c.rs.process(mono)
}

func toMono16(data []byte, f Format) []int16 {
	bps := f.BytesPerSample()
	frameBytes := bps * f.Channels
	frames := len(data) / frameBytes
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		frame := data[i*frameBytes:]
		var acc int32
		for ch := 0; ch < f.Channels; ch++ {
			acc += int32(sampleTo16(frame[ch*bps:], f.BitsPerSample))
		}
		out[i] = int16(acc / int32(f.Channels))
	}
	return out
}

func sampleTo16(b []byte, bits int) int16 {
	switch bits {
	case 8:
		// 8-bit PCM is unsigned with a 128 bias.
		return int16((int32(b[0]) - 128) << 8)
	case 16:
		return int16(binary.LittleEndian.Uint16(b))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return int16(v >> 8)
	case 32:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	default:
		return 0
	}
}

// resampler is a streaming linear-interpolation rate converter. pos is the
// input position of the next output sample relative to the start of the
// current buffer; index -1 refers to the last sample of the previous one.
type resampler struct {
	step     float64
	pos      float64
	prev     int16
	passthru bool
}

func newResampler(inRate, outRate int) *resampler {
	return &resampler{
		step:     float64(inRate) / float64(outRate),
		passthru: inRate == outRate,
	}
}

func (r *resampler) process(in []int16) []int16 {
	if r.passthru {
		return append([]int16(nil), in...)
	}
	n := len(in)
	if n == 0 {
		return nil
	}
	at := func(i int) int16 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}
	out := make([]int16, 0, int(float64(n)/r.step)+1)
	last := float64(n - 1)
	for r.pos < last {
		i := int(math.Floor(r.pos))
		frac := r.pos - float64(i)
		a, b := float64(at(i)), float64(at(i+1))
		out = append(out, int16(math.Round(a+(b-a)*frac)))
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.prev = in[n-1]
	return out
}
