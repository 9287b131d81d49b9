package audio

import (
	"errors"
	"testing"
	"time"
)

func TestFormatIsCanonical(t *testing.T) {
	if !CanonicalFormat.IsCanonical() {
		t.Fatal("expected canonical format to be canonical")
	}
	for _, f := range []Format{
		{SampleRateHz: 48000, BitsPerSample: 16, Channels: 1},
		{SampleRateHz: 16000, BitsPerSample: 24, Channels: 1},
		{SampleRateHz: 16000, BitsPerSample: 16, Channels: 2},
	} {
		if f.IsCanonical() {
			t.Fatalf("expected %s to be non-canonical", f)
		}
	}
}

func TestFormatValidate(t *testing.T) {
	bad := []Format{
		{SampleRateHz: 0, BitsPerSample: 16, Channels: 1},
		{SampleRateHz: 16000, BitsPerSample: 12, Channels: 1},
		{SampleRateHz: 16000, BitsPerSample: 16, Channels: 0},
	}
	for _, f := range bad {
		if err := f.Validate(); !errors.Is(err, ErrFormatInvalid) {
			t.Fatalf("expected ErrFormatInvalid for %+v, got %v", f, err)
		}
	}
	if err := (Format{SampleRateHz: 44100, BitsPerSample: 24, Channels: 2}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Payload: make([]byte, SamplesPerChunk*2)}
	if c.Duration() != ChunkDuration {
		t.Fatalf("expected %v, got %v", ChunkDuration, c.Duration())
	}
}

func TestResampler_OutputLengthTracksRatio(t *testing.T) {
	for _, rate := range []int{8000, 22050, 44100, 48000, 96000} {
		rs := newResampler(rate, 16000)
		total := 0
		in := make([]int16, rate/50)
		for i := 0; i < 50; i++ {
			total += len(rs.process(in))
		}
		if total < 15990 || total > 16001 {
			t.Fatalf("rate %d: expected ~16000 output samples for one second, got %d", rate, total)
		}
	}
}

func TestResampler_InterpolatesAcrossBufferBoundary(t *testing.T) {
	rs := newResampler(8000, 16000)
	first := rs.process([]int16{0, 1000})
	second := rs.process([]int16{2000})
	got := append(first, second...)
	want := []int16{0, 500, 1000, 1500}
	if len(got) != len(want) {
		t.Fatalf("unexpected length %d: %v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d (%v)", i, want[i], got[i], got)
		}
	}
}

func TestToMono16_AveragesChannels(t *testing.T) {
	f := Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 2}
	raw := EncodePCM16([]int16{1000, 3000, -2000, 2000})
	got := toMono16(raw, f)
	if len(got) != 2 || got[0] != 2000 || got[1] != 0 {
		t.Fatalf("unexpected mono samples: %v", got)
	}
}

func TestSampleTo16_BitDepths(t *testing.T) {
	if v := sampleTo16([]byte{128}, 8); v != 0 {
		t.Fatalf("8-bit midpoint: expected 0, got %d", v)
	}
	if v := sampleTo16([]byte{255}, 8); v != 127<<8 {
		t.Fatalf("8-bit max: expected %d, got %d", 127<<8, v)
	}
	if v := sampleTo16([]byte{0x00, 0x00, 0x80}, 24); v != -32768 {
		t.Fatalf("24-bit min: expected -32768, got %d", v)
	}
	if v := sampleTo16([]byte{0x00, 0x00, 0xff, 0x7f}, 32); v != 32767 {
		t.Fatalf("32-bit max: expected 32767, got %d", v)
	}
}

func TestConverter_CarriesPartialFrames(t *testing.T) {
	f := Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 2}
	c := newConverter(f)
	raw := EncodePCM16([]int16{100, 300, 500, 700})
	first := c.convert(raw[:3])
	second := c.convert(raw[3:])
	got := append(first, second...)
	if len(got) != 2 || got[0] != 200 || got[1] != 600 {
		t.Fatalf("unexpected samples across split frame: %v", got)
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	r := newRingBuffer(4)
	if over := r.write([]int16{1, 2, 3}); over != 0 {
		t.Fatalf("unexpected overwrite count %d", over)
	}
	if over := r.write([]int16{4, 5, 6}); over != 2 {
		t.Fatalf("expected 2 overwritten, got %d", over)
	}
	dst := make([]int16, 8)
	n := r.read(dst)
	if n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	for i, want := range []int16{3, 4, 5, 6} {
		if dst[i] != want {
			t.Fatalf("sample %d: expected %d, got %d", i, want, dst[i])
		}
	}
	if r.len() != 0 {
		t.Fatalf("expected empty ring, got %d", r.len())
	}
}

func TestFramesFor(t *testing.T) {
	f := Format{SampleRateHz: 44100, BitsPerSample: 16, Channels: 2}
	if got := f.FramesFor(100 * time.Millisecond); got != 4410 {
		t.Fatalf("expected 4410 frames, got %d", got)
	}
}
