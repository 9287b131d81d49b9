package audio

import (
	"errors"
	"fmt"
	"time"
)

var ErrFormatInvalid = errors.New("audio format invalid")

type Format struct {
	SampleRateHz  int
	BitsPerSample int
	Channels      int
}

var CanonicalFormat = Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 1}

func (f Format) IsCanonical() bool {
	return f == CanonicalFormat
}

func (f Format) Validate() error {
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrFormatInvalid, f.SampleRateHz)
	}
	if f.Channels < 1 {
		return fmt.Errorf("%w: channel count must be at least 1, got %d", ErrFormatInvalid, f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrFormatInvalid, f.BitsPerSample)
	}
	return nil
}

func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

func (f Format) BytesPerFrame() int {
	return f.BytesPerSample() * f.Channels
}

func (f Format) FramesFor(d time.Duration) int {
	return int(int64(f.SampleRateHz) * int64(d) / int64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRateHz, f.BitsPerSample, f.Channels)
}
