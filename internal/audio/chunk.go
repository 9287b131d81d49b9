package audio

import "time"

const ChunkDuration = 100 * time.Millisecond

var SamplesPerChunk = CanonicalFormat.FramesFor(ChunkDuration)

// Chunk is one cadence slice of canonical PCM. Sequence numbers restart at
// zero for every capture session and are never reordered.
type Chunk struct {
	Payload    []byte
	CapturedAt time.Time
	Sequence   uint64
}

func (c Chunk) Duration() time.Duration {
	samples := len(c.Payload) / CanonicalFormat.BytesPerFrame()
	return time.Duration(samples) * time.Second / time.Duration(CanonicalFormat.SampleRateHz)
}

type ChannelRole int

const (
	RoleInput ChannelRole = iota
	RoleSystem
)

func (r ChannelRole) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

type Level struct {
	RMS  float64
	Role ChannelRole
	At   time.Time
}
