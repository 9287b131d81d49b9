package transcriber

import (
	"context"
	"errors"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/credential"
)

var (
	ErrCredentialExpired = errors.New("transcriber credential expired")
	ErrStreamClosed      = errors.New("transcriber stream closed")
)

const AutoDetectLanguage = "auto"

type StreamConfig struct {
	SampleRateHz int
	Diarization  bool
	LanguageCode string
	Credentials  credential.Credentials
}

func (c StreamConfig) AutoDetect() bool {
	return c.LanguageCode == "" || c.LanguageCode == AutoDetectLanguage
}

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventStreamError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventStreamError:
		return "stream_error"
	default:
		return "unknown"
	}
}

// Segment times are relative to the start of the stream that produced them.
type Segment struct {
	Text    string
	Speaker string
	Start   time.Duration
	End     time.Duration
}

type Event struct {
	Kind    EventKind
	Segment Segment
	Err     error
}

// Stream is one open duplex connection. Write must be called from a single
// goroutine. Events is closed when the connection ends.
type Stream interface {
	Write(pcm []byte) error
	Events() <-chan Event
	Close() error
}

type Transcriber interface {
	StartStreaming(ctx context.Context, cfg StreamConfig) (Stream, error)
}
