package transcript

import "time"

// Segment is one piece of transcript text. Start and End are relative to
// the session start, already corrected for reconnects.
type Segment struct {
	Text             string
	IsPartial        bool
	Speaker          string
	Start            time.Duration
	End              time.Duration
	ReceivedSequence uint64
	Epoch            int
}

func (s Segment) covers(o Segment) bool {
	return s.Start <= o.Start && s.End >= o.End
}

type UpdateKind int

const (
	UpdatePartial UpdateKind = iota
	UpdateFinal
	UpdatePartialCleared
	UpdateReset
)

func (k UpdateKind) String() string {
	switch k {
	case UpdatePartial:
		return "partial"
	case UpdateFinal:
		return "final"
	case UpdatePartialCleared:
		return "partial_cleared"
	case UpdateReset:
		return "reset"
	default:
		return "unknown"
	}
}

type Update struct {
	Kind    UpdateKind
	Segment Segment
}
