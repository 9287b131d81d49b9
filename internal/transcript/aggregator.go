package transcript

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
)

const DefaultReorderWindow = 500 * time.Millisecond

type Option func(*Aggregator)

func WithReorderWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.window = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

type heldFinal struct {
	seg    Segment
	heldAt time.Time
}

// Aggregator merges partial and final segments into an ordered transcript.
// Finals are held for the reorder window after they arrive, or until a
// final starting a full window later shows up, so out-of-order arrivals
// within one connection epoch are committed in start order.
type Aggregator struct {
	window  time.Duration
	metrics *metrics.Metrics

	mu         sync.Mutex
	committed  []Segment
	held       []heldFinal
	partial    *Segment
	epoch      int
	maxStart   time.Duration
	lastStart  time.Duration
	coveredEnd time.Duration
	timer      *time.Timer

	subs    map[int]chan Update
	nextSub int
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		window: DefaultReorderWindow,
		subs:   make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Add(s Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case s.Epoch < a.epoch:
		slog.Debug("dropping segment from previous connection", "epoch", s.Epoch, "current_epoch", a.epoch)
		return
	case s.Epoch > a.epoch:
		a.releaseLocked(true, time.Time{})
		a.clearPartialLocked()
		a.epoch = s.Epoch
		a.maxStart = 0
	}

	if s.IsPartial {
		if s.End <= a.coveredEnd && (len(a.committed) > 0 || len(a.held) > 0) {
			slog.Debug("ignoring stale partial", "start", s.Start, "end", s.End)
			a.releaseLocked(false, time.Now())
			return
		}
		p := s
		a.partial = &p
		a.publishLocked(Update{Kind: UpdatePartial, Segment: s})
		a.releaseLocked(false, time.Now())
		return
	}

	if a.partial != nil && (s.covers(*a.partial) || a.partial.End <= s.End) {
		a.clearPartialLocked()
	}
	if s.End > a.coveredEnd {
		a.coveredEnd = s.End
	}
	if s.Start > a.maxStart {
		a.maxStart = s.Start
	}
	i := sort.Search(len(a.held), func(i int) bool { return a.held[i].seg.Start > s.Start })
	a.held = append(a.held, heldFinal{})
	copy(a.held[i+1:], a.held[i:])
	a.held[i] = heldFinal{seg: s, heldAt: time.Now()}
	a.releaseLocked(false, time.Now())
}

func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(true, time.Time{})
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.committed = nil
	a.held = nil
	a.partial = nil
	a.epoch = 0
	a.maxStart = 0
	a.lastStart = 0
	a.coveredEnd = 0
	a.publishLocked(Update{Kind: UpdateReset})
}

func (a *Aggregator) Transcript() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Segment, 0, len(a.committed)+len(a.held)+1)
	out = append(out, a.committed...)
	last := a.lastStart
	for _, h := range a.held {
		seg := clampStart(h.seg, last)
		last = seg.Start
		out = append(out, seg)
	}
	if a.partial != nil {
		out = append(out, *a.partial)
	}
	return out
}

func (a *Aggregator) Finals() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Segment(nil), a.committed...)
}

func (a *Aggregator) Subscribe(buffer int) (<-chan Update, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan Update, buffer)
	a.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.subs, id)
			close(ch)
		})
	}
}

// releaseLocked commits every held final up to the last one that is due.
// A final is due once it has waited a full window, or once a final of the
// same epoch starting a window after it has arrived. all commits everything.
func (a *Aggregator) releaseLocked(all bool, now time.Time) {
	last := -1
	for i, h := range a.held {
		if all ||
			h.seg.Start+a.window <= a.maxStart ||
			(!now.IsZero() && now.Sub(h.heldAt) >= a.window) {
			last = i
		}
	}
	for _, h := range a.held[:last+1] {
		a.commitLocked(h.seg)
	}
	a.held = a.held[last+1:]
	a.scheduleExpiryLocked()
}

func (a *Aggregator) commitLocked(s Segment) {
	if s.Start < a.lastStart {
		slog.Debug("clamping late final segment", "start", s.Start, "last_start", a.lastStart)
		s = clampStart(s, a.lastStart)
	}
	a.lastStart = s.Start
	a.committed = append(a.committed, s)
	a.metrics.SegmentCommitted()
	a.publishLocked(Update{Kind: UpdateFinal, Segment: s})
}

func (a *Aggregator) scheduleExpiryLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.held) == 0 {
		return
	}
	oldest := a.held[0].heldAt
	for _, h := range a.held[1:] {
		if h.heldAt.Before(oldest) {
			oldest = h.heldAt
		}
	}
	wait := a.window - time.Since(oldest)
	if wait < 0 {
		wait = 0
	}
	a.timer = time.AfterFunc(wait, a.expireHeld)
}

func clampStart(s Segment, floor time.Duration) Segment {
	if s.Start >= floor {
		return s
	}
	s.Start = floor
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}

func (a *Aggregator) expireHeld() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	a.releaseLocked(false, time.Now())
}

func (a *Aggregator) clearPartialLocked() {
	if a.partial == nil {
		return
	}
	cleared := *a.partial
	a.partial = nil
	a.publishLocked(Update{Kind: UpdatePartialCleared, Segment: cleared})
}

func (a *Aggregator) publishLocked(u Update) {
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
			slog.Warn("transcript subscriber is behind; update dropped", "kind", u.Kind.String())
		}
	}
}
