package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/credential"
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
)

const (
	DefaultSendBudget   = audio.ChunkDuration
	DefaultGracefulWait = 500 * time.Millisecond
	DefaultDialTimeout  = 10 * time.Second
)

var DefaultReconnectDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

type CredentialSource interface {
	Current() credential.Credentials
	CurrentCredentialsValid() bool
}

type SegmentSink interface {
	Add(seg transcript.Segment)
}

type Options struct {
	Format       audio.Format
	Diarization  bool
	LanguageCode string
}

type Handle struct {
	ID        string
	StartedAt time.Time
}

type Option func(*Manager)

func WithReconnectDelays(delays ...time.Duration) Option {
	return func(m *Manager) { m.delays = append([]time.Duration(nil), delays...) }
}

func WithSendBudget(d time.Duration) Option {
	return func(m *Manager) { m.sendBudget = d }
}

func WithGracefulWait(d time.Duration) Option {
	return func(m *Manager) { m.gracefulWait = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager runs one streaming session at a time. Session state is owned by
// a single control goroutine; callers talk to it through messages and read
// the atomically published Status.
type Manager struct {
	transcriber  transcriber.Transcriber
	credentials  CredentialSource
	sink         SegmentSink
	metrics      *metrics.Metrics
	delays       []time.Duration
	sendBudget   time.Duration
	gracefulWait time.Duration
	dialTimeout  time.Duration

	status atomic.Pointer[Status]
	outbox atomic.Pointer[outbox]

	mu      sync.Mutex
	active  *controlLoop
	subs    map[int]chan Status
	nextSub int
}

func NewManager(stt transcriber.Transcriber, creds CredentialSource, sink SegmentSink, opts ...Option) *Manager {
	m := &Manager{
		transcriber:  stt,
		credentials:  creds,
		sink:         sink,
		delays:       DefaultReconnectDelays,
		sendBudget:   DefaultSendBudget,
		gracefulWait: DefaultGracefulWait,
		dialTimeout:  DefaultDialTimeout,
		subs:         make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status.Store(&Status{State: StateIdle, UpdatedAt: time.Now()})
	return m
}

func (m *Manager) Start(ctx context.Context, opts Options) (Handle, error) {
	if !opts.Format.IsCanonical() {
		return Handle{}, fmt.Errorf("%w: %w: got %s, want %s", ErrSessionStart, audio.ErrFormatInvalid, opts.Format, audio.CanonicalFormat)
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	m.mu.Lock()
	if m.active != nil && !m.active.finished() {
		m.mu.Unlock()
		return Handle{}, ErrSessionActive
	}
	l := newControlLoop(m, record{
		id:        uuid.NewString(),
		opts:      opts,
		startedAt: time.Now(),
		state:     StateIdle,
	})
	m.active = l
	m.mu.Unlock()

	slog.Info("starting transcription session",
		"session_id", l.rec.id, "diarization", opts.Diarization, "language", opts.LanguageCode)
	go l.run()
	return Handle{ID: l.rec.id, StartedAt: l.rec.startedAt}, nil
}

// Submit offers a chunk for transmission and never blocks. It returns false
// when the chunk was discarded because the session is not streaming or the
// transport is behind.
func (m *Manager) Submit(chunk audio.Chunk) bool {
	ob := m.outbox.Load()
	if ob == nil {
		m.metrics.ChunkDropped(metrics.DropNotStreaming)
		return false
	}
	select {
	case ob.ch <- queuedChunk{chunk: chunk, at: time.Now()}:
		return true
	default:
		m.metrics.ChunkDropped(metrics.DropBackpressure)
		slog.Debug("outbound audio behind; chunk dropped", "sequence", chunk.Sequence, "epoch", ob.epoch)
		return false
	}
}

func (m *Manager) NotifyCredentialRefresh(expiresAt time.Time) {
	m.send(credentialRefreshed{expiresAt: expiresAt})
}

func (m *Manager) ManualReconnect() {
	m.send(manualReconnect{})
}

func (m *Manager) Stop() {
	m.mu.Lock()
	l := m.active
	m.mu.Unlock()
	if l == nil {
		return
	}
	reply := make(chan struct{})
	select {
	case l.inbox <- stopRequest{reply: reply}:
		<-reply
	case <-l.done:
	}
	<-l.done
}

func (m *Manager) Status() Status {
	return *m.status.Load()
}

func (m *Manager) Subscribe(buffer int) (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Status, buffer)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Manager) send(msg any) {
	m.mu.Lock()
	l := m.active
	m.mu.Unlock()
	if l == nil {
		return
	}
	select {
	case l.inbox <- msg:
	case <-l.done:
	}
}

func (m *Manager) publish(s Status) {
	m.status.Store(&s)
	m.metrics.SessionState(int(s.State))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (m *Manager) reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(m.delays) {
		attempt = len(m.delays)
	}
	return m.delays[attempt-1]
}

func (m *Manager) maxAttempts() int {
	return len(m.delays)
}
