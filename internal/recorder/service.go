package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
	"github.com/pbarone/meetingtranscribermacos/internal/repository"
	"github.com/pbarone/meetingtranscribermacos/internal/session"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
	"github.com/pbarone/meetingtranscribermacos/internal/webhook"
)

var (
	ErrRecorderRunning = errors.New("recorder already running")
	ErrNotRunning      = errors.New("recorder not running")
)

const StateCaptureLost = "capture_lost"

const (
	statusBuffer = 32
	feedBuffer   = 256
	sinkTimeout  = 10 * time.Second
)

type Capture interface {
	Start(ctx context.Context, input, output audio.DeviceHandle) error
	Stop() (audio.Chunk, bool)
	Pause()
	Resume()
	Chunks() <-chan audio.Chunk
	Levels() <-chan audio.Level
	Done() <-chan struct{}
	Err() error
}

type Sessions interface {
	Start(ctx context.Context, opts session.Options) (session.Handle, error)
	Submit(chunk audio.Chunk) bool
	Stop()
	Status() session.Status
	Subscribe(buffer int) (<-chan session.Status, func())
	ManualReconnect()
}

type Settings struct {
	Input        audio.DeviceHandle
	Output       audio.DeviceHandle
	LanguageCode string
	Diarization  bool
	Timezone     string
	Location     *time.Location
}

type Service struct {
	settings  Settings
	capture   Capture
	sessions  Sessions
	agg       *transcript.Aggregator
	repo      repository.Repository
	publisher publisher.Publisher
	webhook   webhook.Sender

	mu     sync.Mutex
	active *run
}

type run struct {
	handle session.Handle
	ctx    context.Context
	cancel context.CancelFunc

	unsubStatus func()
	unsubFeed   func()
	pumpDone    chan struct{}
	statusDone  chan struct{}
	feedDone    chan struct{}

	stopOnce sync.Once
	finished chan struct{}

	mu         sync.Mutex
	segments   int
	reconnects int
	lastState  session.State
	failedErr  error
	captureErr error
}

func NewService(settings Settings, capture Capture, sessions Sessions, agg *transcript.Aggregator, repo repository.Repository, pub publisher.Publisher, wh webhook.Sender) *Service {
	return &Service{
		settings:  settings,
		capture:   capture,
		sessions:  sessions,
		agg:       agg,
		repo:      repo,
		publisher: pub,
		webhook:   wh,
	}
}

func (s *Service) Start(ctx context.Context) (session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return session.Handle{}, ErrRecorderRunning
	}

	s.agg.Reset()
	if err := s.capture.Start(ctx, s.settings.Input, s.settings.Output); err != nil {
		return session.Handle{}, fmt.Errorf("start capture: %w", err)
	}
	statusCh, unsubStatus := s.sessions.Subscribe(statusBuffer)
	h, err := s.sessions.Start(ctx, session.Options{
		Format:       audio.CanonicalFormat,
		Diarization:  s.settings.Diarization,
		LanguageCode: s.settings.LanguageCode,
	})
	if err != nil {
		unsubStatus()
		s.capture.Stop()
		return session.Handle{}, err
	}
	feed, unsubFeed := s.agg.Subscribe(feedBuffer)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		handle:      h,
		ctx:         runCtx,
		cancel:      cancel,
		unsubStatus: unsubStatus,
		unsubFeed:   unsubFeed,
		pumpDone:    make(chan struct{}),
		statusDone:  make(chan struct{}),
		feedDone:    make(chan struct{}),
		finished:    make(chan struct{}),
		lastState:   session.StateIdle,
	}
	s.active = r

	sinkCtx, sinkCancel := context.WithTimeout(runCtx, sinkTimeout)
	if _, err := s.repo.CreateSession(sinkCtx, repository.CreateSessionInput{
		ID:             h.ID,
		InputDeviceID:  s.settings.Input.ID,
		OutputDeviceID: s.settings.Output.ID,
		LanguageCode:   s.settings.LanguageCode,
		Diarization:    s.settings.Diarization,
		StartedAt:      h.StartedAt,
	}); err != nil {
		slog.Error("failed to create session in repository", "error", err, "session_id", h.ID)
	}
	sinkCancel()

	go s.pump(r, s.capture.Chunks())
	go s.watchStatus(r, statusCh)
	go s.watchFeed(r, feed)
	go s.watchCapture(r, s.capture.Done())

	slog.Info("recording started", "session_id", h.ID, "input_device", s.settings.Input.ID, "output_device", s.settings.Output.ID)
	return h, nil
}

func (s *Service) Stop() error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	s.stopRun(r, nil)
	return nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Service) Pause() {
	s.capture.Pause()
}

func (s *Service) Resume() {
	s.capture.Resume()
}

func (s *Service) ManualReconnect() {
	s.sessions.ManualReconnect()
}

func (s *Service) Status() session.Status {
	return s.sessions.Status()
}

func (s *Service) Levels() <-chan audio.Level {
	return s.capture.Levels()
}

func (s *Service) Transcript() []transcript.Segment {
	return s.agg.Transcript()
}

func (s *Service) SubscribeTranscript(buffer int) (<-chan transcript.Update, func()) {
	return s.agg.Subscribe(buffer)
}

func (s *Service) pump(r *run, chunks <-chan audio.Chunk) {
	defer close(r.pumpDone)
	var sent, dropped int
	for c := range chunks {
		if s.sessions.Submit(c) {
			sent++
		} else {
			dropped++
		}
	}
	slog.Info("audio pump stopped", "session_id", r.handle.ID, "submitted", sent, "discarded", dropped)
}

func (s *Service) watchStatus(r *run, ch <-chan session.Status) {
	defer close(r.statusDone)
	for st := range ch {
		if st.SessionID != r.handle.ID {
			continue
		}
		r.mu.Lock()
		if r.lastState == session.StateStreaming && (st.State == session.StateReconnecting || st.State == session.StateConnecting) {
			r.reconnects++
		}
		switch st.State {
		case session.StateFailed:
			r.failedErr = st.LastError
		case session.StateStreaming:
			r.failedErr = nil
		}
		r.lastState = st.State
		r.mu.Unlock()

		msg := publisher.StatusMessage{
			SessionID: st.SessionID,
			State:     st.State.String(),
			Attempt:   st.Attempt,
			Trigger:   string(st.Trigger),
			UpdatedAt: st.UpdatedAt,
		}
		if st.LastError != nil {
			msg.LastError = st.LastError.Error()
		}
		s.publishStatus(r, msg)
	}
}

func (s *Service) watchFeed(r *run, feed <-chan transcript.Update) {
	defer close(r.feedDone)
	for u := range feed {
		if u.Kind != transcript.UpdateFinal {
			continue
		}
		r.mu.Lock()
		idx := r.segments
		r.segments++
		r.mu.Unlock()

		seg := u.Segment
		ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
		if err := s.repo.InsertSegment(ctx, repository.InsertSegmentInput{
			SessionID:    r.handle.ID,
			SegmentIndex: idx,
			Content:      seg.Text,
			Speaker:      seg.Speaker,
			Start:        seg.Start,
			End:          seg.End,
			Epoch:        seg.Epoch,
		}); err != nil {
			slog.Error("failed to insert segment", "error", err, "session_id", r.handle.ID, "segment_index", idx)
		}
		if err := s.publisher.PublishSegment(ctx, publisher.SegmentMessage{
			SessionID: r.handle.ID,
			Index:     idx,
			Text:      seg.Text,
			Speaker:   seg.Speaker,
			StartMs:   seg.Start.Milliseconds(),
			EndMs:     seg.End.Milliseconds(),
			Epoch:     seg.Epoch,
		}); err != nil {
			slog.Warn("failed to publish segment", "error", err, "session_id", r.handle.ID, "segment_index", idx)
		}
		cancel()
	}
}

// watchCapture ends the recording when capture stops on its own, after
// publishing the capture error so observers never see a silent stop.
func (s *Service) watchCapture(r *run, done <-chan struct{}) {
	select {
	case <-done:
	case <-r.finished:
		return
	}
	err := s.capture.Err()
	if err == nil {
		return
	}
	r.mu.Lock()
	r.captureErr = err
	r.mu.Unlock()
	slog.Error("capture lost; ending recording", "error", err, "session_id", r.handle.ID)
	s.publishStatus(r, publisher.StatusMessage{
		SessionID: r.handle.ID,
		State:     StateCaptureLost,
		LastError: err.Error(),
		UpdatedAt: time.Now(),
	})
	s.stopRun(r, err)
}

func (s *Service) stopRun(r *run, cause error) {
	r.stopOnce.Do(func() {
		s.finalize(r, cause)
		close(r.finished)
	})
	<-r.finished
}

func (s *Service) finalize(r *run, cause error) {
	slog.Info("stopping recording", "session_id", r.handle.ID, "capture_error", cause != nil)

	final, ok := s.capture.Stop()
	<-r.pumpDone
	if ok {
		s.sessions.Submit(final)
	}
	s.sessions.Stop()

	s.agg.Flush()
	r.unsubFeed()
	<-r.feedDone
	r.unsubStatus()
	<-r.statusDone

	endedAt := time.Now()
	r.mu.Lock()
	status := repository.SessionStatusStopped
	var lastErr error
	switch {
	case r.captureErr != nil:
		lastErr = r.captureErr
	case r.failedErr != nil:
		lastErr = r.failedErr
	}
	if lastErr != nil {
		status = repository.SessionStatusFailed
	}
	reconnects := r.reconnects
	r.mu.Unlock()
	lastErrText := ""
	if lastErr != nil {
		lastErrText = lastErr.Error()
	}

	segments := s.agg.Finals()
	ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
	defer cancel()
	if err := s.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:      r.handle.ID,
		EndedAt:        endedAt,
		Status:         status,
		ReconnectCount: reconnects,
		LastError:      lastErrText,
		SegmentCount:   len(segments),
	}); err != nil {
		slog.Error("failed to complete session", "error", err, "session_id", r.handle.ID)
	}

	payload := buildTranscriptWebhookPayload(summary{
		sessionID:      r.handle.ID,
		startedAt:      r.handle.StartedAt,
		endedAt:        endedAt,
		status:         string(status),
		languageCode:   s.settings.LanguageCode,
		reconnectCount: reconnects,
		lastError:      lastErrText,
	}, s.settings.Timezone, s.settings.Location, segments)
	if err := s.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", r.handle.ID)
	}
	r.cancel()

	s.mu.Lock()
	if s.active == r {
		s.active = nil
	}
	s.mu.Unlock()
	slog.Info("recording stopped", "session_id", r.handle.ID, "status", string(status), "segments", len(segments), "reconnects", reconnects)
}

func (s *Service) publishStatus(r *run, msg publisher.StatusMessage) {
	ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
	defer cancel()
	if err := s.publisher.PublishStatus(ctx, msg); err != nil {
		slog.Warn("failed to publish status", "error", err, "session_id", msg.SessionID, "state", msg.State)
	}
}
