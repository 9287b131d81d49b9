package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
)

// record is the session state. Only the control loop goroutine touches it.
type record struct {
	id                 string
	opts               Options
	startedAt          time.Time
	state              State
	offset             time.Duration
	lastStreamingStart time.Time
	lastAcked          time.Duration
	connectedOnce      bool
	attempt            int
	trigger            Trigger
	epoch              int
	received           uint64
	usedExpiry         time.Time
	latestExpiry       time.Time
	lastErr            error
}

type credentialRefreshed struct {
	expiresAt time.Time
}

type manualReconnect struct{}

type stopRequest struct {
	reply chan struct{}
}

type dialResult struct {
	id     int
	stream transcriber.Stream
	cancel context.CancelFunc
	expiry time.Time
	err    error
}

type senderFailed struct {
	epoch int
	err   error
}

type controlLoop struct {
	m     *Manager
	rec   record
	inbox chan any
	done  chan struct{}

	conn       *connection
	dialID     int
	dialCancel context.CancelFunc
	backoff    *time.Timer
	backoffC   <-chan time.Time
}

func newControlLoop(m *Manager, rec record) *controlLoop {
	return &controlLoop{
		m:     m,
		rec:   rec,
		inbox: make(chan any),
		done:  make(chan struct{}),
	}
}

func (l *controlLoop) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *controlLoop) run() {
	defer close(l.done)
	l.setState(StateConnecting)
	l.dial()
	for {
		var events <-chan transcriber.Event
		if l.conn != nil {
			events = l.conn.stream.Events()
		}
		select {
		case msg := <-l.inbox:
			if l.handle(msg) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				l.onTransportError(fmt.Errorf("%w: event stream ended", transcriber.ErrStreamClosed))
				continue
			}
			l.handleEvent(ev)
		case <-l.backoffC:
			l.backoff, l.backoffC = nil, nil
			slog.Info("reconnect attempt dialing", "session_id", l.rec.id, "attempt", l.rec.attempt, "trigger", string(l.rec.trigger))
			l.dial()
		}
	}
}

func (l *controlLoop) handle(msg any) bool {
	switch msg := msg.(type) {
	case credentialRefreshed:
		l.onCredentialRefresh(msg.expiresAt)
	case manualReconnect:
		l.onManualReconnect()
	case dialResult:
		l.onDialResult(msg)
	case senderFailed:
		if l.conn != nil && l.conn.epoch == msg.epoch {
			l.m.metrics.TransportError("send")
			l.onTransportError(msg.err)
		}
	case stopRequest:
		l.stop()
		close(msg.reply)
		return true
	}
	return false
}

func (l *controlLoop) dial() {
	l.dialID++
	id := l.dialID
	ctx, cancel := context.WithCancel(context.Background())
	l.dialCancel = cancel

	creds := l.m.credentials.Current()
	cfg := transcriber.StreamConfig{
		SampleRateHz: l.rec.opts.Format.SampleRateHz,
		Diarization:  l.rec.opts.Diarization,
		LanguageCode: l.rec.opts.LanguageCode,
		Credentials:  creds,
	}
	go func() {
		res := dialResult{id: id, cancel: cancel, expiry: creds.ExpiresAt}
		if !l.m.credentials.CurrentCredentialsValid() {
			res.err = fmt.Errorf("%w: no valid credentials to dial with", transcriber.ErrCredentialExpired)
		} else {
			timeout := time.AfterFunc(l.m.dialTimeout, cancel)
			res.stream, res.err = l.m.transcriber.StartStreaming(ctx, cfg)
			timeout.Stop()
		}
		select {
		case l.inbox <- res:
		case <-l.done:
			if res.stream != nil {
				_ = res.stream.Close()
			}
			cancel()
		}
	}()
}

func (l *controlLoop) onDialResult(res dialResult) {
	if res.id != l.dialID || l.dialCancel == nil {
		if res.stream != nil {
			go func() {
				_ = res.stream.Close()
				res.cancel()
			}()
		} else {
			res.cancel()
		}
		return
	}
	l.dialCancel = nil

	if res.err != nil {
		res.cancel()
		l.m.metrics.TransportError("dial")
		l.onDialFailure(res.err)
		return
	}

	now := time.Now()
	if l.rec.connectedOnce {
		l.rec.offset += now.Sub(l.rec.lastStreamingStart)
	}
	l.rec.connectedOnce = true
	l.rec.lastStreamingStart = now
	l.rec.epoch++
	l.rec.usedExpiry = res.expiry
	l.rec.attempt = 0
	l.rec.trigger = ""
	l.rec.lastErr = nil
	l.conn = newConnection(l, l.rec.epoch, res.stream, res.cancel)
	l.m.outbox.Store(l.conn.outbox)
	go l.conn.runSender()
	l.setState(StateStreaming)
	slog.Info("transcription stream established",
		"session_id", l.rec.id, "epoch", l.rec.epoch, "offset", l.rec.offset.String())

	if l.refreshPending() {
		slog.Info("credentials rotated while connecting; reconnecting gracefully", "session_id", l.rec.id)
		l.gracefulReconnect()
	}
}

func (l *controlLoop) onDialFailure(err error) {
	switch l.rec.state {
	case StateConnecting:
		if l.rec.trigger == TriggerManual {
			l.onAttemptFailure(err)
			return
		}
		if !l.rec.connectedOnce {
			slog.Error("transcription handshake failed", "session_id", l.rec.id, "error", err)
			l.fail(fmt.Errorf("%w: %w", ErrSessionStart, err))
			return
		}
		slog.Warn("connect failed; entering reconnect protocol", "session_id", l.rec.id, "error", err)
		trigger := l.rec.trigger
		if trigger == "" {
			trigger = TriggerNetworkError
		}
		l.rec.lastErr = err
		l.scheduleAttempt(1, trigger)
	case StateReconnecting:
		l.onAttemptFailure(err)
	}
}

func (l *controlLoop) onAttemptFailure(err error) {
	l.rec.lastErr = err
	if l.rec.attempt >= l.m.maxAttempts() {
		slog.Error("reconnect attempts exhausted", "session_id", l.rec.id, "attempt", l.rec.attempt, "error", err)
		l.fail(fmt.Errorf("%w: %w", ErrReconnectExhausted, err))
		return
	}
	slog.Warn("reconnect attempt failed", "session_id", l.rec.id, "attempt", l.rec.attempt, "error", err)
	l.scheduleAttempt(l.rec.attempt+1, l.rec.trigger)
}

func (l *controlLoop) handleEvent(ev transcriber.Event) {
	switch ev.Kind {
	case transcriber.EventPartial, transcriber.EventFinal:
		seg := transcript.Segment{
			Text:             ev.Segment.Text,
			IsPartial:        ev.Kind == transcriber.EventPartial,
			Speaker:          ev.Segment.Speaker,
			Start:            ev.Segment.Start + l.rec.offset,
			End:              ev.Segment.End + l.rec.offset,
			ReceivedSequence: l.rec.received,
			Epoch:            l.rec.epoch,
		}
		l.rec.received++
		if seg.End > l.rec.lastAcked {
			l.rec.lastAcked = seg.End
		}
		if l.m.sink != nil {
			l.m.sink.Add(seg)
		}
	case transcriber.EventStreamError:
		l.m.metrics.TransportError("receive")
		l.onTransportError(ev.Err)
	}
}

func (l *controlLoop) onTransportError(err error) {
	if l.rec.state != StateStreaming {
		return
	}
	if errors.Is(err, transcriber.ErrCredentialExpired) && l.refreshPending() {
		slog.Info("credential expired after refresh was signaled; reconnecting gracefully", "session_id", l.rec.id)
		l.gracefulReconnect()
		return
	}
	slog.Warn("transport error; reconnecting", "session_id", l.rec.id, "epoch", l.rec.epoch, "error", err)
	l.rec.lastErr = err
	l.dropConnection(false)
	l.scheduleAttempt(1, TriggerNetworkError)
}

func (l *controlLoop) onCredentialRefresh(expiresAt time.Time) {
	if expiresAt.After(l.rec.latestExpiry) {
		l.rec.latestExpiry = expiresAt
	}
	switch l.rec.state {
	case StateStreaming:
		if l.refreshPending() {
			l.gracefulReconnect()
		}
	case StateConnecting, StateReconnecting:
		slog.Debug("credential refresh coalesced into pending connect", "session_id", l.rec.id, "state", l.rec.state.String())
	}
}

func (l *controlLoop) refreshPending() bool {
	used := l.rec.usedExpiry
	if used.IsZero() {
		return false
	}
	if l.rec.latestExpiry.After(used) {
		return true
	}
	return l.m.credentials.Current().ExpiresAt.After(used)
}

func (l *controlLoop) gracefulReconnect() {
	l.m.metrics.ReconnectAttempt(string(TriggerCredentialRefresh))
	l.dropConnection(true)
	l.rec.trigger = TriggerCredentialRefresh
	l.setState(StateConnecting)
	l.dial()
}

func (l *controlLoop) onManualReconnect() {
	if l.rec.state != StateFailed {
		slog.Debug("manual reconnect ignored", "session_id", l.rec.id, "state", l.rec.state.String())
		return
	}
	slog.Info("manual reconnect requested", "session_id", l.rec.id)
	l.m.metrics.ReconnectAttempt(string(TriggerManual))
	l.rec.attempt = 1
	l.rec.trigger = TriggerManual
	l.setState(StateConnecting)
	l.dial()
}

func (l *controlLoop) scheduleAttempt(n int, trigger Trigger) {
	delay := l.m.reconnectDelay(n)
	l.rec.attempt = n
	l.rec.trigger = trigger
	l.m.metrics.ReconnectAttempt(string(trigger))
	l.setState(StateReconnecting)
	l.backoff = time.NewTimer(delay)
	l.backoffC = l.backoff.C
	slog.Info("reconnect scheduled",
		"session_id", l.rec.id, "attempt", n, "delay", delay.String(), "trigger", string(trigger))
}

func (l *controlLoop) fail(err error) {
	l.rec.lastErr = err
	l.rec.attempt = 0
	l.setState(StateFailed)
}

func (l *controlLoop) stop() {
	if l.backoff != nil {
		l.backoff.Stop()
		l.backoff, l.backoffC = nil, nil
	}
	if l.dialCancel != nil {
		l.dialCancel()
		l.dialCancel = nil
	}
	l.dropConnection(true)
	l.rec.attempt = 0
	l.rec.trigger = ""
	l.setState(StateStopped)
	slog.Info("transcription session stopped",
		"session_id", l.rec.id, "epochs", l.rec.epoch, "segments_received", l.rec.received)
}

// dropConnection detaches the current transport. With wait it gives the
// in-flight send up to the graceful wait to finish. The close itself runs
// in the background.
func (l *controlLoop) dropConnection(wait bool) {
	c := l.conn
	if c == nil {
		return
	}
	l.conn = nil
	l.m.outbox.CompareAndSwap(c.outbox, nil)
	close(c.stopSend)

	finished := false
	if wait {
		timer := time.NewTimer(l.m.gracefulWait)
		select {
		case <-c.senderDone:
			finished = true
		case <-timer.C:
			slog.Warn("in-flight audio send did not finish in time", "session_id", l.rec.id, "epoch", c.epoch)
		}
		timer.Stop()
	}
	go c.close(finished)
}

func (l *controlLoop) setState(s State) {
	l.rec.state = s
	l.m.publish(Status{
		SessionID: l.rec.id,
		State:     s,
		Attempt:   l.rec.attempt,
		Trigger:   l.rec.trigger,
		LastError: l.rec.lastErr,
		Offset:    l.rec.offset,
		LastAcked: l.rec.lastAcked,
		UpdatedAt: time.Now(),
	})
	slog.Debug("session state changed", "session_id", l.rec.id, "state", s.String(), "attempt", l.rec.attempt)
}
