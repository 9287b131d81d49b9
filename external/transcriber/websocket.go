package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsTerminateWait  = time.Second
	wsHandshakeLimit = 10 * time.Second

	closeCodeUnauthorized = 4001
)

const (
	msgBegin       = "Begin"
	msgTurn        = "Turn"
	msgTermination = "Termination"
	msgError       = "Error"
	msgTerminate   = "Terminate"
)

type wsWord struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start"`
	EndMs   int64  `json:"end"`
	IsFinal bool   `json:"word_is_final"`
	Speaker string `json:"speaker,omitempty"`
}

type wsMessage struct {
	Type               string   `json:"type"`
	ID                 string   `json:"id,omitempty"`
	ExpiresAt          int64    `json:"expires_at,omitempty"`
	TurnOrder          int      `json:"turn_order,omitempty"`
	EndOfTurn          bool     `json:"end_of_turn,omitempty"`
	TurnIsFormatted    bool     `json:"turn_is_formatted,omitempty"`
	Transcript         string   `json:"transcript,omitempty"`
	SpeakerLabel       string   `json:"speaker_label,omitempty"`
	Words              []wsWord `json:"words,omitempty"`
	AudioDurationSec   float64  `json:"audio_duration_seconds,omitempty"`
	SessionDurationSec float64  `json:"session_duration_seconds,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type WebsocketConfig struct {
	URL string
}

type WebsocketTranscriber struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketTranscriber(cfg WebsocketConfig) transcriber.Transcriber {
	return &WebsocketTranscriber{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeLimit,
		},
	}
}

func (t *WebsocketTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig) (transcriber.Stream, error) {
	endpoint, err := streamingURL(t.url, cfg)
	if err != nil {
		return nil, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake rejected with status %d", transcriber.ErrCredentialExpired, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to streaming endpoint: %w", err)
	}
	slog.Info("websocket transcriber connected", "sample_rate", cfg.SampleRateHz, "language", cfg.LanguageCode, "diarization", cfg.Diarization)

	s := &wsStream{
		conn:     conn,
		events:   make(chan transcriber.Event, eventBuffer),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.stopWatch = context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	go s.readLoop()
	return s, nil
}

func streamingURL(base string, cfg transcriber.StreamConfig) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid streaming url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRateHz))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	q.Set("token", cfg.Credentials.Token)
	if cfg.AutoDetect() {
		q.Set("language_detection", "true")
	} else {
		q.Set("language", cfg.LanguageCode)
	}
	if cfg.Diarization {
		q.Set("speaker_labels", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsStream struct {
	conn      *websocket.Conn
	stopWatch func() bool

	writeMu sync.Mutex
	closed  bool

	events    chan transcriber.Event
	quit      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

func (s *wsStream) Write(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return transcriber.ErrStreamClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

func (s *wsStream) Events() <-chan transcriber.Event {
	return s.events
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)

		s.writeMu.Lock()
		s.closed = true
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if msg, mErr := json.Marshal(wsMessage{Type: msgTerminate}); mErr == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, msg)
		}
		s.writeMu.Unlock()

		select {
		case <-s.readDone:
		case <-time.After(wsTerminateWait):
		}
		s.stopWatch()
		err = s.conn.Close()
		<-s.readDone
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.readDone)
	defer close(s.events)

	var lastFinalEnd time.Duration
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosing() {
				return
			}
			s.send(transcriber.Event{Kind: transcriber.EventStreamError, Err: classifyCloseError(err)})
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("failed to parse streaming message", "error", err)
			continue
		}

		switch msg.Type {
		case msgBegin:
			slog.Info("streaming session started", "stream_id", msg.ID, "expires_at", msg.ExpiresAt)
		case msgTurn:
			ev, ok := turnToEvent(msg, lastFinalEnd)
			if !ok {
				continue
			}
			if ev.Kind == transcriber.EventFinal {
				lastFinalEnd = ev.Segment.End
			}
			if !s.send(ev) {
				return
			}
		case msgTermination:
			slog.Info("streaming session terminated", "audio_duration_sec", msg.AudioDurationSec, "session_duration_sec", msg.SessionDurationSec)
		case msgError:
			if s.isClosing() {
				return
			}
			s.send(transcriber.Event{Kind: transcriber.EventStreamError, Err: fmt.Errorf("streaming service error: %s", msg.Error)})
			return
		}
	}
}

func (s *wsStream) send(ev transcriber.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *wsStream) isClosing() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// turnToEvent maps a Turn message. An unformatted end-of-turn is skipped
// because the formatted one that follows replaces it.
func turnToEvent(msg wsMessage, prevEnd time.Duration) (transcriber.Event, bool) {
	if msg.Transcript == "" {
		return transcriber.Event{}, false
	}
	kind := transcriber.EventPartial
	if msg.EndOfTurn {
		if !msg.TurnIsFormatted {
			return transcriber.Event{}, false
		}
		kind = transcriber.EventFinal
	}
	seg := transcriber.Segment{Text: msg.Transcript, Speaker: msg.SpeakerLabel, Start: prevEnd, End: prevEnd}
	if len(msg.Words) > 0 {
		seg.Start = time.Duration(msg.Words[0].StartMs) * time.Millisecond
		seg.End = time.Duration(msg.Words[len(msg.Words)-1].EndMs) * time.Millisecond
		if seg.Speaker == "" {
			seg.Speaker = msg.Words[0].Speaker
		}
	}
	if seg.End < seg.Start {
		seg.End = seg.Start
	}
	return transcriber.Event{Kind: kind, Segment: seg}, true
}

func classifyCloseError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == closeCodeUnauthorized || ce.Code == websocket.ClosePolicyViolation) {
		return fmt.Errorf("%w: %v", transcriber.ErrCredentialExpired, err)
	}
	return fmt.Errorf("streaming connection lost: %w", err)
}
