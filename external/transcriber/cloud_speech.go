package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/auth"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	maxDiarizedSpeakers   = 6
	eventBuffer           = 64
)

type CloudSpeechConfig struct {
	ProjectID string
	Location  string
	Model     string
}

type CloudSpeechTranscriber struct {
	projectID string
	location  string
	model     string
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) transcriber.Transcriber {
	return &CloudSpeechTranscriber{
		projectID: cfg.ProjectID,
		location:  strings.TrimSpace(cfg.Location),
		model:     strings.TrimSpace(cfg.Model),
	}
}

type staticToken struct {
	token string
}

func (s staticToken) Token(context.Context) (*auth.Token, error) {
	return &auth.Token{Value: s.token, Type: "Bearer"}, nil
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig) (transcriber.Stream, error) {
	slog.Info("starting cloud speech streaming", "location", t.location, "language", cfg.LanguageCode, "model", t.model, "diarization", cfg.Diarization)

	creds := auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: staticToken{token: cfg.Credentials.Token},
	})
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, classifyStreamError(err)
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
	streamingConfig := recognitionConfig(t.model, cfg)
	open := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		s, err := client.StreamingRecognize(ctx)
		if err != nil {
			return nil, classifyStreamError(err)
		}
		if err := s.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer:       recognizer,
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{StreamingConfig: streamingConfig},
		}); err != nil {
			_ = s.CloseSend()
			return nil, classifyStreamError(err)
		}
		return s, nil
	}

	stream, err := open()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "recognizer", recognizer)

	w := &streamWriter{
		stream:    stream,
		openFn:    open,
		closeFn:   client.Close,
		events:    make(chan transcriber.Event, eventBuffer),
		quit:      make(chan struct{}),
		startedAt: time.Now(),
	}
	w.startReceiver(stream, 0, 0)
	return w, nil
}

func recognitionConfig(model string, cfg transcriber.StreamConfig) *speechpb.StreamingRecognitionConfig {
	language := cfg.LanguageCode
	if cfg.AutoDetect() {
		language = transcriber.AutoDetectLanguage
	}
	features := &speechpb.RecognitionFeatures{
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
	}
	if cfg.Diarization {
		features.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			MinSpeakerCount: 1,
			MaxSpeakerCount: maxDiarizedSpeakers,
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Model:         model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(cfg.SampleRateHz),
					AudioChannelCount: 1,
				},
			},
			Features: features,
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
	}
}

// streamWriter is one logical transcription stream. The service caps a
// single gRPC stream's duration, so the writer transparently reopens it and
// shifts result offsets to stay relative to the first open.
type streamWriter struct {
	mu        sync.Mutex
	closed    bool
	stream    speechpb.Speech_StreamingRecognizeClient
	openFn    func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn   func() error
	startedAt time.Time
	gen       atomic.Int64

	evMu         sync.Mutex
	events       chan transcriber.Event
	eventsClosed bool
	quit         chan struct{}
	quitOnce     sync.Once
}

func (w *streamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return transcriber.ErrStreamClosed
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	if err := w.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return classifyStreamError(err)
		}
		slog.Warn("transcriber send failed with reconnectable error; reopening stream", "error", err)
		if err := w.reconnectLocked(); err != nil {
			return fmt.Errorf("reopen stream: %w", err)
		}
		return classifyStreamError(w.stream.Send(req))
	}
	return nil
}

func (w *streamWriter) Events() <-chan transcriber.Event {
	return w.events
}

func (w *streamWriter) Close() error {
	w.quitOnce.Do(func() { close(w.quit) })
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	sendErr := w.stream.CloseSend()
	w.mu.Unlock()

	w.finish(w.gen.Load(), nil)
	if err := w.closeFn(); err != nil {
		return err
	}
	return sendErr
}

func (w *streamWriter) reconnectLocked() error {
	_ = w.stream.CloseSend()
	next, err := w.openFn()
	if err != nil {
		slog.Error("failed to reopen transcriber stream", "error", err)
		return err
	}
	w.stream = next
	gen := w.gen.Add(1)
	w.startReceiver(next, gen, time.Since(w.startedAt))
	slog.Info("transcriber stream reopened", "generation", gen)
	return nil
}

func (w *streamWriter) startReceiver(stream speechpb.Speech_StreamingRecognizeClient, gen int64, base time.Duration) {
	go func() {
		var lastFinalEnd time.Duration
		for {
			resp, err := stream.Recv()
			if err != nil {
				switch {
				case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled, errors.Is(err, context.Canceled):
					slog.Info("transcriber receive loop stopped", "reason", err.Error())
					w.mu.Lock()
					closed := w.closed
					w.mu.Unlock()
					if closed {
						w.finish(gen, nil)
					}
				case isReconnectableStreamError(err):
					slog.Warn("transcriber receive loop ended with reconnectable abort", "error", err)
				default:
					w.finish(gen, classifyStreamError(err))
				}
				return
			}
			for _, result := range resp.GetResults() {
				seg, ok := resultToSegment(result, lastFinalEnd)
				if !ok {
					continue
				}
				kind := transcriber.EventPartial
				if result.GetIsFinal() {
					kind = transcriber.EventFinal
					lastFinalEnd = seg.End
				}
				seg.Start += base
				seg.End += base
				if !w.emit(gen, transcriber.Event{Kind: kind, Segment: seg}) {
					return
				}
			}
		}
	}()
}

func (w *streamWriter) emit(gen int64, ev transcriber.Event) bool {
	w.evMu.Lock()
	defer w.evMu.Unlock()
	if w.eventsClosed || gen != w.gen.Load() {
		return false
	}
	select {
	case w.events <- ev:
		return true
	case <-w.quit:
		return false
	}
}

func (w *streamWriter) finish(gen int64, err error) {
	w.evMu.Lock()
	defer w.evMu.Unlock()
	if w.eventsClosed || gen != w.gen.Load() {
		return
	}
	if err != nil {
		select {
		case w.events <- transcriber.Event{Kind: transcriber.EventStreamError, Err: err}:
		case <-w.quit:
		}
	}
	w.eventsClosed = true
	close(w.events)
}

// resultToSegment converts one recognition result. Partials carry no word
// offsets, so their start falls back to the end of the previous final.
func resultToSegment(result *speechpb.StreamingRecognitionResult, prevEnd time.Duration) (transcriber.Segment, bool) {
	alts := result.GetAlternatives()
	if len(alts) == 0 {
		return transcriber.Segment{}, false
	}
	alt := alts[0]
	text := strings.TrimSpace(alt.GetTranscript())
	if text == "" {
		return transcriber.Segment{}, false
	}
	seg := transcriber.Segment{Text: text, Start: prevEnd}
	words := alt.GetWords()
	if len(words) > 0 {
		if off := words[0].GetStartOffset(); off != nil {
			seg.Start = off.AsDuration()
		}
		seg.Speaker = dominantSpeaker(words)
	}
	if off := result.GetResultEndOffset(); off != nil {
		seg.End = off.AsDuration()
	} else if len(words) > 0 && words[len(words)-1].GetEndOffset() != nil {
		seg.End = words[len(words)-1].GetEndOffset().AsDuration()
	}
	if seg.End < seg.Start {
		seg.End = seg.Start
	}
	return seg, true
}

func dominantSpeaker(words []*speechpb.WordInfo) string {
	counts := make(map[string]int)
	best := ""
	for _, w := range words {
		label := w.GetSpeakerLabel()
		if label == "" {
			continue
		}
		counts[label]++
		if counts[label] > counts[best] || best == "" {
			best = label
		}
	}
	return best
}

func classifyStreamError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Unauthenticated {
		return fmt.Errorf("%w: %v", transcriber.ErrCredentialExpired, err)
	}
	return err
}

func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
