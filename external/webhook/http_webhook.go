package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/webhook"
)

const (
	webhookTimeout      = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
)

var ErrWebhookRejected = errors.New("webhook rejected transcript")

type Option func(*HTTPSender)

func WithRetry(maxAttempts int, initialDelay time.Duration) Option {
	return func(s *HTTPSender) {
		s.maxAttempts = maxAttempts
		s.initialDelay = initialDelay
	}
}

type HTTPSender struct {
	webhookURL   string
	client       *http.Client
	maxAttempts  int
	initialDelay time.Duration
}

func NewHTTPSender(webhookURL string, opts ...Option) webhook.Sender {
	s := &HTTPSender{
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: webhookTimeout},
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	return s
}

func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode transcript payload: %w", err)
	}

	delay := s.initialDelay
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.post(ctx, payload, body)
		if lastErr == nil || errors.Is(lastErr, ErrWebhookRejected) {
			return lastErr
		}
		if attempt == s.maxAttempts {
			break
		}
		slog.Warn("webhook delivery failed; retrying", "session_id", payload.SessionID, "attempt", attempt, "retry_in", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery abandoned: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *HTTPSender) post(ctx context.Context, payload webhook.TranscriptWebhookPayload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.SessionID)
	req.Header.Set("X-Transcript-Schema-Version", payload.SchemaVersion)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode)
	}
}
