package publisher

import (
	"context"
	"time"
)

type StatusMessage struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Trigger   string    `json:"trigger,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SegmentMessage struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Speaker   string `json:"speaker,omitempty"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	Epoch     int    `json:"epoch"`
}

type Publisher interface {
	PublishStatus(ctx context.Context, msg StatusMessage) error
	PublishSegment(ctx context.Context, msg SegmentMessage) error
	Close() error
}
