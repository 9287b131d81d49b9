package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusFailed  SessionStatus = "failed"
)

type Session struct {
	ID             string
	InputDeviceID  string
	OutputDeviceID string
	LanguageCode   string
	Diarization    bool
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         SessionStatus
	ReconnectCount int
	LastError      string
	SegmentCount   int
}

type TranscriptSegment struct {
	ID           string
	SessionID    string
	SegmentIndex int
	Content      string
	Speaker      string
	StartMs      int64
	EndMs        int64
	Epoch        int
	CreatedAt    time.Time
}
