package session

import (
	"errors"
	"time"
)

var (
	ErrSessionStart       = errors.New("session start failed")
	ErrSessionActive      = errors.New("session already active")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) Active() bool {
	return s == StateConnecting || s == StateStreaming || s == StateReconnecting
}

type Trigger string

const (
	TriggerNetworkError      Trigger = "network_error"
	TriggerCredentialRefresh Trigger = "credential_refresh"
	TriggerManual            Trigger = "manual"
)

type Status struct {
	SessionID string
	State     State
	// Attempt is the reconnection attempt (1..3) while Reconnecting.
	Attempt   int
	Trigger   Trigger
	LastError error
	Offset    time.Duration
	LastAcked time.Duration
	UpdatedAt time.Time
}
