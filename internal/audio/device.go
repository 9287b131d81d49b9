package audio

import (
	"context"
	"errors"
)

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrDeviceLost        = errors.New("audio device lost")
)

type DeviceKind string

const (
	DeviceKindInput  DeviceKind = "input"
	DeviceKindOutput DeviceKind = "output"
)

type DeviceHandle struct {
	ID   string
	Name string
	Kind DeviceKind
}

type DeviceEventKind int

const (
	DeviceAdded DeviceEventKind = iota
	DeviceRemoved
)

type DeviceEvent struct {
	Kind   DeviceEventKind
	Handle DeviceHandle
}

// Device delivers raw interleaved little-endian PCM in its native format.
// A read error while capture is running means the device went away.
type Device interface {
	Format() Format
	Read(buf []byte) (int, error)
	Close() error
}

type DeviceRegistry interface {
	EnumerateInputs() ([]DeviceHandle, error)
	EnumerateOutputs() ([]DeviceHandle, error)
	IsAvailable(h DeviceHandle) bool
	Open(ctx context.Context, h DeviceHandle) (Device, error)
	OnChange(fn func(DeviceEvent))
}
