package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	format    Format
	data      chan []byte
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeDevice(f Format) *fakeDevice {
	return &fakeDevice{
		format: f,
		data:   make(chan []byte, 256),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Format() Format { return d.format }

func (d *fakeDevice) Read(buf []byte) (int, error) {
	select {
	case b := <-d.data:
		return copy(buf, b), nil
	case err := <-d.fail:
		return 0, err
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// feed splits raw into reads no larger than the pipeline's read buffer.
func (d *fakeDevice) feed(raw []byte) {
	size := d.format.FramesFor(deviceReadPeriod) * d.format.BytesPerFrame()
	for len(raw) > 0 {
		n := size
		if n > len(raw) {
			n = len(raw)
		}
		d.data <- raw[:n]
		raw = raw[n:]
	}
}

type fakeRegistry struct {
	mu          sync.Mutex
	devices     map[string]*fakeDevice
	unavailable map[string]bool
	listeners   []func(DeviceEvent)
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		devices:     make(map[string]*fakeDevice),
		unavailable: make(map[string]bool),
	}
}

func (r *fakeRegistry) add(id string, kind DeviceKind, f Format) (DeviceHandle, *fakeDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := newFakeDevice(f)
	r.devices[id] = d
	return DeviceHandle{ID: id, Name: id, Kind: kind}, d
}

func (r *fakeRegistry) EnumerateInputs() ([]DeviceHandle, error)  { return nil, nil }
func (r *fakeRegistry) EnumerateOutputs() ([]DeviceHandle, error) { return nil, nil }

func (r *fakeRegistry) IsAvailable(h DeviceHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[h.ID]
	return ok && !r.unavailable[h.ID]
}

func (r *fakeRegistry) Open(_ context.Context, h DeviceHandle) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[h.ID]
	if !ok {
		return nil, ErrDeviceUnavailable
	}
	return d, nil
}

func (r *fakeRegistry) OnChange(fn func(DeviceEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *fakeRegistry) emit(ev DeviceEvent) {
	r.mu.Lock()
	listeners := append([]func(DeviceEvent){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) fn(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("cadence loop did not accept tick")
	}
}

// sineBytes renders d of a sine tone at the given amplitude (0..1) in f.
func sineBytes(f Format, d time.Duration, hz, amplitude float64) []byte {
	frames := f.FramesFor(d)
	bps := f.BytesPerSample()
	out := make([]byte, frames*f.BytesPerFrame())
	for i := 0; i < frames; i++ {
		v := amplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(f.SampleRateHz))
		for ch := 0; ch < f.Channels; ch++ {
			putSample(out[(i*f.Channels+ch)*bps:], f.BitsPerSample, v)
		}
	}
	return out
}

func putSample(b []byte, bits int, v float64) {
	switch bits {
	case 8:
		b[0] = byte(int(math.Round(v*127)) + 128)
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(v*32767))))
	case 24:
		s := int32(math.Round(v * 8388607))
		b[0], b[1], b[2] = byte(s), byte(s>>8), byte(s>>16)
	case 32:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(v*2147483647))))
	}
}

func bufferedSamples(p *Pipeline, idx int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx >= len(p.sources) {
		return 0
	}
	return p.sources[idx].ring.len()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func receiveChunk(t *testing.T, ch <-chan Chunk) Chunk {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("chunk channel closed")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	return Chunk{}
}
