package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
)

const (
	defaultRingCapacity = time.Second
	defaultChunkBuffer  = 32
	deviceReadPeriod    = 20 * time.Millisecond
)

var ErrCaptureRunning = errors.New("capture already running")

type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type PipelineOption func(*Pipeline)

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTicker(fn TickerFunc) PipelineOption {
	return func(p *Pipeline) { p.newTicker = fn }
}

func WithRingCapacity(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.ringCapacity = CanonicalFormat.FramesFor(d) }
}

func WithChunkBuffer(n int) PipelineOption {
	return func(p *Pipeline) { p.chunkBuffer = n }
}

type Pipeline struct {
	registry     DeviceRegistry
	metrics      *metrics.Metrics
	newTicker    TickerFunc
	ringCapacity int
	chunkBuffer  int

	paused atomic.Bool

	// lifecycle serializes Start and Stop; mu guards the fields below.
	lifecycle sync.Mutex
	mu        sync.Mutex
	running   bool
	sources   []*captureSource
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	seq       uint64
	chunks    chan Chunk
	levels    chan Level
	done      chan struct{}
	err       error
}

type captureSource struct {
	role   ChannelRole
	handle DeviceHandle
	device Device
	conv   *converter
	ring   *ringBuffer
	window []int16
}

func NewPipeline(registry DeviceRegistry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:     registry,
		newTicker:    realTicker,
		ringCapacity: CanonicalFormat.FramesFor(defaultRingCapacity),
		chunkBuffer:  defaultChunkBuffer,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.chunks = make(chan Chunk)
	p.levels = make(chan Level)
	p.done = make(chan struct{})
	close(p.chunks)
	close(p.levels)
	close(p.done)
	registry.OnChange(p.handleDeviceEvent)
	return p
}

func (p *Pipeline) Start(ctx context.Context, input, output DeviceHandle) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		return ErrCaptureRunning
	}
	for _, h := range []DeviceHandle{input, output} {
		if !p.registry.IsAvailable(h) {
			return fmt.Errorf("%w: %s", ErrDeviceUnavailable, h.ID)
		}
	}

	sources := make([]*captureSource, 0, 2)
	closeAll := func() {
		for _, s := range sources {
			_ = s.device.Close()
		}
	}
	for _, want := range []struct {
		role   ChannelRole
		handle DeviceHandle
	}{{RoleInput, input}, {RoleSystem, output}} {
		dev, err := p.registry.Open(ctx, want.handle)
		if err != nil {
			closeAll()
			return fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, want.handle.ID, err)
		}
		if err := dev.Format().Validate(); err != nil {
			_ = dev.Close()
			closeAll()
			return fmt.Errorf("device %s: %w", want.handle.ID, err)
		}
		sources = append(sources, &captureSource{
			role:   want.role,
			handle: want.handle,
			device: dev,
			conv:   newConverter(dev.Format()),
			ring:   newRingBuffer(p.ringCapacity),
			window: make([]int16, SamplesPerChunk),
		})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.sources = sources
	p.cancel = cancel
	p.seq = 0
	p.err = nil
	p.chunks = make(chan Chunk, p.chunkBuffer)
	p.levels = make(chan Level, p.chunkBuffer)
	p.done = make(chan struct{})
	p.paused.Store(false)
	p.running = true
	chunks, levels := p.chunks, p.levels
	p.mu.Unlock()

	p.wg.Add(len(sources) + 1)
	for _, s := range sources {
		go p.readLoop(runCtx, s)
	}
	go p.cadenceLoop(runCtx, sources, chunks, levels)

	slog.Info("audio capture started",
		"input_device", input.ID, "input_format", sources[0].device.Format().String(),
		"output_device", output.ID, "output_format", sources[1].device.Format().String())
	return nil
}

func (p *Pipeline) Pause() {
	if p.paused.CompareAndSwap(false, true) {
		slog.Info("audio capture paused")
	}
}

func (p *Pipeline) Resume() {
	if !p.paused.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	for _, s := range p.sources {
		s.ring.reset()
	}
	p.mu.Unlock()
	slog.Info("audio capture resumed")
}

func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// Stop flushes buffered audio as a final short chunk and releases the
// devices. ok is false when capture was not running or nothing was left.
func (p *Pipeline) Stop() (Chunk, bool) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return Chunk{}, false
	}
	p.running = false
	cancel := p.cancel
	sources := p.sources
	chunks, levels, done := p.chunks, p.levels, p.done
	p.mu.Unlock()

	cancel()
	for _, s := range sources {
		if err := s.device.Close(); err != nil {
			slog.Warn("failed to close audio device", "error", err, "device_id", s.handle.ID)
		}
	}
	p.wg.Wait()

	final, ok := p.flush(sources)
	close(chunks)
	close(levels)
	close(done)
	slog.Info("audio capture stopped", "chunks", p.seq, "final_chunk", ok)
	return final, ok
}

func (p *Pipeline) Chunks() <-chan Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks
}

func (p *Pipeline) Levels() <-chan Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels
}

func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) readLoop(ctx context.Context, s *captureSource) {
	defer p.wg.Done()
	f := s.device.Format()
	frameBytes := f.BytesPerFrame()
	frames := f.FramesFor(deviceReadPeriod)
	if frames < 1 {
		frames = 1
	}
	buf := make([]byte, frames*frameBytes)
	for {
		n, err := s.device.Read(buf)
		if n > 0 && ctx.Err() == nil {
			if p.paused.Load() {
				p.metrics.FramesDropped(metrics.DropPaused, n/frameBytes)
			} else {
				over := s.ring.write(s.conv.convert(buf[:n]))
				p.metrics.FramesDropped(metrics.DropRingOverflow, over)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.lose(s.handle, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) cadenceLoop(ctx context.Context, sources []*captureSource, chunks chan<- Chunk, levels chan<- Level) {
	defer p.wg.Done()
	tick, stop := p.newTicker(ChunkDuration)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			if p.paused.Load() {
				continue
			}
			p.emit(now, sources, chunks, levels)
		}
	}
}

func (p *Pipeline) emit(now time.Time, sources []*captureSource, chunks chan<- Chunk, levels chan<- Level) {
	windows := make([][]int16, 0, len(sources))
	for _, s := range sources {
		n := s.ring.read(s.window)
		samples := s.window[:n]
		lvl := Level{RMS: RMS(samples), Role: s.role, At: now}
		p.metrics.AudioLevel(s.role.String(), lvl.RMS)
		select {
		case levels <- lvl:
		default:
		}
		windows = append(windows, samples)
	}
	mixed := make([]int16, SamplesPerChunk)
	MixSaturating(mixed, windows...)
	chunk := Chunk{Payload: EncodePCM16(mixed), CapturedAt: now, Sequence: p.seq}
	p.seq++
	select {
	case chunks <- chunk:
		p.metrics.ChunkEmitted()
	default:
		p.metrics.ChunkDropped(metrics.DropConsumerSlow)
		slog.Warn("audio chunk consumer is behind; chunk dropped", "sequence", chunk.Sequence)
	}
}

func (p *Pipeline) flush(sources []*captureSource) (Chunk, bool) {
	if p.paused.Load() {
		return Chunk{}, false
	}
	windows := make([][]int16, 0, len(sources))
	longest := 0
	for _, s := range sources {
		n := s.ring.read(s.window)
		windows = append(windows, s.window[:n])
		if n > longest {
			longest = n
		}
	}
	if longest == 0 {
		return Chunk{}, false
	}
	mixed := make([]int16, longest)
	MixSaturating(mixed, windows...)
	chunk := Chunk{Payload: EncodePCM16(mixed), CapturedAt: time.Now(), Sequence: p.seq}
	p.seq++
	p.metrics.ChunkEmitted()
	return chunk, true
}

func (p *Pipeline) lose(h DeviceHandle, cause error) {
	p.mu.Lock()
	if !p.running || p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = fmt.Errorf("%w: %s: %v", ErrDeviceLost, h.ID, cause)
	p.mu.Unlock()
	slog.Error("audio device lost; stopping capture", "device_id", h.ID, "error", cause)
	go p.Stop()
}

func (p *Pipeline) handleDeviceEvent(ev DeviceEvent) {
	if ev.Kind != DeviceRemoved {
		return
	}
	p.mu.Lock()
	var lost *DeviceHandle
	if p.running {
		for _, s := range p.sources {
			if s.handle.ID == ev.Handle.ID {
				h := s.handle
				lost = &h
				break
			}
		}
	}
	p.mu.Unlock()
	if lost != nil {
		p.lose(*lost, errors.New("device removed"))
	}
}
