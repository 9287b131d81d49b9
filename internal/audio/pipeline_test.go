package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

type pipelineFixture struct {
	registry *fakeRegistry
	ticker   *manualTicker
	pipeline *Pipeline
	input    DeviceHandle
	output   DeviceHandle
	mic      *fakeDevice
	loopback *fakeDevice
}

func newPipelineFixture(t *testing.T, inFormat, outFormat Format) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{registry: newFakeRegistry(), ticker: newManualTicker()}
	f.input, f.mic = f.registry.add("mic", DeviceKindInput, inFormat)
	f.output, f.loopback = f.registry.add("speakers", DeviceKindOutput, outFormat)
	f.pipeline = NewPipeline(f.registry, WithTicker(f.ticker.fn))
	t.Cleanup(func() { f.pipeline.Stop() })
	return f
}

func (f *pipelineFixture) start(t *testing.T) {
	t.Helper()
	if err := f.pipeline.Start(context.Background(), f.input, f.output); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}

func TestPipeline_EmitsCanonicalChunksForAnyFormat(t *testing.T) {
	formats := []Format{
		{SampleRateHz: 8000, BitsPerSample: 8, Channels: 1},
		{SampleRateHz: 16000, BitsPerSample: 16, Channels: 1},
		{SampleRateHz: 22050, BitsPerSample: 8, Channels: 2},
		{SampleRateHz: 44100, BitsPerSample: 16, Channels: 2},
		{SampleRateHz: 48000, BitsPerSample: 24, Channels: 2},
		{SampleRateHz: 48000, BitsPerSample: 32, Channels: 1},
		{SampleRateHz: 96000, BitsPerSample: 24, Channels: 4},
	}
	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			f := newPipelineFixture(t, format, CanonicalFormat)
			f.start(t)

			f.mic.feed(sineBytes(format, ChunkDuration, 440, 0.5))
			waitUntil(t, time.Second, func() bool {
				return bufferedSamples(f.pipeline, 0) >= SamplesPerChunk-10
			}, "converted input never reached the ring buffer")

			f.ticker.tick(t)
			chunk := receiveChunk(t, f.pipeline.Chunks())
			if len(chunk.Payload) != SamplesPerChunk*CanonicalFormat.BytesPerFrame() {
				t.Fatalf("expected %d payload bytes, got %d", SamplesPerChunk*2, len(chunk.Payload))
			}
			if chunk.Duration() != ChunkDuration {
				t.Fatalf("expected %v chunk, got %v", ChunkDuration, chunk.Duration())
			}
			if level := RMS(DecodePCM16(chunk.Payload)); level < 0.2 {
				t.Fatalf("expected audible tone after conversion, got level %f", level)
			}
		})
	}
}

func TestPipeline_MixesBothSourcesAndPublishesLevels(t *testing.T) {
	system := Format{SampleRateHz: 48000, BitsPerSample: 16, Channels: 2}
	f := newPipelineFixture(t, CanonicalFormat, system)
	f.start(t)

	f.mic.feed(sineBytes(CanonicalFormat, ChunkDuration, 300, 0.9))
	f.loopback.feed(sineBytes(system, ChunkDuration, 300, 0.9))
	waitUntil(t, time.Second, func() bool {
		return bufferedSamples(f.pipeline, 0) >= SamplesPerChunk && bufferedSamples(f.pipeline, 1) >= SamplesPerChunk-10
	}, "sources never buffered a full window")

	f.ticker.tick(t)
	chunk := receiveChunk(t, f.pipeline.Chunks())
	peak := int16(0)
	for _, s := range DecodePCM16(chunk.Payload) {
		if s > peak {
			peak = s
		}
	}
	if peak != 32767 {
		t.Fatalf("expected two loud in-phase sources to saturate, peak %d", peak)
	}

	roles := map[ChannelRole]bool{}
	for i := 0; i < 2; i++ {
		select {
		case lvl := <-f.pipeline.Levels():
			roles[lvl.Role] = true
			if lvl.RMS <= 0 || lvl.RMS > 1 {
				t.Fatalf("level out of range for %s: %f", lvl.Role, lvl.RMS)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for level")
		}
	}
	if !roles[RoleInput] || !roles[RoleSystem] {
		t.Fatalf("expected levels for both sources, got %v", roles)
	}
}

func TestPipeline_SequenceIsContiguousAndRestarts(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)
	for want := uint64(0); want < 3; want++ {
		f.ticker.tick(t)
		if got := receiveChunk(t, f.pipeline.Chunks()).Sequence; got != want {
			t.Fatalf("expected sequence %d, got %d", want, got)
		}
	}
	f.pipeline.Stop()

	f.input, f.mic = f.registry.add("mic", DeviceKindInput, CanonicalFormat)
	f.output, f.loopback = f.registry.add("speakers", DeviceKindOutput, CanonicalFormat)
	f.start(t)
	f.ticker.tick(t)
	if got := receiveChunk(t, f.pipeline.Chunks()).Sequence; got != 0 {
		t.Fatalf("expected sequence to restart at 0, got %d", got)
	}
}

func TestPipeline_PauseDiscardsAudioWithoutGap(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)

	f.pipeline.Pause()
	f.mic.feed(sineBytes(CanonicalFormat, ChunkDuration, 440, 0.5))
	waitUntil(t, time.Second, func() bool { return len(f.mic.data) == 0 }, "device reads stalled")
	time.Sleep(30 * time.Millisecond)
	if n := bufferedSamples(f.pipeline, 0); n != 0 {
		t.Fatalf("expected paused audio to be discarded, %d samples buffered", n)
	}

	f.ticker.tick(t)
	select {
	case c := <-f.pipeline.Chunks():
		t.Fatalf("expected no chunk while paused, got sequence %d", c.Sequence)
	case <-time.After(50 * time.Millisecond):
	}

	f.pipeline.Resume()
	f.ticker.tick(t)
	if got := receiveChunk(t, f.pipeline.Chunks()).Sequence; got != 0 {
		t.Fatalf("expected first chunk after resume to keep sequence 0, got %d", got)
	}
}

func TestPipeline_StopFlushesShortFinalChunk(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)

	f.mic.feed(sineBytes(CanonicalFormat, ChunkDuration/2, 440, 0.5))
	half := SamplesPerChunk / 2
	waitUntil(t, time.Second, func() bool {
		return bufferedSamples(f.pipeline, 0) == half
	}, "half window never buffered")

	final, ok := f.pipeline.Stop()
	if !ok {
		t.Fatal("expected a final chunk")
	}
	if len(final.Payload) != half*2 {
		t.Fatalf("expected %d bytes, got %d", half*2, len(final.Payload))
	}
	if _, open := <-f.pipeline.Chunks(); open {
		t.Fatal("expected chunk channel to be closed after stop")
	}
	if _, ok := f.pipeline.Stop(); ok {
		t.Fatal("expected second stop to be a no-op")
	}
}

func TestPipeline_StartRejectsUnavailableDevice(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.registry.unavailable["speakers"] = true
	err := f.pipeline.Start(context.Background(), f.input, f.output)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestPipeline_StartRejectsInvalidFormat(t *testing.T) {
	f := newPipelineFixture(t, Format{SampleRateHz: 16000, BitsPerSample: 12, Channels: 1}, CanonicalFormat)
	err := f.pipeline.Start(context.Background(), f.input, f.output)
	if !errors.Is(err, ErrFormatInvalid) {
		t.Fatalf("expected ErrFormatInvalid, got %v", err)
	}
}

func TestPipeline_StartTwiceFails(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)
	if err := f.pipeline.Start(context.Background(), f.input, f.output); !errors.Is(err, ErrCaptureRunning) {
		t.Fatalf("expected ErrCaptureRunning, got %v", err)
	}
}

func TestPipeline_ReadErrorStopsWithDeviceLost(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)
	done := f.pipeline.Done()

	f.loopback.fail <- errors.New("stream interrupted")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture did not stop after device error")
	}
	if err := f.pipeline.Err(); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost, got %v", err)
	}
}

func TestPipeline_RemovalEventStopsWithDeviceLost(t *testing.T) {
	f := newPipelineFixture(t, CanonicalFormat, CanonicalFormat)
	f.start(t)
	done := f.pipeline.Done()

	f.registry.emit(DeviceEvent{Kind: DeviceRemoved, Handle: f.input})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture did not stop after device removal")
	}
	if err := f.pipeline.Err(); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost, got %v", err)
	}
}
