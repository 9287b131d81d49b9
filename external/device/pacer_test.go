package device

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func TestRealtimePacer_HoldsReadsToDeviceRate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	p := newRealtimePacer(audio.Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 1})
	p.now = clock.Now
	p.sleep = clock.Sleep

	// One second of canonical audio in ten reads.
	for i := 0; i < 10; i++ {
		p.pace(3200)
	}
	if len(clock.slept) != 10 {
		t.Fatalf("expected a wait after every read, got %d", len(clock.slept))
	}
	if elapsed := clock.now.Sub(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); elapsed != time.Second {
		t.Fatalf("expected reads to span 1s, got %v", elapsed)
	}
}

func TestRealtimePacer_NoWaitWhenConsumerIsBehind(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	p := newRealtimePacer(audio.Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 1})
	p.now = clock.Now
	p.sleep = clock.Sleep

	p.pace(3200)
	clock.now = clock.now.Add(time.Second)
	p.pace(3200)
	if len(clock.slept) != 1 {
		t.Fatalf("expected no wait once behind real time, got %v", clock.slept)
	}
}

func TestNewPacer_OnlyForRegularFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcm")
	writeFile(t, path, "")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	if newPacer(f, audio.CanonicalFormat) == nil {
		t.Fatal("expected a pacer for a regular file")
	}

	dir, err := os.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open dir failed: %v", err)
	}
	defer dir.Close()
	if newPacer(dir, audio.CanonicalFormat) != nil {
		t.Fatal("expected no pacer for a non-regular file")
	}

	var nilPacer *realtimePacer
	nilPacer.pace(3200)
}
