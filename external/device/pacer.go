package device

import (
	"os"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

// realtimePacer holds reads from a regular file to the rate a live device
// would deliver them. FIFOs and character devices block on their own and
// get no pacer.
type realtimePacer struct {
	bytesPerSecond int64
	start          time.Time
	delivered      int64
	now            func() time.Time
	sleep          func(time.Duration)
}

func newPacer(f *os.File, format audio.Format) *realtimePacer {
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	return newRealtimePacer(format)
}

func newRealtimePacer(format audio.Format) *realtimePacer {
	return &realtimePacer{
		bytesPerSecond: int64(format.SampleRateHz * format.BytesPerFrame()),
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

func (p *realtimePacer) pace(n int) {
	if p == nil || n <= 0 || p.bytesPerSecond <= 0 {
		return
	}
	if p.start.IsZero() {
		p.start = p.now()
	}
	p.delivered += int64(n)
	due := p.start.Add(time.Duration(p.delivered * int64(time.Second) / p.bytesPerSecond))
	if wait := due.Sub(p.now()); wait > 0 {
		p.sleep(wait)
	}
}
