package device

import (
	"fmt"
	"os"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

// pcmDevice reads raw interleaved PCM from a file or FIFO, for example one
// fed by `parec --raw`. End of file means the producer went away.
type pcmDevice struct {
	f      *os.File
	format audio.Format
	pacer  *realtimePacer
}

func openPCMDevice(e Entry) (audio.Device, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Path, err)
	}
	return &pcmDevice{f: f, format: e.Format(), pacer: newPacer(f, e.Format())}, nil
}

func (d *pcmDevice) Format() audio.Format {
	return d.format
}

func (d *pcmDevice) Read(buf []byte) (int, error) {
	n, err := d.f.Read(buf)
	d.pacer.pace(n)
	return n, err
}

func (d *pcmDevice) Close() error {
	return d.f.Close()
}
