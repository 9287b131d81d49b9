//go:build opus

package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hraban/opus"
	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

const maxFrameMs = 120

// opusDevice decodes a stream of Opus packets, each prefixed with its
// length as a little-endian uint16.
type opusDevice struct {
	f       *os.File
	r       *bufio.Reader
	dec     *opus.Decoder
	format  audio.Format
	packet  []byte
	pcm     []int16
	pending []byte
	pacer   *realtimePacer
}

func openOpusDevice(e Entry) (audio.Device, error) {
	dec, err := opus.NewDecoder(e.SampleRate, e.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder for %s: %w", e.ID, err)
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Path, err)
	}
	return &opusDevice{
		f:      f,
		r:      bufio.NewReader(f),
		dec:    dec,
		format: e.Format(),
		packet: make([]byte, 0, 4000),
		pcm:    make([]int16, e.SampleRate*maxFrameMs/1000*e.Channels),
		pacer:  newPacer(f, e.Format()),
	}, nil
}

func (d *opusDevice) Format() audio.Format {
	return d.format
}

func (d *opusDevice) Read(buf []byte) (int, error) {
	for len(d.pending) == 0 {
		if err := d.decodeNext(); err != nil {
			return 0, err
		}
	}
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	d.pacer.pace(n)
	return n, nil
}

func (d *opusDevice) decodeNext() error {
	var size uint16
	if err := binary.Read(d.r, binary.LittleEndian, &size); err != nil {
		return err
	}
	if cap(d.packet) < int(size) {
		d.packet = make([]byte, size)
	}
	d.packet = d.packet[:size]
	if _, err := io.ReadFull(d.r, d.packet); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	n, err := d.dec.Decode(d.packet, d.pcm)
	if err != nil {
		return fmt.Errorf("decode opus packet: %w", err)
	}
	samples := d.pcm[:n*d.format.Channels]
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	d.pending = out
	return nil
}

func (d *opusDevice) Close() error {
	return d.f.Close()
}
