package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
)

type queuedChunk struct {
	chunk audio.Chunk
	at    time.Time
}

type outbox struct {
	epoch int
	ch    chan queuedChunk
}

// connection is one open transport. Its sender goroutine is the only writer.
type connection struct {
	loop       *controlLoop
	epoch      int
	stream     transcriber.Stream
	cancel     context.CancelFunc
	outbox     *outbox
	stopSend   chan struct{}
	senderDone chan struct{}
}

func newConnection(l *controlLoop, epoch int, stream transcriber.Stream, cancel context.CancelFunc) *connection {
	return &connection{
		loop:       l,
		epoch:      epoch,
		stream:     stream,
		cancel:     cancel,
		outbox:     &outbox{epoch: epoch, ch: make(chan queuedChunk, 1)},
		stopSend:   make(chan struct{}),
		senderDone: make(chan struct{}),
	}
}

func (c *connection) runSender() {
	defer close(c.senderDone)
	m := c.loop.m
	for {
		select {
		case <-c.stopSend:
			select {
			case q := <-c.outbox.ch:
				if time.Since(q.at) <= m.sendBudget {
					c.write(q)
				}
			default:
			}
			return
		case q := <-c.outbox.ch:
			if age := time.Since(q.at); age > m.sendBudget {
				m.metrics.ChunkDropped(metrics.DropStale)
				slog.Debug("stale chunk dropped", "sequence", q.chunk.Sequence, "epoch", c.epoch, "age", age.String())
				continue
			}
			if err := c.write(q); err != nil {
				select {
				case c.loop.inbox <- senderFailed{epoch: c.epoch, err: err}:
				case <-c.stopSend:
				}
				return
			}
		}
	}
}

func (c *connection) write(q queuedChunk) error {
	if err := c.stream.Write(q.chunk.Payload); err != nil {
		return err
	}
	c.loop.m.metrics.ChunkSent()
	return nil
}

func (c *connection) close(senderFinished bool) {
	if !senderFinished {
		c.cancel()
	}
	if err := c.stream.Close(); err != nil {
		slog.Debug("transport close failed", "epoch", c.epoch, "error", err)
	}
	c.cancel()
}
