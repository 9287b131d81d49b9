package publisher

import (
	"context"

	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
)

type NoopPublisher struct{}

func (NoopPublisher) PublishStatus(context.Context, publisher.StatusMessage) error {
	return nil
}

func (NoopPublisher) PublishSegment(context.Context, publisher.SegmentMessage) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
