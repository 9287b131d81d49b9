package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
	redis "github.com/redis/go-redis/v9"
)

const statusSnapshotTTL = 24 * time.Hour

type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(redisURL, prefix string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (p *RedisPublisher) statusChannel() string {
	return p.prefix + ":status"
}

func (p *RedisPublisher) segmentChannel(sessionID string) string {
	return p.prefix + ":segments:" + sessionID
}

func (p *RedisPublisher) sessionKey(sessionID string) string {
	return p.prefix + ":session:" + sessionID
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, msg publisher.StatusMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := p.sessionKey(msg.SessionID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, statusFields(msg))
	pipe.Expire(ctx, key, statusSnapshotTTL)
	pipe.Publish(ctx, p.statusChannel(), b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish status %s: %w", msg.SessionID, err)
	}
	return nil
}

func (p *RedisPublisher) PublishSegment(ctx context.Context, msg publisher.SegmentMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.segmentChannel(msg.SessionID), b).Err(); err != nil {
		return fmt.Errorf("redis publish segment %s/%d: %w", msg.SessionID, msg.Index, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func statusFields(msg publisher.StatusMessage) map[string]any {
	return map[string]any{
		"state":      msg.State,
		"attempt":    strconv.Itoa(msg.Attempt),
		"trigger":    msg.Trigger,
		"last_error": msg.LastError,
		"updated_at": msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
