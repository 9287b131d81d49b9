package publisher

import (
	"testing"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
)

func TestNewRedisPublisher_InvalidURL(t *testing.T) {
	if _, err := NewRedisPublisher("http://not-redis", "transcriber"); err == nil {
		t.Fatal("expected error for non-redis url")
	}
}

func TestRedisPublisher_Keys(t *testing.T) {
	p, err := NewRedisPublisher("redis://localhost:6379/2", "transcriber")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer p.Close()

	if got := p.statusChannel(); got != "transcriber:status" {
		t.Fatalf("unexpected status channel: %s", got)
	}
	if got := p.segmentChannel("abc"); got != "transcriber:segments:abc" {
		t.Fatalf("unexpected segment channel: %s", got)
	}
	if got := p.sessionKey("abc"); got != "transcriber:session:abc" {
		t.Fatalf("unexpected session key: %s", got)
	}
}

func TestStatusFields(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("JST", 9*60*60))
	fields := statusFields(publisher.StatusMessage{SessionID: "abc", State: "reconnecting", Attempt: 2, Trigger: "network_error", UpdatedAt: at})
	if fields["state"] != "reconnecting" || fields["attempt"] != "2" || fields["trigger"] != "network_error" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["updated_at"] != "2026-01-01T18:04:05Z" {
		t.Fatalf("expected UTC timestamp, got %v", fields["updated_at"])
	}
}
