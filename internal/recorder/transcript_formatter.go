package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
	"github.com/pbarone/meetingtranscribermacos/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

type summary struct {
	sessionID      string
	startedAt      time.Time
	endedAt        time.Time
	status         string
	languageCode   string
	reconnectCount int
	lastError      string
}

func buildTranscriptText(s summary, timezone string, loc *time.Location, segments []transcript.Segment) string {
	startText := s.startedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)
	endText := s.endedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Session: %s ~ %s (%s)", startText, endText, timezone),
		"",
	}
	for _, seg := range segments {
		if seg.Speaker != "" {
			lines = append(lines, fmt.Sprintf("%s [%s] %s", formatElapsedHMS(seg.Start), seg.Speaker, seg.Text))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(seg.Start), seg.Text))
	}
	return strings.Join(lines, "\n")
}

func buildTranscriptWebhookPayload(s summary, timezone string, loc *time.Location, segments []transcript.Segment) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	durationSeconds := int64(s.endedAt.Sub(s.startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for i, seg := range segments {
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:      i,
			Speaker:    seg.Speaker,
			StartMs:    seg.Start.Milliseconds(),
			EndMs:      seg.End.Milliseconds(),
			StartAt:    s.startedAt.Add(seg.Start).In(loc).Format(time.RFC3339),
			EndAt:      s.startedAt.Add(seg.End).In(loc).Format(time.RFC3339),
			Transcript: seg.Text,
		})
	}
	return webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          s.sessionID,
		StartAt:            s.startedAt.In(loc).Format(time.RFC3339),
		EndAt:              s.endedAt.In(loc).Format(time.RFC3339),
		Timezone:           timezone,
		DurationSeconds:    durationSeconds,
		Status:             s.status,
		LanguageCode:       s.languageCode,
		ReconnectCount:     s.reconnectCount,
		LastError:          s.lastError,
		SegmentCount:       len(segments),
		TranscriptSegments: out,
		Transcript:         buildTranscriptText(s, timezone, loc, segments),
	}
}

func formatElapsedHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
