package webhook

import "context"

const TranscriptWebhookSchemaVersion = "1"

type TranscriptWebhookSegment struct {
	Index      int    `json:"index"`
	Speaker    string `json:"speaker,omitempty"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Transcript string `json:"transcript"`
}

type TranscriptWebhookPayload struct {
	SchemaVersion      string                     `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	Timezone           string                     `json:"timezone"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	Status             string                     `json:"status"`
	LanguageCode       string                     `json:"language_code"`
	ReconnectCount     int                        `json:"reconnect_count"`
	LastError          string                     `json:"last_error,omitempty"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Transcript         string                     `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
