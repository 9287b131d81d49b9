package config

import (
	"fmt"
	"time"
)

const (
	ProviderCloudSpeech = "cloudspeech"
	ProviderWebsocket   = "websocket"
)

type Config struct {
	Env                        string
	TranscriberProvider        string
	DefaultTranscribeLanguage  string
	DiarizationEnabled         bool
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	StreamingWSURL             string
	StreamingTokenURL          string
	StreamingAPIKey            string
	StreamingTokenTTLSec       int
	CredentialRefreshLeadSec   int
	DeviceManifestPath         string
	InputDeviceID              string
	OutputDeviceID             string
	DatabaseURL                string
	RedisURL                   string
	RedisChannelPrefix         string
	TranscriptWebhookURL       string
	TranscriptTimezone         string
	MetricsAddr                string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.TranscriberProvider {
	case ProviderCloudSpeech, ProviderWebsocket:
	default:
		return fmt.Errorf("TRANSCRIBER_PROVIDER must be %q or %q, got %q", ProviderCloudSpeech, ProviderWebsocket, c.TranscriberProvider)
	}
	if c.TranscriberProvider == ProviderWebsocket && c.StreamingTokenTTLSec <= 0 {
		return fmt.Errorf("STREAMING_TOKEN_TTL_SEC must be positive, got %d", c.StreamingTokenTTLSec)
	}
	if c.CredentialRefreshLeadSec < 0 {
		return fmt.Errorf("CREDENTIAL_REFRESH_LEAD_SEC must not be negative, got %d", c.CredentialRefreshLeadSec)
	}
	if c.InputDeviceID == c.OutputDeviceID {
		return fmt.Errorf("INPUT_DEVICE_ID and OUTPUT_DEVICE_ID must differ, both are %q", c.InputDeviceID)
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	fields := []requiredEnvField{
		{name: "TRANSCRIBER_PROVIDER", value: c.TranscriberProvider},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "DEVICE_MANIFEST_PATH", value: c.DeviceManifestPath},
		{name: "INPUT_DEVICE_ID", value: c.InputDeviceID},
		{name: "OUTPUT_DEVICE_ID", value: c.OutputDeviceID},
		{name: "TRANSCRIPT_TIMEZONE", value: c.TranscriptTimezone},
	}
	switch c.TranscriberProvider {
	case ProviderCloudSpeech:
		fields = append(fields,
			requiredEnvField{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
			requiredEnvField{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
			requiredEnvField{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
		)
	case ProviderWebsocket:
		fields = append(fields,
			requiredEnvField{name: "STREAMING_WS_URL", value: c.StreamingWSURL},
			requiredEnvField{name: "STREAMING_TOKEN_URL", value: c.StreamingTokenURL},
			requiredEnvField{name: "STREAMING_API_KEY", value: c.StreamingAPIKey},
		)
	}
	return fields
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) CredentialRefreshLead() time.Duration {
	return time.Duration(c.CredentialRefreshLeadSec) * time.Second
}

func (c *Config) StreamingTokenTTL() time.Duration {
	return time.Duration(c.StreamingTokenTTLSec) * time.Second
}
