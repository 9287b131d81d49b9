package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/pbarone/meetingtranscribermacos/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	TranscriberProvider        string `env:"TRANSCRIBER_PROVIDER" envDefault:"cloudspeech"`
	DefaultTranscribeLanguage  string `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"auto"`
	DiarizationEnabled         bool   `env:"DIARIZATION_ENABLED" envDefault:"false"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"us"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	StreamingWSURL             string `env:"STREAMING_WS_URL"`
	StreamingTokenURL          string `env:"STREAMING_TOKEN_URL"`
	StreamingAPIKey            string `env:"STREAMING_API_KEY"`
	StreamingTokenTTLSec       int    `env:"STREAMING_TOKEN_TTL_SEC" envDefault:"600"`
	CredentialRefreshLeadSec   int    `env:"CREDENTIAL_REFRESH_LEAD_SEC" envDefault:"300"`
	DeviceManifestPath         string `env:"DEVICE_MANIFEST_PATH,required"`
	InputDeviceID              string `env:"INPUT_DEVICE_ID,required"`
	OutputDeviceID             string `env:"OUTPUT_DEVICE_ID,required"`
	DatabaseURL                string `env:"DATABASE_URL"`
	RedisURL                   string `env:"REDIS_URL"`
	RedisChannelPrefix         string `env:"REDIS_CHANNEL_PREFIX" envDefault:"transcriber"`
	TranscriptWebhookURL       string `env:"TRANSCRIPT_WEBHOOK_URL"`
	TranscriptTimezone         string `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
	MetricsAddr                string `env:"METRICS_ADDR" envDefault:":9090"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		TranscriberProvider:        raw.TranscriberProvider,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		DiarizationEnabled:         raw.DiarizationEnabled,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		StreamingWSURL:             raw.StreamingWSURL,
		StreamingTokenURL:          raw.StreamingTokenURL,
		StreamingAPIKey:            raw.StreamingAPIKey,
		StreamingTokenTTLSec:       raw.StreamingTokenTTLSec,
		CredentialRefreshLeadSec:   raw.CredentialRefreshLeadSec,
		DeviceManifestPath:         raw.DeviceManifestPath,
		InputDeviceID:              raw.InputDeviceID,
		OutputDeviceID:             raw.OutputDeviceID,
		DatabaseURL:                raw.DatabaseURL,
		RedisURL:                   raw.RedisURL,
		RedisChannelPrefix:         raw.RedisChannelPrefix,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
		MetricsAddr:                raw.MetricsAddr,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
