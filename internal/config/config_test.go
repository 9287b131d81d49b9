package config

import (
	"strings"
	"testing"
)

func validCloudSpeechConfig() *Config {
	return &Config{
		Env:                        "development",
		TranscriberProvider:        ProviderCloudSpeech,
		DefaultTranscribeLanguage:  "auto",
		GoogleCloudProjectID:       "project-id",
		GoogleCloudCredentialsJSON: `{"type":"service_account"}`,
		GoogleCloudSpeechLocation:  "us",
		CredentialRefreshLeadSec:   300,
		DeviceManifestPath:         "/etc/transcriber/devices.yaml",
		InputDeviceID:              "mic",
		OutputDeviceID:             "loopback",
		TranscriptTimezone:         "UTC",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validCloudSpeechConfig().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_WebsocketProviderRequiresEndpoints(t *testing.T) {
	cfg := validCloudSpeechConfig()
	cfg.TranscriberProvider = ProviderWebsocket
	cfg.StreamingTokenTTLSec = 600
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "STREAMING_WS_URL") {
		t.Fatalf("expected STREAMING_WS_URL error, got %v", err)
	}

	cfg.StreamingWSURL = "wss://streaming.example.com/v3/ws"
	cfg.StreamingTokenURL = "https://streaming.example.com/v3/token"
	cfg.StreamingAPIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validCloudSpeechConfig()
	cfg.TranscriberProvider = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_SameDeviceTwice(t *testing.T) {
	cfg := validCloudSpeechConfig()
	cfg.OutputDeviceID = cfg.InputDeviceID
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when input and output are the same device")
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := validCloudSpeechConfig()
	cfg.TranscriptTimezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDevelopment() {
		t.Fatal("expected non-development mode")
	}
}
