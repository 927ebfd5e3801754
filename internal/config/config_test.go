package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("GOOGLE_API_KEY")
	os.Unsetenv("Gemini_API_KEY")
	os.Unsetenv("LIVE_ENDPOINT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.ProxyPort != "8081" {
		t.Errorf("Expected default ProxyPort '8081', got '%s'", cfg.ProxyPort)
	}

	if cfg.UpstreamBaseURL != "https://generativelanguage.googleapis.com" {
		t.Errorf("Expected default UpstreamBaseURL, got '%s'", cfg.UpstreamBaseURL)
	}

	if cfg.DefaultPersona != "hub" {
		t.Errorf("Expected default DefaultPersona 'hub', got '%s'", cfg.DefaultPersona)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.GoogleAPIKey != "" {
		t.Errorf("Expected empty GoogleAPIKey, got '%s'", cfg.GoogleAPIKey)
	}

	if cfg.DictationEnabled() {
		t.Error("Expected dictation to be disabled without a Deepgram key")
	}
}

func TestLoadFromEnv_GoogleAPIKey(t *testing.T) {
	os.Setenv("GOOGLE_API_KEY", "primary-key")
	os.Setenv("Gemini_API_KEY", "fallback-key")
	defer os.Unsetenv("GOOGLE_API_KEY")
	defer os.Unsetenv("Gemini_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.GoogleAPIKey != "primary-key" {
		t.Errorf("Expected GoogleAPIKey 'primary-key', got '%s'", cfg.GoogleAPIKey)
	}
}

func TestLoadFromEnv_GeminiKeyFallback(t *testing.T) {
	os.Unsetenv("GOOGLE_API_KEY")
	os.Setenv("Gemini_API_KEY", "fallback-key")
	defer os.Unsetenv("Gemini_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.GoogleAPIKey != "fallback-key" {
		t.Errorf("Expected GoogleAPIKey 'fallback-key', got '%s'", cfg.GoogleAPIKey)
	}
}

func TestLoadFromEnv_InvalidLiveEndpoint(t *testing.T) {
	os.Setenv("LIVE_ENDPOINT", "http://localhost:8081/connect")
	defer os.Unsetenv("LIVE_ENDPOINT")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for non-websocket LIVE_ENDPOINT")
	}
}

func TestLoadFromEnv_Dictation(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if !cfg.DictationEnabled() {
		t.Error("Expected dictation to be enabled")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if cfg.LogFile != "" {
		t.Errorf("Expected empty LogFile, got '%s'", cfg.LogFile)
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
