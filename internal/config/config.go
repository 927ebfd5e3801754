package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the lounge voice client and the API proxy
type Config struct {
	// Server configuration
	Port      string `envconfig:"PORT" default:"8080"`       // Port for the lounge UI binding
	ProxyPort string `envconfig:"PROXY_PORT" default:"8081"` // Port for the API proxy

	// Upstream generative-language API (used by the proxy)
	UpstreamBaseURL string `envconfig:"UPSTREAM_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GoogleAPIKey    string `envconfig:"GOOGLE_API_KEY" default:""`
	UpstreamTimeout int    `envconfig:"UPSTREAM_TIMEOUT" default:"30"` // seconds

	// Live session endpoint (normally the proxy)
	LiveEndpoint string `envconfig:"LIVE_ENDPOINT" default:"ws://localhost:8081/api-proxy/v1beta/models/gemini-2.5-flash-native-audio-preview-09-2025:connect"`
	FocusModel   string `envconfig:"FOCUS_MODEL" default:"gemini-2.5-flash"`
	FocusBaseURL string `envconfig:"FOCUS_BASE_URL" default:""` // Optional base URL override for the focus advisor

	// Personas
	PersonaFile    string `envconfig:"PERSONA_FILE" default:""`
	DefaultPersona string `envconfig:"DEFAULT_PERSONA" default:"hub"`

	// Persistence
	StorePath        string `envconfig:"STORE_PATH" default:"data/lounge.db"`
	StoreMaxSessions int    `envconfig:"STORE_MAX_SESSIONS" default:"200"` // Archived sessions kept; 0 keeps all

	// Deepgram STT (dictation); dictation is disabled when the key is empty
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Event bus; publishing is disabled when empty
	NATSURL          string `envconfig:"NATS_URL" default:""`
	NATSSubject      string `envconfig:"NATS_SUBJECT" default:"lounge.voice"`
	NATSEmbedded     bool   `envconfig:"NATS_EMBEDDED" default:"false"` // Run an in-process NATS server
	NATSEmbeddedPort int    `envconfig:"NATS_EMBEDDED_PORT" default:"4222"`

	// Audio devices
	AudioDevicesEnabled bool `envconfig:"AUDIO_DEVICES_ENABLED" default:"true"`
	SpeakerBufferMs     int  `envconfig:"SPEAKER_BUFFER_MS" default:"30000"` // Audio that may be scheduled ahead on the speaker

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Dictation reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`   // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"` // Pretty print logs (for development)
	LogFile        string `envconfig:"LOG_FILE" default:""`        // Rotating log file; stdout only when empty
	LogFileMaxSize int    `envconfig:"LOG_FILE_MAX_SIZE" default:"10"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT" default:""`
	OTLPInsecure   bool   `envconfig:"OTLP_INSECURE" default:"true"`
	TraceStdout    bool   `envconfig:"TRACE_STDOUT" default:"false"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// The hosting platform historically exposed the key under a mixed-case name.
	if cfg.GoogleAPIKey == "" {
		cfg.GoogleAPIKey = os.Getenv("Gemini_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field values that envconfig cannot express
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LiveEndpoint) == "" {
		return fmt.Errorf("LIVE_ENDPOINT is required")
	}
	if !strings.HasPrefix(c.LiveEndpoint, "ws://") && !strings.HasPrefix(c.LiveEndpoint, "wss://") {
		return fmt.Errorf("LIVE_ENDPOINT must be a ws:// or wss:// URL, got %q", c.LiveEndpoint)
	}
	if c.CircuitBreakerMaxFailures <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_MAX_FAILURES must be positive")
	}
	if c.SpeakerBufferMs <= 0 {
		return fmt.Errorf("SPEAKER_BUFFER_MS must be positive")
	}
	return nil
}

// DictationEnabled reports whether a speech-to-text key is configured
func (c *Config) DictationEnabled() bool {
	return c.DeepgramAPIKey != ""
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
