package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Voice backends understood by the gateway.
const (
	BackendWebSocket = "websocket" // hosted voice assistant reached over a realtime websocket
	BackendDeepgram  = "deepgram"  // listen-only sessions transcribed directly by Deepgram
)

// Config holds all configuration for the companion gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL of this service, used only for logging the session endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Voice backend selection: websocket or deepgram
	VoiceBackend string `envconfig:"VOICE_BACKEND" default:"websocket"`

	// Hosted voice assistant (realtime call backend)
	VoiceAPIURL       string `envconfig:"VOICE_API_URL" default:""`
	VoiceAPIKey       string `envconfig:"VOICE_API_KEY" default:""`
	VoiceStartTimeout int    `envconfig:"VOICE_START_TIMEOUT" default:"15"` // seconds, bounds the dial + start handshake only

	// Assistant configuration sent with every start request
	TranscriberProvider string `envconfig:"TRANSCRIBER_PROVIDER" default:"deepgram"`
	TranscriberModel    string `envconfig:"TRANSCRIBER_MODEL" default:"nova-3"`
	TranscriberLanguage string `envconfig:"TRANSCRIBER_LANGUAGE" default:"en"`
	VoiceProvider       string `envconfig:"VOICE_PROVIDER" default:"11labs"`
	ModelProvider       string `envconfig:"MODEL_PROVIDER" default:"openai"`
	ModelName           string `envconfig:"MODEL_NAME" default:"gpt-4"`
	DefaultVoice        string `envconfig:"DEFAULT_VOICE" default:"female"` // male, female
	DefaultStyle        string `envconfig:"DEFAULT_STYLE" default:"formal"` // casual, formal

	// Deepgram listen-only backend
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-3"`
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramSampleRate int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"16000"`
	DeepgramEncoding   string `envconfig:"DEEPGRAM_ENCODING" default:"linear16"`

	// Session history persistence. Empty DATABASE_URL keeps history in memory.
	DatabaseURL         string `envconfig:"DATABASE_URL" default:""`
	HistoryTimeout      int    `envconfig:"HISTORY_TIMEOUT" default:"5"`        // seconds per history write
	DatabaseWaitTimeout int    `envconfig:"DATABASE_WAIT_TIMEOUT" default:"60"` // seconds to wait for the database at startup

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Missing .env is fine
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields required by the selected voice backend.
func (c *Config) Validate() error {
	c.VoiceBackend = strings.ToLower(strings.TrimSpace(c.VoiceBackend))

	switch c.VoiceBackend {
	case BackendWebSocket:
		if c.VoiceAPIURL == "" {
			return fmt.Errorf("VOICE_API_URL is required for the %s backend", BackendWebSocket)
		}
		if c.VoiceAPIKey == "" {
			return fmt.Errorf("VOICE_API_KEY is required for the %s backend", BackendWebSocket)
		}
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for the %s backend", BackendDeepgram)
		}
	default:
		return fmt.Errorf("unknown VOICE_BACKEND %q", c.VoiceBackend)
	}

	if c.VoiceStartTimeout <= 0 {
		return fmt.Errorf("VOICE_START_TIMEOUT must be positive")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
