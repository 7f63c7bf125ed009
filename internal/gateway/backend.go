package gateway

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/config"
	"github.com/lexiqai/companion-gateway/internal/realtime"
	"github.com/lexiqai/companion-gateway/internal/resilience"
	"github.com/lexiqai/companion-gateway/internal/stt"
)

// VoiceClient is a realtime.Client owned by a single browser connection.
type VoiceClient interface {
	realtime.Client
	// Close tears the backend channel down without emitting events.
	Close() error
}

// ClientFactory creates the voice client for a new session.
type ClientFactory func(logger zerolog.Logger) VoiceClient

// NewClientFactory returns the factory for the backend selected in cfg. breaker guards
// the backend handshake and is shared by every session.
func NewClientFactory(cfg *config.Config, breaker *resilience.CircuitBreaker) (ClientFactory, error) {
	switch cfg.VoiceBackend {
	case config.BackendWebSocket:
		return func(logger zerolog.Logger) VoiceClient {
			return realtime.NewWSClient(realtime.WSClientConfig{
				URL:              cfg.VoiceAPIURL,
				APIKey:           cfg.VoiceAPIKey,
				HandshakeTimeout: time.Duration(cfg.VoiceStartTimeout) * time.Second,
				Breaker:          breaker,
				Logger:           logger,
			})
		}, nil
	case config.BackendDeepgram:
		return func(logger zerolog.Logger) VoiceClient {
			return stt.NewDeepgramClient(stt.Config{
				APIKey:     cfg.DeepgramAPIKey,
				Model:      cfg.DeepgramModel,
				Language:   cfg.DeepgramLanguage,
				Encoding:   cfg.DeepgramEncoding,
				SampleRate: cfg.DeepgramSampleRate,
				Breaker:    breaker,
				Logger:     logger,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown voice backend %q", cfg.VoiceBackend)
	}
}
