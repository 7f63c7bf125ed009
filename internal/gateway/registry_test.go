package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/companion-gateway/internal/config"
	"github.com/lexiqai/companion-gateway/internal/realtime"
	"github.com/lexiqai/companion-gateway/internal/resilience"
	"github.com/lexiqai/companion-gateway/internal/session"
	"github.com/lexiqai/companion-gateway/internal/stt"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	unregister := r.Register("s1", Handle{View: func() (session.SessionConfig, session.State, bool) {
		return session.SessionConfig{CompanionID: "c1"}, session.NewState(), true
	}})

	h, ok := r.Lookup("s1")
	require.True(t, ok)
	cfg, _, ok := h.View()
	assert.True(t, ok)
	assert.Equal(t, "c1", cfg.CompanionID)
	assert.Equal(t, 1, r.Count())

	unregister()
	unregister()

	_, ok = r.Lookup("s1")
	assert.False(t, ok)
	assert.Zero(t, r.Count())
	assert.True(t, r.Wait(context.Background()))
}

func TestRegistry_ReplaceKeepsNewEntry(t *testing.T) {
	r := NewRegistry()
	first := r.Register("s1", Handle{})
	r.Register("s1", Handle{Cancel: func() {}})

	// Unregistering the replaced entry must not remove its successor.
	first()
	h, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.NotNil(t, h.Cancel)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_CancelAllAndWait(t *testing.T) {
	r := NewRegistry()
	cancelled := make(chan string, 2)
	var unregisters []func()
	for _, id := range []string{"a", "b"} {
		unregisters = append(unregisters, r.Register(id, Handle{Cancel: func() { cancelled <- id }}))
	}
	r.Register("no-cancel", Handle{})

	assert.Equal(t, 2, r.CancelAll())
	assert.ElementsMatch(t, []string{"a", "b"}, []string{<-cancelled, <-cancelled})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, r.Wait(ctx), "sessions still registered")

	for _, u := range unregisters {
		u()
	}
	assert.Equal(t, 1, r.Count())
}

func TestNewClientFactory(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("voice", 3, time.Second)

	wsFactory, err := NewClientFactory(&config.Config{
		VoiceBackend:      config.BackendWebSocket,
		VoiceAPIURL:       "wss://voice.example.com/call",
		VoiceAPIKey:       "key",
		VoiceStartTimeout: 5,
	}, breaker)
	require.NoError(t, err)
	assert.IsType(t, &realtime.WSClient{}, wsFactory(zerolog.Nop()))

	dgFactory, err := NewClientFactory(&config.Config{
		VoiceBackend:   config.BackendDeepgram,
		DeepgramAPIKey: "key",
	}, breaker)
	require.NoError(t, err)
	client := dgFactory(zerolog.Nop())
	assert.IsType(t, &stt.DeepgramClient{}, client)
	_, ok := client.(realtime.AudioSink)
	assert.True(t, ok)

	_, err = NewClientFactory(&config.Config{VoiceBackend: "carrier-pigeon"}, breaker)
	assert.Error(t, err)
}
