// Package stt provides a listen-only realtime.Client backed by Deepgram streaming
// transcription. Sessions on this backend have no assistant voice: the caller's speech is
// transcribed and speaking activity comes from Deepgram's VAD events.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/realtime"
	"github.com/lexiqai/companion-gateway/internal/resilience"
)

var initOnce sync.Once

// Config configures a DeepgramClient.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	Encoding   string
	SampleRate int

	// Breaker, if set, guards connecting to Deepgram.
	Breaker *resilience.CircuitBreaker
	Logger  zerolog.Logger
}

// dgConn is the part of the Deepgram websocket client the session uses.
type dgConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (dgConn, error)

// messageCallbackHandler embeds the default handler and overrides the events that map
// onto call events.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	client *DeepgramClient
	gen    uint64
}

func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.client.handleMessage(m.gen, msg)
	return nil
}

func (m *messageCallbackHandler) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	m.client.emit(m.gen, realtime.Event{Name: realtime.EventSpeechStart})
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.client.emit(m.gen, realtime.Event{Name: realtime.EventSpeechEnd})
	return nil
}

func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.client.endCall(m.gen)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.client.emit(m.gen, realtime.Event{
		Name: realtime.EventError,
		Err:  fmt.Errorf("deepgram error: %+v", errorResponse),
	})
	return nil
}

// DeepgramClient implements realtime.Client and realtime.AudioSink on Deepgram's
// streaming API. Final and interim results become transcript messages for the user role.
type DeepgramClient struct {
	realtime.Emitter

	cfg    Config
	logger zerolog.Logger
	dial   dialFunc

	mu       sync.Mutex
	conn     dgConn
	starting bool
	gen      uint64
	ended    bool
	muted    bool
}

// NewDeepgramClient creates a client. No connection is made until Start.
func NewDeepgramClient(cfg Config) *DeepgramClient {
	initOnce.Do(listenClient.InitWithDefault)

	d := &DeepgramClient{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "stt").Str("provider", "deepgram").Logger(),
	}
	d.dial = d.dialDeepgram
	return d
}

func (d *DeepgramClient) dialDeepgram(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (dgConn, error) {
	cOptions := &interfaces.ClientOptions{
		APIKey:          d.cfg.APIKey,
		EnableKeepAlive: true,
	}
	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, cOptions, opts, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	return client, nil
}

// Start connects to Deepgram and emits EventCallStart once the stream is open. Only the
// assistant's transcriber settings are used; a Deepgram session has no assistant voice.
func (d *DeepgramClient) Start(ctx context.Context, assistant realtime.AssistantConfig, _ realtime.Overrides) error {
	d.mu.Lock()
	if d.conn != nil || d.starting {
		d.mu.Unlock()
		return realtime.ErrAlreadyStarted
	}
	d.starting = true
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	opts := d.transcriptionOptions(assistant.Transcriber)
	cb := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		client:                 d,
		gen:                    gen,
	}

	var conn dgConn
	connect := func() error {
		c, err := d.dial(ctx, opts, cb)
		if err != nil {
			return err
		}
		if !c.Connect() {
			return errors.New("failed to connect to deepgram")
		}
		conn = c
		return nil
	}

	var err error
	if d.cfg.Breaker != nil {
		err = d.cfg.Breaker.Call(connect)
	} else {
		err = connect()
	}

	d.mu.Lock()
	d.starting = false
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.conn = conn
	d.ended = false
	d.mu.Unlock()

	d.logger.Info().Str("model", opts.Model).Str("language", opts.Language).Msg("Deepgram stream opened")
	d.emit(gen, realtime.Event{Name: realtime.EventCallStart})
	return nil
}

func (d *DeepgramClient) transcriptionOptions(t realtime.Transcriber) *interfaces.LiveTranscriptionOptions {
	model, language := d.cfg.Model, d.cfg.Language
	if strings.EqualFold(t.Provider, "deepgram") {
		if t.Model != "" {
			model = t.Model
		}
		if t.Language != "" {
			language = t.Language
		}
	}

	return &interfaces.LiveTranscriptionOptions{
		Model:          model,
		Language:       language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       d.cfg.Encoding,
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}
}

func (d *DeepgramClient) handleMessage(gen uint64, msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := msg.Channel.Alternatives[0].Transcript
	if strings.TrimSpace(text) == "" {
		return
	}

	transcriptType := realtime.TranscriptTypePartial
	if msg.IsFinal {
		transcriptType = realtime.TranscriptTypeFinal
	}
	d.emit(gen, realtime.Event{Name: realtime.EventMessage, Message: &realtime.Message{
		Type:           realtime.MessageTypeTranscript,
		Role:           realtime.RoleUser,
		TranscriptType: transcriptType,
		Transcript:     text,
	}})
}

// emit drops events from a stream that has since been replaced.
func (d *DeepgramClient) emit(gen uint64, ev realtime.Event) {
	d.mu.Lock()
	current := gen == d.gen && !d.ended
	d.mu.Unlock()
	if current {
		d.Emit(ev)
	}
}

// endCall emits EventCallEnd at most once per stream.
func (d *DeepgramClient) endCall(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.ended {
		d.mu.Unlock()
		return
	}
	d.ended = true
	d.conn = nil
	d.mu.Unlock()

	d.logger.Info().Msg("Deepgram stream closed")
	d.Emit(realtime.Event{Name: realtime.EventCallEnd})
}

// Stop finishes the stream and emits EventCallEnd.
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	conn, gen := d.conn, d.gen
	d.mu.Unlock()

	if conn == nil {
		return realtime.ErrNotConnected
	}
	conn.Finish()
	d.endCall(gen)
	return nil
}

// SetMuted drops caller audio locally while muted; keepalives hold the stream open.
// The flag outlives the stream, so a mute set between calls applies to the next one.
func (d *DeepgramClient) SetMuted(muted bool) error {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
	return nil
}

// SendAudio forwards one caller audio frame to Deepgram.
func (d *DeepgramClient) SendAudio(data []byte) error {
	d.mu.Lock()
	conn, muted := d.conn, d.muted
	d.mu.Unlock()

	if conn == nil {
		return realtime.ErrNotConnected
	}
	if muted {
		return nil
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Close finishes any open stream without emitting events.
func (d *DeepgramClient) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.ended = true
	d.mu.Unlock()

	if conn != nil {
		conn.Finish()
	}
	return nil
}
