package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/resilience"
)

const (
	writeWait  = 5 * time.Second
	closeGrace = 2 * time.Second
)

// Frame types spoken on the call channel.
const (
	frameStart       = "start"
	frameStop        = "stop"
	frameMute        = "mute"
	frameCallStart   = "call-start"
	frameCallEnd     = "call-end"
	frameSpeechStart = "speech-start"
	frameSpeechEnd   = "speech-end"
	frameError       = "error"
)

type startFrame struct {
	Type               string          `json:"type"`
	Assistant          AssistantConfig `json:"assistant"`
	AssistantOverrides Overrides       `json:"assistantOverrides"`
}

type controlFrame struct {
	Type  string `json:"type"`
	Muted *bool  `json:"muted,omitempty"`
}

// serverFrame is any JSON frame the backend sends. Frames whose type is not a lifecycle
// type are delivered as EventMessage.
type serverFrame struct {
	Type           string `json:"type"`
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WSClientConfig configures a WSClient.
type WSClientConfig struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration // bounds dialing and sending the start frame

	// Breaker, if set, guards the dial + start handshake.
	Breaker *resilience.CircuitBreaker
	Logger  zerolog.Logger
}

// WSClient is a Client for a hosted voice assistant reached over a websocket.
// JSON frames carry control and events; binary frames carry audio in both directions.
type WSClient struct {
	Emitter

	cfg    WSClientConfig
	dialer websocket.Dialer
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	starting bool
	stopping bool
	closed   bool // set by Close; the read loop exits without emitting
	done     chan struct{}
	audioOut func([]byte)

	writeMu sync.Mutex
}

// NewWSClient creates a client. No connection is made until Start.
func NewWSClient(cfg WSClientConfig) *WSClient {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &WSClient{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: cfg.Logger.With().Str("component", "realtime").Logger(),
	}
}

// SetAudioOutput registers fn to receive assistant audio frames.
func (c *WSClient) SetAudioOutput(fn func([]byte)) {
	c.mu.Lock()
	c.audioOut = fn
	c.mu.Unlock()
}

// Start dials the backend and sends the start frame.
func (c *WSClient) Start(ctx context.Context, assistant AssistantConfig, overrides Overrides) error {
	c.mu.Lock()
	if c.conn != nil || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	var conn *websocket.Conn
	handshake := func() error {
		var err error
		conn, err = c.handshake(ctx, assistant, overrides)
		return err
	}

	var err error
	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Call(handshake)
	} else {
		err = handshake()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return err
	}

	c.conn = conn
	c.stopping = false
	c.closed = false
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)

	c.logger.Info().Str("assistant", assistant.Name).Msg("Call channel opened")
	return nil
}

func (c *WSClient) handshake(ctx context.Context, assistant AssistantConfig, overrides Overrides) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("dial voice backend (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("dial voice backend: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial voice backend: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(startFrame{Type: frameStart, Assistant: assistant, AssistantOverrides: overrides}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start frame: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return conn, nil
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	callEnded := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopping, closed := c.stopping, c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			if closed {
				return
			}
			if !stopping && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Call channel closed unexpectedly")
				c.Emit(Event{Name: EventError, Err: fmt.Errorf("read call channel: %w", err)})
			}
			if !callEnded {
				c.Emit(Event{Name: EventCallEnd})
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			c.mu.Lock()
			out := c.audioOut
			c.mu.Unlock()
			if out != nil {
				out(data)
			}
			continue
		}

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed frame from voice backend")
			continue
		}

		switch f.Type {
		case frameCallStart:
			c.Emit(Event{Name: EventCallStart})
		case frameCallEnd:
			if !callEnded {
				callEnded = true
				c.Emit(Event{Name: EventCallEnd})
			}
		case frameSpeechStart:
			c.Emit(Event{Name: EventSpeechStart})
		case frameSpeechEnd:
			c.Emit(Event{Name: EventSpeechEnd})
		case frameError:
			msg := f.Error
			if msg == "" {
				msg = "unknown backend error"
			}
			c.Emit(Event{Name: EventError, Err: errors.New(msg)})
		default:
			c.Emit(Event{Name: EventMessage, Message: &Message{
				Type:           f.Type,
				Role:           f.Role,
				TranscriptType: f.TranscriptType,
				Transcript:     f.Transcript,
			}})
		}
	}
}

// Stop sends the stop frame and closes the channel. The read loop emits EventCallEnd
// once the backend acknowledges the close or closeGrace elapses.
func (c *WSClient) Stop() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(controlFrame{Type: frameStop})
	if err == nil {
		err = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.writeMu.Unlock()

	time.AfterFunc(closeGrace, func() { conn.Close() })

	if err != nil {
		conn.Close()
		return fmt.Errorf("send stop frame: %w", err)
	}
	return nil
}

// SetMuted tells the backend to mute or unmute caller audio.
func (c *WSClient) SetMuted(muted bool) error {
	return c.writeJSON(controlFrame{Type: frameMute, Muted: &muted})
}

// SendAudio forwards one caller audio frame.
func (c *WSClient) SendAudio(data []byte) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *WSClient) writeJSON(v any) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (c *WSClient) activeConn() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.stopping {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Close drops the call channel without the stop handshake and waits for the read loop.
// No events are emitted for a channel closed this way.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.stopping = true
	c.closed = true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
