package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/realtime"
	"github.com/lexiqai/companion-gateway/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 64
)

type outbound struct {
	messageType int
	data        []byte
}

// audioOutputSetter is implemented by clients that play assistant audio.
type audioOutputSetter interface {
	SetAudioOutput(fn func([]byte))
}

// connection is one browser websocket and the session mounted on it. The read loop runs
// on the handler goroutine; a single writer goroutine owns every write and closes the socket.
type connection struct {
	id     string
	h      *Handler
	conn   *websocket.Conn
	logger zerolog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	send       chan outbound
	writerDone chan struct{}

	// Latest state snapshot not yet written. Snapshots coalesce: the browser only needs the newest.
	stateMu    sync.Mutex
	latest     *session.State
	stateReady chan struct{}

	mu         sync.Mutex
	controller *session.Controller
	client     VoiceClient
}

func newConnection(h *Handler, conn *websocket.Conn) *connection {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:         id,
		h:          h,
		conn:       conn,
		logger:     observability.WithCorrelationID(id).With().Str("session_id", id).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan outbound, sendQueueSize),
		writerDone: make(chan struct{}),
		stateReady: make(chan struct{}, 1),
	}
}

func (c *connection) serve() {
	unregister := c.h.Sessions.Register(c.id, Handle{View: c.view, Cancel: c.cancel})
	defer unregister()

	go c.writeLoop()
	defer c.teardown()

	c.logger.Info().Msg("Browser session connected")
	c.enqueue(sessionFrame{Type: frameSession, SessionID: c.id})
	c.readLoop()
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.forwardAudio(data)
		case websocket.TextMessage:
			c.handleFrame(data)
		}
	}
}

func (c *connection) handleFrame(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError(codeBadRequest, "malformed frame")
		return
	}

	switch frame.Type {
	case frameConfigure:
		c.configure(frame)
		return
	case frameStart, frameEnd, frameToggleMic, frameExport:
	default:
		c.sendError(codeUnknownType, fmt.Sprintf("unknown frame type %q", frame.Type))
		return
	}

	controller := c.currentController()
	if controller == nil {
		c.sendError(codeNotConfigured, "session is not configured")
		return
	}

	switch frame.Type {
	case frameStart:
		controller.StartSession()
	case frameEnd:
		controller.EndSession()
	case frameToggleMic:
		controller.ToggleMic()
	case frameExport:
		c.export(controller)
	}
}

// configure mounts the controller for the browser's session configuration.
func (c *connection) configure(frame clientFrame) {
	cfg := frame.sessionConfig()
	if cfg.CompanionID == "" {
		c.sendError(codeBadRequest, "companion_id is required")
		return
	}

	c.mu.Lock()
	if c.controller != nil {
		c.mu.Unlock()
		c.sendError(codeAlreadyConfigured, "session is already configured")
		return
	}

	logger := observability.SessionLogger(c.id, cfg.CompanionID, cfg.UserID)
	client := c.h.NewClient(logger)
	if out, ok := client.(audioOutputSetter); ok {
		out.SetAudioOutput(c.sendAudio)
	}

	settings := c.h.Settings
	controller := session.NewController(client, cfg, session.Options{
		OnSessionEnded: c.sessionEnded(cfg.UserID, logger),
		Observer:       c.publishState,
		Settings:       &settings,
		Logger:         &logger,
		Metrics:        observability.NewSessionMetrics(c.id),
	})
	c.controller = controller
	c.client = client
	c.mu.Unlock()

	c.publishState(controller.Snapshot())
	logger.Info().Str("subject", cfg.Subject).Str("topic", cfg.Topic).Msg("Session configured")
}

func (c *connection) sessionEnded(userID string, logger zerolog.Logger) func(string) {
	return func(companionID string) {
		if c.h.Recorder == nil {
			return
		}
		if userID == "" {
			logger.Debug().Msg("Session has no user, skipping history")
			return
		}
		c.h.Recorder.Record(userID, companionID)
	}
}

func (c *connection) export(controller *session.Controller) {
	userName, companionName := exportNames(controller.Config())
	markdown, err := session.ExportMarkdown(controller.Snapshot().Transcript, userName, companionName)
	if err != nil {
		if errors.Is(err, session.ErrEmptyTranscript) {
			c.sendError(codeEmptyTranscript, "transcript is empty")
			return
		}
		c.logger.Warn().Err(err).Msg("Failed to export transcript")
		c.sendError(codeBadRequest, "failed to export transcript")
		return
	}
	c.enqueue(transcriptFrame{
		Type:     frameTranscript,
		Filename: session.ExportFilename(c.h.clock()),
		Markdown: markdown,
	})
}

func (c *connection) forwardAudio(data []byte) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	sink, ok := client.(realtime.AudioSink)
	if !ok {
		return
	}
	if err := sink.SendAudio(data); err != nil {
		if !errors.Is(err, realtime.ErrNotConnected) {
			c.logger.Warn().Err(err).Msg("Failed to forward audio")
		}
		return
	}
	observability.RecordAudioBytes(len(data))
}

// sendAudio queues assistant audio for the browser. It never blocks the client's read loop.
func (c *connection) sendAudio(data []byte) {
	select {
	case c.send <- outbound{messageType: websocket.BinaryMessage, data: data}:
	case <-c.ctx.Done():
	default:
		c.logger.Warn().Int("bytes", len(data)).Msg("Send queue full, dropping assistant audio")
		observability.RecordError("audio_dropped", "gateway")
	}
}

// publishState is the controller observer. It runs under the controller's lock and must not block.
func (c *connection) publishState(st session.State) {
	c.stateMu.Lock()
	c.latest = &st
	c.stateMu.Unlock()

	select {
	case c.stateReady <- struct{}{}:
	default:
	}
}

func (c *connection) sendError(code, message string) {
	c.enqueue(errorFrame{Type: frameError, Code: code, Message: message})
}

func (c *connection) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode frame")
		return
	}
	select {
	case c.send <- outbound{messageType: websocket.TextMessage, data: data}:
	case <-c.ctx.Done():
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-c.stateReady:
			if err := c.writeState(); err != nil {
				c.writeFailed(err)
				return
			}
		case msg := <-c.send:
			if err := c.write(msg.messageType, msg.data); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.writeFailed(err)
				return
			}
		}
	}
}

func (c *connection) writeState() error {
	c.stateMu.Lock()
	st := c.latest
	c.latest = nil
	c.stateMu.Unlock()

	if st == nil {
		return nil
	}
	data, err := json.Marshal(stateFrame{Type: frameState, State: *st})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *connection) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *connection) writeFailed(err error) {
	if c.ctx.Err() == nil {
		c.logger.Debug().Err(err).Msg("WebSocket write failed")
	}
	c.cancel()
}

func (c *connection) currentController() *session.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// view backs the registry handle.
func (c *connection) view() (session.SessionConfig, session.State, bool) {
	controller := c.currentController()
	if controller == nil {
		return session.SessionConfig{}, session.State{}, false
	}
	return controller.Config(), controller.Snapshot(), true
}

// teardown ends a call still in progress, releases the controller's listeners and closes the
// voice client. It runs on every exit path of serve.
func (c *connection) teardown() {
	c.mu.Lock()
	controller, client := c.controller, c.client
	c.mu.Unlock()

	if controller != nil {
		if cs := controller.Snapshot().CallState; cs == session.CallConnecting || cs == session.CallActive {
			controller.EndSession()
		}
		controller.Close()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close voice client")
		}
	}

	c.cancel()
	<-c.writerDone
	c.logger.Info().Msg("Browser session disconnected")
}
