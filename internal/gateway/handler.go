package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	// Browsers connect from the app's own origin; the gateway sits behind the app's proxy.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SessionRecorder records that a user attended a session with a companion.
type SessionRecorder interface {
	Record(userID, companionID string)
}

// Handler serves the browser session websocket and the transcript download endpoint.
type Handler struct {
	NewClient ClientFactory
	Sessions  *Registry
	Recorder  SessionRecorder // optional
	Settings  session.AssistantSettings

	now func() time.Time
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions/ws", h.ServeWS)
	mux.HandleFunc("GET /sessions/{id}/transcript", h.ServeTranscript)
}

// ServeWS upgrades the request and runs one browser session until either side disconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c := newConnection(h, conn)
	c.serve()
}

// ServeTranscript returns the live session's transcript as a markdown attachment.
func (h *Handler) ServeTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := h.Sessions.Lookup(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	cfg, state, ok := handle.View()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	userName, companionName := exportNames(cfg)
	markdown, err := session.ExportMarkdown(state.Transcript, userName, companionName)
	if errors.Is(err, session.ErrEmptyTranscript) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		observability.RecordError("export_failed", "gateway")
		http.Error(w, "failed to export transcript", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ExportFilename(h.clock())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}
