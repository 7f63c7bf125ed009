// Package gateway exposes session controllers to browsers over a websocket.
package gateway

import (
	"strings"

	"github.com/lexiqai/companion-gateway/internal/session"
)

// Frame types sent by the browser.
const (
	frameConfigure = "configure"
	frameStart     = "start"
	frameEnd       = "end"
	frameToggleMic = "toggle_mic"
	frameExport    = "export"
)

// Frame types sent to the browser.
const (
	frameSession    = "session"
	frameState      = "state"
	frameTranscript = "transcript"
	frameError      = "error"
)

// Error codes carried by error frames.
const (
	codeBadRequest        = "bad_request"
	codeUnknownType       = "unknown_type"
	codeNotConfigured     = "not_configured"
	codeAlreadyConfigured = "already_configured"
	codeEmptyTranscript   = "empty_transcript"
)

// Display names used in exported transcripts when the browser does not send one.
const (
	defaultUserName      = "You"
	defaultCompanionName = "Companion"
)

// clientFrame is any JSON frame from the browser. Only configure uses the session fields.
type clientFrame struct {
	Type        string `json:"type"`
	CompanionID string `json:"companion_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Style       string `json:"style,omitempty"`
	Voice       string `json:"voice,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`
}

func (f clientFrame) sessionConfig() session.SessionConfig {
	return session.SessionConfig{
		CompanionID: strings.TrimSpace(f.CompanionID),
		Name:        f.Name,
		Subject:     f.Subject,
		Topic:       f.Topic,
		Style:       f.Style,
		Voice:       f.Voice,
		UserID:      strings.TrimSpace(f.UserID),
		UserName:    f.UserName,
	}
}

type sessionFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type stateFrame struct {
	Type string `json:"type"`
	session.State
}

type transcriptFrame struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Markdown string `json:"markdown"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// exportNames returns the display names used for cfg's transcript.
func exportNames(cfg session.SessionConfig) (userName, companionName string) {
	userName, companionName = cfg.UserName, cfg.Name
	if strings.TrimSpace(userName) == "" {
		userName = defaultUserName
	}
	if strings.TrimSpace(companionName) == "" {
		companionName = defaultCompanionName
	}
	return userName, companionName
}
