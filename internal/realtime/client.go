// Package realtime defines the control and event surface of a realtime voice call backend
// and provides the implementations the gateway can mount a session on.
package realtime

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by control calls made while no call channel is open.
	ErrNotConnected = errors.New("realtime: call channel not connected")
	// ErrAlreadyStarted is returned by Start while a previous call channel is still open.
	ErrAlreadyStarted = errors.New("realtime: call already started")
)

// EventName identifies an event emitted by a Client.
type EventName string

const (
	EventCallStart   EventName = "call-start"
	EventCallEnd     EventName = "call-end"
	EventMessage     EventName = "message"
	EventSpeechStart EventName = "speech-start"
	EventSpeechEnd   EventName = "speech-end"
	EventError       EventName = "error"
)

// Events lists every event a Client may emit.
var Events = []EventName{
	EventCallStart,
	EventCallEnd,
	EventMessage,
	EventSpeechStart,
	EventSpeechEnd,
	EventError,
}

// Message type discriminators carried by EventMessage.
const (
	MessageTypeTranscript = "transcript"

	TranscriptTypeFinal   = "final"
	TranscriptTypePartial = "partial"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is the payload of an EventMessage event.
type Message struct {
	Type           string `json:"type"`
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
}

// IsTranscript reports whether the message carries a speech fragment.
func (m *Message) IsTranscript() bool {
	return m != nil && m.Type == MessageTypeTranscript
}

// Event is delivered to handlers registered with Client.On.
type Event struct {
	Name    EventName
	Message *Message // set for EventMessage
	Err     error    // set for EventError
}

// Handler receives events from a Client. Handlers are invoked one event at a time,
// in the order the backend delivered them.
type Handler func(Event)

// ListenerID identifies one registration made with Client.On.
type ListenerID string

// Client is the control and subscription surface of a realtime call backend.
type Client interface {
	// Start opens the call channel. It returns once the start request was issued;
	// EventCallStart reports that the channel is confirmed open.
	Start(ctx context.Context, assistant AssistantConfig, overrides Overrides) error
	// Stop requests channel teardown. An EventCallEnd follows.
	Stop() error
	// SetMuted toggles outbound audio.
	SetMuted(muted bool) error
	// On registers h for name and returns the identity that removes it.
	On(name EventName, h Handler) ListenerID
	// Off removes exactly the registration identified by id.
	Off(name EventName, id ListenerID)
}

// AudioSink is implemented by clients that accept caller audio from the gateway.
type AudioSink interface {
	SendAudio(data []byte) error
}

// AssistantConfig describes the assistant a call is started with.
type AssistantConfig struct {
	Name           string      `json:"name"`
	FirstMessage   string      `json:"firstMessage"`
	Transcriber    Transcriber `json:"transcriber"`
	Voice          Voice       `json:"voice"`
	Model          Model       `json:"model"`
	ClientMessages []string    `json:"clientMessages,omitempty"`
	ServerMessages []string    `json:"serverMessages,omitempty"`
}

// Transcriber selects the speech-to-text engine used by the backend.
type Transcriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

// Voice selects and tunes the synthesized assistant voice.
type Voice struct {
	Provider        string  `json:"provider"`
	VoiceID         string  `json:"voiceId"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Speed           float64 `json:"speed"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"useSpeakerBoost"`
}

// Model selects the language model and its prompt.
type Model struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Messages []ModelMessage `json:"messages"`
}

// ModelMessage is one prompt message.
type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Overrides carries per-call values substituted into the assistant template.
type Overrides struct {
	VariableValues map[string]string `json:"variableValues,omitempty"`
	ClientMessages []string          `json:"clientMessages"`
	ServerMessages []string          `json:"serverMessages"`
}
