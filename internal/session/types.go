// Package session implements the voice session controller: the call lifecycle state machine,
// the transcript aggregator and the control surface a session view drives.
package session

import (
	"slices"
)

// CallState is the lifecycle state of one call.
type CallState string

const (
	CallInactive   CallState = "inactive"   // no call; initial state
	CallConnecting CallState = "connecting" // start requested, channel not yet confirmed open
	CallActive     CallState = "active"     // channel confirmed open
	CallFinished   CallState = "finished"   // channel closed; a new start re-enters connecting
)

// Role identifies the speaker of a fragment or turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two speaker roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// SpeechFragment is one incremental speech-to-text result.
type SpeechFragment struct {
	Role    Role
	Text    string
	IsFinal bool
}

// TranscriptTurn is one contiguous block of a single speaker's final speech.
type TranscriptTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SessionConfig is the immutable input to a call.
type SessionConfig struct {
	CompanionID string
	Name        string // companion display name
	Subject     string
	Topic       string
	Style       string // casual, formal
	Voice       string // male, female
	UserID      string
	UserName    string
}

// State is the aggregate held by a Controller.
type State struct {
	CallState  CallState        `json:"call_state"`
	IsSpeaking bool             `json:"is_speaking"`
	IsMuted    bool             `json:"is_muted"`
	Transcript []TranscriptTurn `json:"transcript"`
}

// NewState returns the state of a freshly mounted controller.
func NewState() State {
	return State{CallState: CallInactive, Transcript: []TranscriptTurn{}}
}

// Clone returns a copy of s that shares no memory with it.
func (s State) Clone() State {
	s.Transcript = append(make([]TranscriptTurn, 0, len(s.Transcript)), s.Transcript...)
	return s
}

// Equal reports whether two states are observably identical.
func (s State) Equal(o State) bool {
	return s.CallState == o.CallState &&
		s.IsSpeaking == o.IsSpeaking &&
		s.IsMuted == o.IsMuted &&
		slices.Equal(s.Transcript, o.Transcript)
}
