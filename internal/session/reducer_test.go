package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stateIn(cs CallState) State {
	s := NewState()
	s.CallState = cs
	return s
}

func TestReduce_Transitions(t *testing.T) {
	tests := []struct {
		name string
		from CallState
		ev   EventKind
		want CallState
	}{
		{"start from inactive", CallInactive, EventStartRequested, CallConnecting},
		{"start from finished", CallFinished, EventStartRequested, CallConnecting},
		{"start while connecting", CallConnecting, EventStartRequested, CallConnecting},
		{"start while active", CallActive, EventStartRequested, CallActive},
		{"start failed while connecting", CallConnecting, EventStartFailed, CallInactive},
		{"start failed after call started", CallActive, EventStartFailed, CallActive},
		{"call started while connecting", CallConnecting, EventCallStarted, CallActive},
		{"call started while inactive", CallInactive, EventCallStarted, CallInactive},
		{"call started after finish", CallFinished, EventCallStarted, CallFinished},
		{"call ended while active", CallActive, EventCallEnded, CallFinished},
		{"call ended while connecting", CallConnecting, EventCallEnded, CallFinished},
		{"call ended while finished", CallFinished, EventCallEnded, CallFinished},
		{"call ended while inactive", CallInactive, EventCallEnded, CallInactive},
		{"end requested while active", CallActive, EventEndRequested, CallFinished},
		{"end requested while connecting", CallConnecting, EventEndRequested, CallFinished},
		{"end requested while inactive", CallInactive, EventEndRequested, CallInactive},
		{"error while active", CallActive, EventError, CallActive},
		{"error while connecting", CallConnecting, EventError, CallConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(stateIn(tt.from), Event{Kind: tt.ev})
			assert.Equal(t, tt.want, got.CallState)
		})
	}
}

func TestReduce_StartClearsTranscript(t *testing.T) {
	s := stateIn(CallFinished)
	s.Transcript = []TranscriptTurn{{Role: RoleUser, Content: "old"}}

	got := Reduce(s, Event{Kind: EventStartRequested})

	assert.Empty(t, got.Transcript)
	assert.NotNil(t, got.Transcript)
	assert.Len(t, s.Transcript, 1, "input state must not be modified")
}

func TestReduce_Speaking(t *testing.T) {
	s := Reduce(stateIn(CallActive), Event{Kind: EventSpeechStarted})
	assert.True(t, s.IsSpeaking)

	s = Reduce(s, Event{Kind: EventSpeechEnded})
	assert.False(t, s.IsSpeaking)

	s = Reduce(Reduce(stateIn(CallActive), Event{Kind: EventSpeechStarted}), Event{Kind: EventCallEnded})
	assert.False(t, s.IsSpeaking, "finishing clears speaking")

	s = Reduce(stateIn(CallFinished), Event{Kind: EventSpeechStarted})
	assert.False(t, s.IsSpeaking, "late speech events after a call are ignored")
}

func TestReduce_MuteToggleInAnyState(t *testing.T) {
	for _, cs := range []CallState{CallInactive, CallConnecting, CallActive, CallFinished} {
		s := Reduce(stateIn(cs), Event{Kind: EventMuteToggled})
		assert.True(t, s.IsMuted, cs)
		assert.Equal(t, cs, s.CallState)

		s = Reduce(s, Event{Kind: EventMuteToggled})
		assert.False(t, s.IsMuted, cs)
	}
}

func TestReduce_ScriptedCall(t *testing.T) {
	script := []Event{
		{Kind: EventStartRequested},
		{Kind: EventCallStarted},
		{Kind: EventSpeechStarted},
		{Kind: EventFragment, Fragment: final(RoleAssistant, "Hello, let's start.")},
		{Kind: EventSpeechEnded},
		{Kind: EventFragment, Fragment: partial(RoleUser, "Sou")},
		{Kind: EventFragment, Fragment: final(RoleUser, "Sounds")},
		{Kind: EventFragment, Fragment: final(RoleUser, "good.")},
		{Kind: EventCallEnded},
	}

	s := NewState()
	var states []CallState
	for _, ev := range script {
		s = Reduce(s, ev)
		states = append(states, s.CallState)
	}

	assert.Equal(t, []CallState{
		CallConnecting, CallActive, CallActive, CallActive, CallActive,
		CallActive, CallActive, CallActive, CallFinished,
	}, states)
	assert.Equal(t, []TranscriptTurn{
		{Role: RoleAssistant, Content: "Hello, let's start."},
		{Role: RoleUser, Content: "Sounds good."},
	}, s.Transcript)
}

func TestDeriveEffects(t *testing.T) {
	active := stateIn(CallActive)
	connecting := stateIn(CallConnecting)

	fx := deriveEffects(Event{Kind: EventStartRequested}, NewState(), connecting)
	assert.True(t, fx.start)

	fx = deriveEffects(Event{Kind: EventStartRequested}, connecting, connecting)
	assert.False(t, fx.start)

	fx = deriveEffects(Event{Kind: EventCallStarted}, connecting, active)
	assert.True(t, fx.callActive)

	fx = deriveEffects(Event{Kind: EventEndRequested}, active, stateIn(CallFinished))
	assert.True(t, fx.stop)
	assert.True(t, fx.sessionEnded)

	fx = deriveEffects(Event{Kind: EventEndRequested}, connecting, stateIn(CallFinished))
	assert.True(t, fx.stop)
	assert.False(t, fx.sessionEnded, "a call that never became active is not recorded")

	fx = deriveEffects(Event{Kind: EventCallEnded}, stateIn(CallFinished), stateIn(CallFinished))
	assert.False(t, fx.sessionEnded)
	assert.False(t, fx.stop)

	muted := Reduce(active, Event{Kind: EventMuteToggled})
	fx = deriveEffects(Event{Kind: EventMuteToggled}, active, muted)
	if assert.NotNil(t, fx.setMuted) {
		assert.True(t, *fx.setMuted)
	}

	withTurn := Reduce(active, Event{Kind: EventFragment, Fragment: final(RoleUser, "Hi")})
	fx = deriveEffects(Event{Kind: EventFragment}, active, withTurn)
	assert.True(t, fx.fragment)
	assert.False(t, fx.merged)

	merged := Reduce(withTurn, Event{Kind: EventFragment, Fragment: final(RoleUser, "there")})
	fx = deriveEffects(Event{Kind: EventFragment}, withTurn, merged)
	assert.True(t, fx.fragment)
	assert.True(t, fx.merged)

	fx = deriveEffects(Event{Kind: EventFragment}, withTurn, withTurn)
	assert.False(t, fx.fragment)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "call-start", EventCallStarted.String())
	assert.Equal(t, "mute-toggled", EventMuteToggled.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
