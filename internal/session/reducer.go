package session

// EventKind identifies an input to Reduce.
type EventKind int

const (
	// Emitted by the realtime client.
	EventCallStarted EventKind = iota
	EventCallEnded
	EventFragment
	EventSpeechStarted
	EventSpeechEnded
	EventError

	// Originated by the controller surface.
	EventStartRequested
	EventStartFailed
	EventEndRequested
	EventMuteToggled
)

var eventKindNames = map[EventKind]string{
	EventCallStarted:    "call-start",
	EventCallEnded:      "call-end",
	EventFragment:       "message",
	EventSpeechStarted:  "speech-start",
	EventSpeechEnded:    "speech-end",
	EventError:          "error",
	EventStartRequested: "start-requested",
	EventStartFailed:    "start-failed",
	EventEndRequested:   "end-requested",
	EventMuteToggled:    "mute-toggled",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one input to the state machine.
type Event struct {
	Kind     EventKind
	Fragment SpeechFragment // set for EventFragment
}

// Reduce applies ev to s and returns the next state. It has no side effects and never
// modifies s.
func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventStartRequested:
		if s.CallState == CallInactive || s.CallState == CallFinished {
			s.CallState = CallConnecting
			s.IsSpeaking = false
			s.Transcript = []TranscriptTurn{}
		}

	case EventStartFailed:
		if s.CallState == CallConnecting {
			s.CallState = CallInactive
			s.IsSpeaking = false
		}

	case EventCallStarted:
		if s.CallState == CallConnecting {
			s.CallState = CallActive
		}

	case EventCallEnded, EventEndRequested:
		if s.CallState == CallActive || s.CallState == CallConnecting {
			s.CallState = CallFinished
			s.IsSpeaking = false
		}

	case EventFragment:
		s.Transcript = AppendFragment(s.Transcript, ev.Fragment)

	case EventSpeechStarted:
		if s.CallState == CallActive || s.CallState == CallConnecting {
			s.IsSpeaking = true
		}

	case EventSpeechEnded:
		s.IsSpeaking = false

	case EventMuteToggled:
		s.IsMuted = !s.IsMuted

	case EventError:
		// Errors are observed, not acted on. A closing channel follows up with EventCallEnded.
	}
	return s
}

// effects are the side effects implied by one transition.
type effects struct {
	start        bool
	stop         bool
	setMuted     *bool
	sessionEnded bool
	callActive   bool
	fragment     bool
	merged       bool
}

func deriveEffects(ev Event, before, after State) effects {
	var fx effects

	switch ev.Kind {
	case EventStartRequested:
		fx.start = before.CallState != after.CallState && after.CallState == CallConnecting
	case EventEndRequested:
		fx.stop = before.CallState == CallActive || before.CallState == CallConnecting
	case EventMuteToggled:
		muted := after.IsMuted
		fx.setMuted = &muted
	case EventFragment:
		fx.fragment = !after.Equal(before)
		fx.merged = fx.fragment && len(after.Transcript) == len(before.Transcript)
	}

	fx.callActive = before.CallState != CallActive && after.CallState == CallActive
	fx.sessionEnded = before.CallState == CallActive && after.CallState == CallFinished
	return fx
}
