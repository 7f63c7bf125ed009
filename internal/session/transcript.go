package session

import (
	"strings"

	"github.com/lexiqai/companion-gateway/internal/realtime"
)

// AppendFragment folds one fragment into turns and returns the resulting transcript.
// Non-final and blank fragments leave the transcript unchanged. A final fragment from the
// speaker of the last turn is merged into that turn with a single space; otherwise it
// starts a new turn. turns is never modified in place.
func AppendFragment(turns []TranscriptTurn, f SpeechFragment) []TranscriptTurn {
	if !f.IsFinal {
		return turns
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return turns
	}

	out := make([]TranscriptTurn, len(turns), len(turns)+1)
	copy(out, turns)

	if n := len(out); n > 0 && out[n-1].Role == f.Role {
		out[n-1].Content = strings.TrimSpace(out[n-1].Content) + " " + text
		return out
	}
	return append(out, TranscriptTurn{Role: f.Role, Content: text})
}

// Aggregate folds fragments, in order, into a transcript.
func Aggregate(fragments []SpeechFragment) []TranscriptTurn {
	turns := []TranscriptTurn{}
	for _, f := range fragments {
		turns = AppendFragment(turns, f)
	}
	return turns
}

// FragmentFromMessage extracts a speech fragment from a backend message. It returns false
// for messages that are not transcripts or that carry an unknown role.
func FragmentFromMessage(m *realtime.Message) (SpeechFragment, bool) {
	if !m.IsTranscript() {
		return SpeechFragment{}, false
	}
	role := Role(m.Role)
	if !role.Valid() {
		return SpeechFragment{}, false
	}
	return SpeechFragment{
		Role:    role,
		Text:    m.Transcript,
		IsFinal: m.TranscriptType == realtime.TranscriptTypeFinal,
	}, true
}
