package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("session: transcript is empty")

// ExportMarkdown renders turns as a markdown document. Assistant turns are attributed to
// companionName, user turns to userName.
func ExportMarkdown(turns []TranscriptTurn, userName, companionName string) (string, error) {
	if len(turns) == 0 {
		return "", ErrEmptyTranscript
	}

	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		name := userName
		if t.Role == RoleAssistant {
			name = companionName
		}
		blocks = append(blocks, fmt.Sprintf("**%s:**\n%s\n", name, t.Content))
	}
	return strings.Join(blocks, "\n"), nil
}

// ExportFilename returns the download name for a transcript exported at t.
func ExportFilename(t time.Time) string {
	return "session-transcript-" + t.UTC().Format(time.DateOnly) + ".md"
}
