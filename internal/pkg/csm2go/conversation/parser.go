package conversation

import (
	"strings"

	"csm2go/internal/pkg/csm2go/preprocess"
)

// Utterance is one speakable transcript line. Text is already normalized.
type Utterance struct {
	Text    string
	Speaker int
	Line    int
}

// Parse splits a transcript into turns, one per non-empty line. Speakers
// alternate by original line index, so a dropped blank line does not shift
// the speaker of the lines after it.
func Parse(transcript string) []Utterance {
	if transcript == "" {
		return nil
	}

	var turns []Utterance
	for i, line := range strings.Split(transcript, "\n") {
		text := preprocess.Normalize(line)
		if text == "" {
			continue
		}
		turns = append(turns, Utterance{
			Text:    text,
			Speaker: i % 2,
			Line:    i,
		})
	}
	return turns
}
