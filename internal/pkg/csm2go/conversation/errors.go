package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput means the transcript produced no speakable turns.
	ErrEmptyInput = errors.New("conversation text is empty")

	// ErrEmptyAudio is the cause recorded when the engine returns no samples.
	ErrEmptyAudio = errors.New("engine returned empty audio")
)

type MissingReferenceError struct {
	Speaker int
	Missing string // "audio" or "transcript"
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("missing reference %s for speaker %d", e.Missing, e.Speaker)
}

// SynthesisError reports the 1-indexed turn whose generation failed.
type SynthesisError struct {
	Turn int
	Text string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed on turn %d (%q): %v", e.Turn, e.Text, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// SampleRateError reports a waveform whose rate differs from the run's.
// Turn is zero for reference audio.
type SampleRateError struct {
	Turn    int
	Speaker int
	Want    int
	Got     int
}

func (e *SampleRateError) Error() string {
	if e.Turn == 0 {
		return fmt.Sprintf("reference for speaker %d has sample rate %d, want %d", e.Speaker, e.Got, e.Want)
	}
	return fmt.Sprintf("turn %d has sample rate %d, want %d", e.Turn, e.Got, e.Want)
}
