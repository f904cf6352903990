package audio

import (
	"fmt"
)

const (
	SampleRate    = 24000
	NumChannels   = 1
	BitsPerSample = 16
)

// Audio is a mono waveform of float samples in [-1, 1].
type Audio struct {
	Samples    []float32
	SampleRate int
}

func NewAudio(samples []float32) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: SampleRate,
	}
}

func NewAudioWithSampleRate(samples []float32, sampleRate int) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
	}
}

func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

func (a *Audio) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Samples)
}

// Silence returns durationMs of zero samples at sampleRate.
func Silence(durationMs, sampleRate int) *Audio {
	if durationMs < 0 {
		durationMs = 0
	}
	numSamples := durationMs * sampleRate / 1000
	return NewAudioWithSampleRate(make([]float32, numSamples), sampleRate)
}

// Concat joins parts in order, inserting gap between consecutive parts.
// A nil gap joins the parts back to back. Every part must share the gap's
// sample rate; nothing is resampled.
func Concat(parts []*Audio, gap *Audio) (*Audio, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no audio to concatenate")
	}

	rate := parts[0].SampleRate
	if gap != nil && gap.SampleRate != rate {
		return nil, fmt.Errorf("gap sample rate %d does not match %d", gap.SampleRate, rate)
	}

	total := 0
	for i, p := range parts {
		if p.SampleRate != rate {
			return nil, fmt.Errorf("part %d sample rate %d does not match %d", i, p.SampleRate, rate)
		}
		total += len(p.Samples)
	}
	if gap != nil {
		total += (len(parts) - 1) * len(gap.Samples)
	}

	samples := make([]float32, 0, total)
	for i, p := range parts {
		if i > 0 && gap != nil {
			samples = append(samples, gap.Samples...)
		}
		samples = append(samples, p.Samples...)
	}

	return NewAudioWithSampleRate(samples, rate), nil
}
