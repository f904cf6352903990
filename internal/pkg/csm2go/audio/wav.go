package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func (a *Audio) SaveWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	enc := wav.NewEncoder(f, a.SampleRate, BitsPerSample, NumChannels, 1)
	if err := enc.Write(a.intBuffer()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize wav: %w", err)
	}

	return f.Close()
}

// EncodeWAV returns the waveform as a complete WAV file. The encoder needs a
// seekable sink, so the bytes go through a temp file.
func (a *Audio) EncodeWAV() ([]byte, error) {
	tmp, err := os.CreateTemp("", "csm2go-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := a.SaveWAV(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (a *Audio) intBuffer() *goaudio.IntBuffer {
	data := make([]int, len(a.Samples))
	for i, sample := range a.Samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		data[i] = int(clamped * math.MaxInt16)
	}

	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: NumChannels,
			SampleRate:  a.SampleRate,
		},
		Data:           data,
		SourceBitDepth: BitsPerSample,
	}
}
