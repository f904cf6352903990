package audio

import (
	"fmt"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

const resampleQuality = 4

// Load reads a reference clip, converting it to WAV first when it is in
// another container, then downmixes to mono and resamples to targetRate.
func Load(path string, targetRate int) (*Audio, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	if format != FormatWAV {
		converted, err := Convert(path)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
		path = converted
	}

	return LoadWAV(path, targetRate)
}

// LoadWAV decodes a WAV file into a mono waveform at targetRate. A
// targetRate of zero keeps the file's own rate.
func LoadWAV(path string, targetRate int) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	defer streamer.Close()

	return decodeMono(streamer, format, targetRate)
}

func decodeMono(s beep.Streamer, format beep.Format, targetRate int) (*Audio, error) {
	sourceRate := int(format.SampleRate)
	if targetRate <= 0 {
		targetRate = sourceRate
	}

	var src beep.Streamer = s
	if sourceRate != targetRate {
		src = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(targetRate), s)
	}

	frames, err := readAll(src)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("audio contains no samples")
	}

	return NewAudioWithSampleRate(Downmix(frames), targetRate), nil
}

// Downmix averages both channels of each frame. beep decoders duplicate mono
// input into both channels, so mono sources pass through unchanged.
func Downmix(frames [][2]float64) []float32 {
	mono := make([]float32, len(frames))
	for i, f := range frames {
		mono[i] = float32((f[0] + f[1]) / 2)
	}
	return mono
}

func readAll(s beep.Streamer) ([][2]float64, error) {
	var frames [][2]float64
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	return frames, nil
}
