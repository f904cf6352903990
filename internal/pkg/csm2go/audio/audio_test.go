package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n, rate int, amp float32) *Audio {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return NewAudioWithSampleRate(samples, rate)
}

func TestSilence(t *testing.T) {
	s := Silence(500, 24000)
	assert.Equal(t, 12000, s.Len())
	assert.Equal(t, 24000, s.SampleRate)
	for _, v := range s.Samples {
		require.Zero(t, v)
	}

	assert.Equal(t, 0, Silence(0, 24000).Len())
	assert.Equal(t, 0, Silence(-10, 24000).Len())
}

func TestConcatInsertsGapBetweenParts(t *testing.T) {
	a := NewAudioWithSampleRate([]float32{1, 1}, 10)
	b := NewAudioWithSampleRate([]float32{2}, 10)
	c := NewAudioWithSampleRate([]float32{3, 3, 3}, 10)
	gap := NewAudioWithSampleRate([]float32{0, 0}, 10)

	out, err := Concat([]*Audio{a, b, c}, gap)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0, 0, 2, 0, 0, 3, 3, 3}, out.Samples)
	assert.Equal(t, 10, out.SampleRate)
}

func TestConcatSinglePartHasNoGap(t *testing.T) {
	a := NewAudioWithSampleRate([]float32{0.5, -0.5}, 10)
	out, err := Concat([]*Audio{a}, Silence(1000, 10))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, out.Samples)
}

func TestConcatRejectsMismatchedRates(t *testing.T) {
	a := NewAudioWithSampleRate([]float32{1}, 10)
	b := NewAudioWithSampleRate([]float32{1}, 20)

	_, err := Concat([]*Audio{a, b}, nil)
	assert.Error(t, err)

	_, err = Concat([]*Audio{a}, Silence(100, 20))
	assert.Error(t, err)

	_, err = Concat(nil, nil)
	assert.Error(t, err)
}

func TestSaveAndLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := tone(2400, SampleRate, 0.5)
	require.NoError(t, in.SaveWAV(path))

	out, err := LoadWAV(path, SampleRate)
	require.NoError(t, err)
	require.Equal(t, in.Len(), out.Len())
	assert.Equal(t, SampleRate, out.SampleRate)
	for i := range in.Samples {
		require.InDelta(t, in.Samples[i], out.Samples[i], 1e-3)
	}
}

func TestLoadResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hi.wav")
	require.NoError(t, tone(48000, 48000, 0.3).SaveWAV(path))

	out, err := Load(path, 24000)
	require.NoError(t, err)
	assert.Equal(t, 24000, out.SampleRate)
	assert.InDelta(t, 24000, out.Len(), 16)
}

func TestEncodeWAV(t *testing.T) {
	data, err := tone(100, SampleRate, 0.1).EncodeWAV()
	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()

	wavPath := filepath.Join(dir, "clip.bin")
	require.NoError(t, tone(100, SampleRate, 0.1).SaveWAV(wavPath))
	format, err := DetectFormat(wavPath)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, format)

	mp3Path := filepath.Join(dir, "clip.MP3")
	require.NoError(t, os.WriteFile(mp3Path, []byte("not really audio"), 0o644))
	format, err = DetectFormat(mp3Path)
	require.NoError(t, err)
	assert.Equal(t, FormatMP3, format)

	noExt := filepath.Join(dir, "clip")
	require.NoError(t, os.WriteFile(noExt, []byte("junk"), 0o644))
	_, err = DetectFormat(noExt)
	assert.Error(t, err)
}

func TestConvertPassesWAVThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, tone(100, SampleRate, 0.1).SaveWAV(path))

	out, err := Convert(path)
	require.NoError(t, err)
	assert.Equal(t, path, out)
}

func TestDownmix(t *testing.T) {
	mono := Downmix([][2]float64{{1, 0}, {0.5, 0.5}, {-1, -1}})
	assert.Equal(t, []float32{0.5, 0.5, -1}, mono)
}
