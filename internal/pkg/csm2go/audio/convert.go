package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/mp3"
	"github.com/h2non/filetype"
)

const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// DetectFormat sniffs the container from the file header and falls back to
// the extension when the header is not recognised.
func DetectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read header: %w", err)
	}

	kind, err := filetype.Match(head[:n])
	if err == nil && kind != filetype.Unknown {
		return kind.Extension, nil
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", fmt.Errorf("unrecognised audio format: %s", path)
	}
	return ext, nil
}

// Convert transcodes a non-WAV clip into a mono 16-bit WAV next to the input
// and returns the new path. The source sample rate is kept; resampling is
// left to Load.
func Convert(inputPath string) (string, error) {
	format, err := DetectFormat(inputPath)
	if err != nil {
		return "", err
	}
	if format == FormatWAV {
		return inputPath, nil
	}
	if format != FormatMP3 {
		return "", fmt.Errorf("unsupported audio format %q", format)
	}

	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".wav"
	if fresh(outputPath, inputPath) {
		return outputPath, nil
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}

	streamer, sourceFormat, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("failed to decode mp3: %w", err)
	}
	defer streamer.Close()

	mono, err := decodeMono(streamer, sourceFormat, 0)
	if err != nil {
		return "", err
	}

	if err := mono.SaveWAV(outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// fresh reports whether derived exists and is not older than source.
func fresh(derived, source string) bool {
	d, err := os.Stat(derived)
	if err != nil {
		return false
	}
	s, err := os.Stat(source)
	if err != nil {
		return false
	}
	return !d.ModTime().Before(s.ModTime())
}
