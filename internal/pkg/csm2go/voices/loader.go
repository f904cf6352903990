package voices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/engine"
)

const DefaultCacheSize = 32

// Loader turns reference clips into context segments at the engine's native
// rate. Decoded clips are cached by path, size and modification time.
type Loader struct {
	sampleRate int
	cache      *lru.Cache[string, *audio.Audio]
}

func NewLoader(sampleRate, cacheSize int) (*Loader, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *audio.Audio](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference cache: %w", err)
	}
	return &Loader{sampleRate: sampleRate, cache: cache}, nil
}

func (l *Loader) SampleRate() int {
	return l.sampleRate
}

// Load reads audioPath and pairs it with its transcript as speaker's
// reference segment.
func (l *Loader) Load(ctx context.Context, audioPath, transcript string, speaker int) (engine.Segment, error) {
	key, err := l.cacheKey(audioPath)
	if err != nil {
		return engine.Segment{}, err
	}

	clip, ok := l.cache.Get(key)
	if !ok {
		log.Ctx(ctx).Debug().Str("path", audioPath).Int("sample_rate", l.sampleRate).Msg("Loading reference audio")
		clip, err = audio.Load(audioPath, l.sampleRate)
		if err != nil {
			return engine.Segment{}, fmt.Errorf("failed to load reference %s: %w", audioPath, err)
		}
		l.cache.Add(key, clip)
	}

	return engine.Segment{
		Text:    transcript,
		Speaker: speaker,
		Audio:   clip,
	}, nil
}

func (l *Loader) cacheKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat reference: %w", err)
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano()), nil
}
