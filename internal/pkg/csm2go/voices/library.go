package voices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"csm2go/internal/pkg/csm2go/engine"
)

var ErrVoiceNotFound = errors.New("voice not found")

// Built-in prompts shipped with the pretrained model.
var builtinPrompts = map[string]string{
	"conversational_a": "like revising for an exam I'd have to try and like keep up the momentum because I'd " +
		"start really early I'd be like okay I'm gonna start revising now",
	"conversational_b": "like a super Mario level. Like it's very like high detail. And like, once you get " +
		"into the park, it just like, everything looks like a computer game",
}

// BuiltinPromptNames lists the prompts fetched by the download command.
func BuiltinPromptNames() []string {
	names := make([]string, 0, len(builtinPrompts))
	for name := range builtinPrompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var audioExts = []string{".wav", ".mp3"}

type Voice struct {
	Name       string
	AudioPath  string
	Transcript string
	Builtin    bool
}

// Library resolves named voices from a sounds directory of
// <name>.wav|.mp3 + <name>.txt pairs and from the built-in prompts.
type Library struct {
	soundsDir  string
	promptsDir string
	loader     *Loader
}

func NewLibrary(soundsDir, promptsDir string, loader *Loader) *Library {
	return &Library{
		soundsDir:  soundsDir,
		promptsDir: promptsDir,
		loader:     loader,
	}
}

func (l *Library) Loader() *Loader {
	return l.loader
}

func (l *Library) List() ([]Voice, error) {
	var voices []Voice

	entries, err := os.ReadDir(l.soundsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read sounds directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !isAudioExt(ext) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, dup := findVoice(voices, name); dup {
			continue
		}
		v, err := l.soundsVoice(name)
		if err != nil {
			continue
		}
		voices = append(voices, v)
	}

	for _, name := range BuiltinPromptNames() {
		if _, dup := findVoice(voices, name); dup {
			continue
		}
		if v, err := l.builtinVoice(name); err == nil {
			voices = append(voices, v)
		}
	}

	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })
	return voices, nil
}

// Lookup prefers a sounds directory pair over a built-in prompt of the same
// name.
func (l *Library) Lookup(name string) (Voice, error) {
	if v, err := l.soundsVoice(name); err == nil {
		return v, nil
	}
	if _, ok := builtinPrompts[name]; ok {
		return l.builtinVoice(name)
	}
	return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
}

func (l *Library) soundsVoice(name string) (Voice, error) {
	if l.soundsDir == "" || name == "" || strings.ContainsAny(name, `/\`) {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}

	var audioPath string
	for _, ext := range audioExts {
		p := filepath.Join(l.soundsDir, name+ext)
		if _, err := os.Stat(p); err == nil {
			audioPath = p
			break
		}
	}
	if audioPath == "" {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}

	content, err := os.ReadFile(filepath.Join(l.soundsDir, name+".txt"))
	if err != nil {
		return Voice{}, fmt.Errorf("failed to read transcript for %s: %w", name, err)
	}

	return Voice{
		Name:       name,
		AudioPath:  audioPath,
		Transcript: strings.TrimSpace(string(content)),
	}, nil
}

func (l *Library) builtinVoice(name string) (Voice, error) {
	text, ok := builtinPrompts[name]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}
	p := filepath.Join(l.promptsDir, name+".wav")
	if _, err := os.Stat(p); err != nil {
		return Voice{}, fmt.Errorf("built-in prompt %s not downloaded (run the download command): %w", name, err)
	}
	return Voice{
		Name:       name,
		AudioPath:  p,
		Transcript: text,
		Builtin:    true,
	}, nil
}

func isAudioExt(ext string) bool {
	for _, e := range audioExts {
		if e == ext {
			return true
		}
	}
	return false
}

func findVoice(voices []Voice, name string) (Voice, bool) {
	for _, v := range voices {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

// Source names a reference either by library voice or by explicit audio
// file and transcript. Explicit fields win over Voice when both are set.
type Source struct {
	Voice      string
	AudioPath  string
	Transcript string
}

func (s Source) empty() bool {
	return s.Voice == "" && s.AudioPath == "" && strings.TrimSpace(s.Transcript) == ""
}

func (l *Library) resolveSource(src Source) (string, string, error) {
	audioPath, transcript := src.AudioPath, src.Transcript
	if src.Voice != "" && (audioPath == "" || strings.TrimSpace(transcript) == "") {
		v, err := l.Lookup(src.Voice)
		if err != nil {
			return "", "", err
		}
		if audioPath == "" {
			audioPath = v.AudioPath
		}
		if strings.TrimSpace(transcript) == "" {
			transcript = v.Transcript
		}
	}
	return audioPath, transcript, nil
}

// Resolve loads a named voice as speaker's reference segment.
func (l *Library) Resolve(ctx context.Context, name string, speaker int) (engine.Segment, error) {
	v, err := l.Lookup(name)
	if err != nil {
		return engine.Segment{}, err
	}
	return l.loader.Load(ctx, v.AudioPath, v.Transcript, speaker)
}
