package voices

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/conversation"
)

func writeClip(t *testing.T, path string, n int) {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	require.NoError(t, audio.NewAudio(samples).SaveWAV(path))
}

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	root := t.TempDir()
	sounds := filepath.Join(root, "sounds")
	prompts := filepath.Join(root, "prompts")
	require.NoError(t, os.MkdirAll(sounds, 0o755))
	require.NoError(t, os.MkdirAll(prompts, 0o755))

	writeClip(t, filepath.Join(sounds, "alice.wav"), 480)
	require.NoError(t, os.WriteFile(filepath.Join(sounds, "alice.txt"), []byte("  hello from alice\n"), 0o644))

	// No transcript: not listed.
	writeClip(t, filepath.Join(sounds, "orphan.wav"), 480)

	writeClip(t, filepath.Join(prompts, "conversational_a.wav"), 240)

	loader, err := NewLoader(audio.SampleRate, 4)
	require.NoError(t, err)
	return NewLibrary(sounds, prompts, loader), root
}

func TestLibraryList(t *testing.T) {
	lib, _ := newTestLibrary(t)

	voices, err := lib.List()
	require.NoError(t, err)
	require.Len(t, voices, 2)

	assert.Equal(t, "alice", voices[0].Name)
	assert.Equal(t, "hello from alice", voices[0].Transcript)
	assert.False(t, voices[0].Builtin)

	assert.Equal(t, "conversational_a", voices[1].Name)
	assert.True(t, voices[1].Builtin)
	assert.Contains(t, voices[1].Transcript, "revising for an exam")
}

func TestLibraryListMissingDirs(t *testing.T) {
	loader, err := NewLoader(audio.SampleRate, 0)
	require.NoError(t, err)
	lib := NewLibrary(filepath.Join(t.TempDir(), "nope"), "", loader)

	voices, err := lib.List()
	require.NoError(t, err)
	assert.Empty(t, voices)
}

func TestLibraryLookup(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, err := lib.Lookup("orphan")
	assert.ErrorIs(t, err, ErrVoiceNotFound)

	_, err = lib.Lookup("conversational_b")
	assert.Error(t, err)

	_, err = lib.Lookup("../alice")
	assert.Error(t, err)

	v, err := lib.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Name)
}

func TestLibraryResolve(t *testing.T) {
	lib, _ := newTestLibrary(t)

	seg, err := lib.Resolve(context.Background(), "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.Speaker)
	assert.Equal(t, "hello from alice", seg.Text)
	assert.Equal(t, 480, seg.Audio.Len())
	assert.Equal(t, audio.SampleRate, seg.Audio.SampleRate)
}

func TestLoaderCaches(t *testing.T) {
	lib, root := newTestLibrary(t)
	path := filepath.Join(root, "sounds", "alice.wav")

	first, err := lib.Loader().Load(context.Background(), path, "a", 0)
	require.NoError(t, err)
	second, err := lib.Loader().Load(context.Background(), path, "b", 1)
	require.NoError(t, err)

	assert.Same(t, first.Audio, second.Audio)
	assert.Equal(t, "b", second.Text)
	assert.Equal(t, 1, second.Speaker)
}

func TestLoaderMissingFile(t *testing.T) {
	loader, err := NewLoader(audio.SampleRate, 1)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), filepath.Join(t.TempDir(), "none.wav"), "x", 0)
	assert.Error(t, err)

	_, err = NewLoader(0, 1)
	assert.Error(t, err)
}

func TestLoadPair(t *testing.T) {
	lib, root := newTestLibrary(t)

	refs, err := lib.LoadPair(context.Background(), [2]Source{
		{Voice: "alice"},
		{AudioPath: filepath.Join(root, "prompts", "conversational_a.wav"), Transcript: "custom text"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, refs[0].Speaker)
	assert.Equal(t, "hello from alice", refs[0].Text)
	assert.Equal(t, 1, refs[1].Speaker)
	assert.Equal(t, "custom text", refs[1].Text)
	assert.Equal(t, 240, refs[1].Audio.Len())
}

func TestLoadPairOverridesTranscript(t *testing.T) {
	lib, _ := newTestLibrary(t)

	refs, err := lib.LoadPair(context.Background(), [2]Source{
		{Voice: "alice", Transcript: "override"},
		{Voice: "conversational_a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "override", refs[0].Text)
	assert.Contains(t, refs[1].Text, "momentum")
}

func TestLoadPairMissing(t *testing.T) {
	lib, root := newTestLibrary(t)

	_, err := lib.LoadPair(context.Background(), [2]Source{{Voice: "alice"}, {}})
	var missing *conversation.MissingReferenceError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Speaker)

	_, err = lib.LoadPair(context.Background(), [2]Source{
		{AudioPath: filepath.Join(root, "sounds", "alice.wav")},
		{Voice: "alice"},
	})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 0, missing.Speaker)
	assert.Equal(t, "transcript", missing.Missing)
}
