package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testToken = "hf_test"

func newHubServer(t *testing.T, files map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := new(atomic.Int32)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/whoami-v2", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"tester"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hits
}

type memKeychain struct {
	token  string
	getErr error
	sets   int
}

func (m *memKeychain) Get() (string, error) { return m.token, m.getErr }

func (m *memKeychain) Set(token string) error {
	m.token = token
	m.sets++
	return nil
}

func TestWhoAmI(t *testing.T) {
	srv, _ := newHubServer(t, nil)

	user, err := NewClient(srv.URL, testToken).WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester", user)

	_, err = NewClient(srv.URL, "bad").WhoAmI(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDownloadWritesAndSkips(t *testing.T) {
	srv, hits := newHubServer(t, map[string]string{
		"/sesame/csm-1b/resolve/main/prompts/conversational_a.wav": "RIFF",
	})
	client := NewClient(srv.URL, testToken)
	dest := filepath.Join(t.TempDir(), "prompts", "conversational_a.wav")

	wrote, err := client.Download(context.Background(), "sesame/csm-1b", "prompts/conversational_a.wav", dest)
	require.NoError(t, err)
	assert.True(t, wrote)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))
	assert.NoFileExists(t, dest+downloadSuffix)

	wrote, err = client.Download(context.Background(), "sesame/csm-1b", "prompts/conversational_a.wav", dest)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadFailureLeavesNoFile(t *testing.T) {
	srv, _ := newHubServer(t, nil)
	dest := filepath.Join(t.TempDir(), "model.safetensors")

	_, err := NewClient(srv.URL, testToken).Download(context.Background(), "sesame/csm-1b", "model.safetensors", dest)
	require.Error(t, err)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+downloadSuffix)
}

func TestDownloadUnauthorized(t *testing.T) {
	srv, _ := newHubServer(t, map[string]string{"/r/resolve/main/f": "x"})
	dest := filepath.Join(t.TempDir(), "f")

	_, err := NewClient(srv.URL, "bad").Download(context.Background(), "r", "f", dest)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestManifest(t *testing.T) {
	files := Manifest(Layout{ModelsDir: "models", PromptsDir: "prompts"})

	require.Len(t, files, 5)
	assert.Equal(t, File{Repo: DefaultModelRepo, Path: "model.safetensors", Dest: filepath.Join("models", "model.safetensors")}, files[0])
	assert.Equal(t, filepath.Join("prompts", "conversational_b.wav"), files[2].Dest)
	assert.Equal(t, DefaultTokenizerRepo, files[3].Repo)
	assert.Equal(t, filepath.Join("models", "tokenizer", "tokenizer_config.json"), files[4].Dest)
}

func TestFetchCountsSkipped(t *testing.T) {
	srv, _ := newHubServer(t, map[string]string{
		"/r/resolve/main/a": "aaa",
		"/r/resolve/main/b": "bbb",
	})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("old"), 0o644))

	res, err := NewClient(srv.URL, testToken).Fetch(context.Background(), []File{
		{Repo: "r", Path: "a", Dest: filepath.Join(dir, "a")},
		{Repo: "r", Path: "b", Dest: filepath.Join(dir, "b")},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Downloaded: 1, Skipped: 1}, res)
}

func TestAuthenticateOrder(t *testing.T) {
	srv, _ := newHubServer(t, nil)
	ctx := context.Background()

	t.Run("explicit token is stored", func(t *testing.T) {
		keys := &memKeychain{}
		_, user, err := Authenticate(ctx, srv.URL, testToken, keys, nil)
		require.NoError(t, err)
		assert.Equal(t, "tester", user)
		assert.Equal(t, testToken, keys.token)
	})

	t.Run("keychain token is not rewritten", func(t *testing.T) {
		keys := &memKeychain{token: testToken}
		prompted := false
		_, _, err := Authenticate(ctx, srv.URL, "", keys, func() (string, error) {
			prompted = true
			return "", nil
		})
		require.NoError(t, err)
		assert.False(t, prompted)
		assert.Zero(t, keys.sets)
	})

	t.Run("prompt when nothing stored", func(t *testing.T) {
		keys := &memKeychain{getErr: errors.New("locked")}
		_, _, err := Authenticate(ctx, srv.URL, "", keys, func() (string, error) {
			return " " + testToken + " ", nil
		})
		require.NoError(t, err)
		assert.Equal(t, testToken, keys.token)
	})

	t.Run("no token", func(t *testing.T) {
		_, _, err := Authenticate(ctx, srv.URL, "", &memKeychain{}, func() (string, error) { return "", nil })
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("rejected token", func(t *testing.T) {
		keys := &memKeychain{}
		_, _, err := Authenticate(ctx, srv.URL, "bad", keys, nil)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, keys.token)
	})
}

func TestTokenStore(t *testing.T) {
	keyring.MockInit()
	store := NewTokenStore()

	token, err := store.Get()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Set(" hf_abc\n"))
	token, err = store.Get()
	require.NoError(t, err)
	assert.Equal(t, "hf_abc", token)

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
}
