package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint      = "https://huggingface.co"
	DefaultModelRepo     = "sesame/csm-1b"
	DefaultTokenizerRepo = "meta-llama/Llama-3.2-1B"

	downloadSuffix = ".download"
	whoamiTimeout  = 15 * time.Second
)

var ErrUnauthorized = errors.New("hugging face token rejected")

// Client talks to a Hugging Face compatible hub.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewClient(endpoint, token string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{},
	}
}

type whoamiResponse struct {
	Name string `json:"name"`
}

// WhoAmI verifies the token and returns the account name.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, whoamiTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.endpoint+"/api/whoami-v2")
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whoami failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var who whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		return "", fmt.Errorf("failed to decode whoami response: %w", err)
	}
	return who.Name, nil
}

// Download fetches repo/file into dest unless dest already exists. It returns
// true when a file was written.
func (c *Client) Download(ctx context.Context, repo, file, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		log.Ctx(ctx).Debug().Str("path", dest).Msg("Already present, skipping")
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	req, err := c.newRequest(ctx, c.resolveURL(repo, file))
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to download %s/%s: %w", repo, file, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Errorf("failed to download %s/%s: %w", repo, file, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("download of %s/%s failed: HTTP %d %s", repo, file, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	tmpPath := dest + downloadSuffix
	if err := os.RemoveAll(tmpPath); err != nil {
		return false, err
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to write %s: %w", tmpPath, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return false, closeErr
	}
	if n <= 0 {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("downloaded empty payload for %s/%s", repo, file)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to move %s into place: %w", dest, err)
	}

	log.Ctx(ctx).Info().Str("path", dest).Int64("bytes", n).Msg("Downloaded")
	return true, nil
}

func (c *Client) resolveURL(repo, file string) string {
	parts := strings.Split(file, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.endpoint, repo, strings.Join(parts, "/"))
}

func (c *Client) newRequest(ctx context.Context, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
