package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoToken = errors.New("no hugging face token provided")

// Keychain is the subset of TokenStore used when resolving a token.
type Keychain interface {
	Get() (string, error)
	Set(token string) error
}

// PromptFunc asks the user for a token.
type PromptFunc func() (string, error)

// Authenticate picks a token from the explicit value, the keychain or the
// prompt, in that order, verifies it against the hub and stores it in the
// keychain. It returns a client carrying the verified token.
func Authenticate(ctx context.Context, endpoint, explicit string, keys Keychain, prompt PromptFunc) (*Client, string, error) {
	token, source := strings.TrimSpace(explicit), "config"

	if token == "" && keys != nil {
		stored, err := keys.Get()
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Keychain unavailable")
		}
		token, source = stored, "keychain"
	}

	if token == "" && prompt != nil {
		entered, err := prompt()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read token: %w", err)
		}
		token, source = strings.TrimSpace(entered), "prompt"
	}

	if token == "" {
		return nil, "", ErrNoToken
	}

	client := NewClient(endpoint, token)
	user, err := client.WhoAmI(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to authenticate with token from %s: %w", source, err)
	}

	if keys != nil && source != "keychain" {
		if err := keys.Set(token); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Could not save token to keychain")
		}
	}

	log.Ctx(ctx).Info().Str("user", user).Str("source", source).Msg("Authenticated with Hugging Face")
	return client, user, nil
}
