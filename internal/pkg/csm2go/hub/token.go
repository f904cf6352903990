package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringServiceName = "csm2go"
	keyringUser        = "huggingface"
)

// TokenStore keeps the Hugging Face access token in the OS keychain.
type TokenStore struct {
	service string
	user    string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{service: keyringServiceName, user: keyringUser}
}

// Get returns the stored token, or "" when none is stored.
func (s *TokenStore) Get() (string, error) {
	token, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from keychain: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (s *TokenStore) Set(token string) error {
	if err := keyring.Set(s.service, s.user, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete() error {
	err := keyring.Delete(s.service, s.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keychain: %w", err)
	}
	return nil
}
