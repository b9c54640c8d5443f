package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// StoreAPIKey saves key for provider in the OS keyring.
func StoreAPIKey(provider, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("api key cannot be empty")
	}
	if err := keyring.Set(AppName, provider, key); err != nil {
		return fmt.Errorf("failed to store api key in keyring: %w", err)
	}
	return nil
}

// LookupAPIKey returns the stored key for provider, or "" when none is stored.
func LookupAPIKey(provider string) (string, error) {
	key, err := keyring.Get(AppName, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read api key from keyring: %w", err)
	}
	return key, nil
}

// DeleteAPIKey removes the stored key for provider. A missing key is not an error.
func DeleteAPIKey(provider string) error {
	if err := keyring.Delete(AppName, provider); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete api key from keyring: %w", err)
	}
	return nil
}

func (c *Config) resolveSecrets() error {
	if c.LLM.APIKey == "" && c.LLM.Provider != "bedrock" && c.LLM.Provider != "noop" {
		key, err := LookupAPIKey(c.LLM.Provider)
		if err != nil {
			return err
		}
		c.LLM.APIKey = key
	}

	if c.Embedding.APIKey == "" && c.Embedding.Provider == "openai" {
		if c.LLM.Provider == "openai" && c.LLM.APIKey != "" {
			c.Embedding.APIKey = c.LLM.APIKey
			return nil
		}
		key, err := LookupAPIKey("openai")
		if err != nil {
			return err
		}
		c.Embedding.APIKey = key
	}
	return nil
}
