package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "CodePulse"

	keyringOpenAIItem = "openai-api-key"
	keyringGeminiItem = "gemini-api-key"
	keyringGitHubItem = "github-token"
)

// KeyringManager handles secure credential storage in the OS keychain.
// macOS Keychain, Windows Credential Manager, Linux Secret Service.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager.
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// IsAvailable probes whether an OS keychain backend is usable.
func (km *KeyringManager) IsAvailable() bool {
	probe := "codepulse-keyring-probe"
	if err := keyring.Set(KeyringService, probe, "ok"); err != nil {
		return false
	}
	keyring.Delete(KeyringService, probe)
	return true
}

func (km *KeyringManager) save(item, value string) error {
	if value == "" {
		return fmt.Errorf("credential cannot be empty")
	}
	if err := keyring.Set(KeyringService, item, value); err != nil {
		km.logger.Error("failed to save credential to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("credential saved to keychain", "service", KeyringService, "item", item)
	return nil
}

func (km *KeyringManager) get(item string) (string, error) {
	value, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read OS keychain: %w", err)
	}
	return value, nil
}

// SaveOpenAIKey stores the OpenAI API key in the keychain.
func (km *KeyringManager) SaveOpenAIKey(key string) error { return km.save(keyringOpenAIItem, key) }

// GetOpenAIKey retrieves the OpenAI API key; empty string if absent.
func (km *KeyringManager) GetOpenAIKey() (string, error) { return km.get(keyringOpenAIItem) }

// SaveGeminiKey stores the Gemini API key in the keychain.
func (km *KeyringManager) SaveGeminiKey(key string) error { return km.save(keyringGeminiItem, key) }

// GetGeminiKey retrieves the Gemini API key; empty string if absent.
func (km *KeyringManager) GetGeminiKey() (string, error) { return km.get(keyringGeminiItem) }

// SaveGitHubToken stores the hosting-platform token in the keychain.
func (km *KeyringManager) SaveGitHubToken(token string) error {
	return km.save(keyringGitHubItem, token)
}

// GetGitHubToken retrieves the hosting-platform token; empty string if absent.
func (km *KeyringManager) GetGitHubToken() (string, error) { return km.get(keyringGitHubItem) }

// DeleteAll removes every CodePulse credential from the keychain.
func (km *KeyringManager) DeleteAll() {
	for _, item := range []string{keyringOpenAIItem, keyringGeminiItem, keyringGitHubItem} {
		if err := keyring.Delete(KeyringService, item); err != nil && err != keyring.ErrNotFound {
			km.logger.Warn("failed to delete credential", "item", item, "error", err)
		}
	}
}
