package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through CodePulse configuration step by step.

This will configure:
1. GitHub access token (stored in OS keychain when available)
2. Embedding provider and API key
3. Backing store (SQLite or Postgres)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("CodePulse configuration")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".codepulse", "config.yaml")
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		loaded = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("OS keychain not available; secrets will be written to the config file.")
		fmt.Println()
	}

	// Step 1: GitHub token.
	fmt.Println("Step 1/3: GitHub access token")
	if loaded.GitHub.Token != "" {
		fmt.Println("A token is already configured; press Enter to keep it.")
	}
	fmt.Print("Token: ")
	line, _ := reader.ReadString('\n')
	if token := strings.TrimSpace(line); token != "" {
		if keychainAvailable {
			if err := km.SaveGitHubToken(token); err != nil {
				fmt.Printf("Keychain save failed (%v), writing to config file.\n", err)
				loaded.GitHub.Token = token
			} else {
				fmt.Println("Token saved to OS keychain.")
				loaded.GitHub.Token = ""
			}
		} else {
			loaded.GitHub.Token = token
		}
	}
	fmt.Println()

	// Step 2: embedding provider.
	fmt.Println("Step 2/3: Embedding provider")
	fmt.Println("  1. openai (text-embedding-3-small)")
	fmt.Println("  2. gemini (gemini-embedding-001)")
	fmt.Printf("Current: %s\n", loaded.Embedding.Provider)
	fmt.Print("Select provider (1-2) or press Enter to keep current: ")
	line, _ = reader.ReadString('\n')
	switch strings.TrimSpace(line) {
	case "1":
		loaded.Embedding.Provider = "openai"
	case "2":
		loaded.Embedding.Provider = "gemini"
	}

	fmt.Printf("API key for %s (press Enter to skip): ", loaded.Embedding.Provider)
	line, _ = reader.ReadString('\n')
	if key := strings.TrimSpace(line); key != "" {
		save := km.SaveOpenAIKey
		if loaded.Embedding.Provider == "gemini" {
			save = km.SaveGeminiKey
		}
		if keychainAvailable {
			if err := save(key); err != nil {
				fmt.Printf("Keychain save failed (%v), writing to config file.\n", err)
				setEmbeddingKey(loaded, key)
			} else {
				fmt.Println("API key saved to OS keychain.")
			}
		} else {
			setEmbeddingKey(loaded, key)
		}
	}
	fmt.Println()

	// Step 3: storage backend.
	fmt.Println("Step 3/3: Backing store")
	fmt.Println("  1. sqlite (local, zero setup)")
	fmt.Println("  2. postgres")
	fmt.Printf("Current: %s\n", loaded.Storage.Type)
	fmt.Print("Select store (1-2) or press Enter to keep current: ")
	line, _ = reader.ReadString('\n')
	switch strings.TrimSpace(line) {
	case "1":
		loaded.Storage.Type = "sqlite"
	case "2":
		loaded.Storage.Type = "postgres"
		fmt.Print("Postgres DSN: ")
		line, _ = reader.ReadString('\n')
		if dsn := strings.TrimSpace(line); dsn != "" {
			loaded.Storage.PostgresDSN = dsn
		}
	}
	fmt.Println()

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if err := loaded.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("Configuration saved to %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  cpulse analyze <owner/name> --path /path/to/clone")
	fmt.Println("  cpulse serve")
	return nil
}

func setEmbeddingKey(cfg *config.Config, key string) {
	if cfg.Embedding.Provider == "gemini" {
		cfg.Embedding.GeminiKey = key
		return
	}
	cfg.Embedding.OpenAIKey = key
}
