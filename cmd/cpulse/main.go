package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cpulse",
	Short: "CodePulse - semantic ownership and conflict-risk analysis for git history",
	Long: `CodePulse ingests commit history, attributes semantic ownership of code
to contributors via embedding deltas, detects destabilizing replacement
events, and assesses conflict risk against open review requests.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		if err := logging.Initialize(logging.Config{Level: slogLevel(verbose)}); err != nil {
			fmt.Fprintf(os.Stderr, "logging init: %v\n", err)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .codepulse/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`CodePulse {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(scoresCmd)
	rootCmd.AddCommand(configureCmd)
}

// slogLevel maps the verbosity flag onto the slog handler level.
func slogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openStore opens the configured backing store.
func openStore() (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
	case "sqlite", "":
		return storage.NewSQLiteStore(cfg.Storage.LocalPath, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
