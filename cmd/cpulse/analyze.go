package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codepulse/codepulse-go/internal/embedding"
	"github.com/codepulse/codepulse-go/internal/graphstore"
	"github.com/codepulse/codepulse-go/internal/hosting"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/codepulse/codepulse-go/internal/parser"
	"github.com/codepulse/codepulse-go/internal/pipeline"
	"github.com/codepulse/codepulse-go/internal/reviewcache"
	"github.com/codepulse/codepulse-go/internal/storage"
	"github.com/spf13/cobra"
)

var analyzePath string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <owner/name>",
	Short: "Run a full analysis over a repository's history",
	Long: `Walks every branch of the local clone, persists commits and per-file
churn, attributes semantic ownership, recalculates replacement events and
contributor scores, and refreshes the open review-request set.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePath, "path", ".", "path to the local clone")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repoID := args[0]

	owner, name, ok := strings.Cut(repoID, "/")
	if !ok {
		return fmt.Errorf("repository must be given as owner/name, got %q", repoID)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if _, err := store.GetRepository(ctx, repoID); err != nil {
		repo := &models.Repository{
			ID:            repoID,
			Owner:         owner,
			Name:          name,
			FullName:      repoID,
			LocalPath:     analyzePath,
			DefaultBranch: "main",
			Status:        models.RepoStatusPending,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.SaveRepository(ctx, repo); err != nil {
			return fmt.Errorf("register repository: %w", err)
		}
	}

	runner, cleanup, err := buildRunner(ctx, store)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := runner.FullAnalysis(ctx, repoID); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Printf("Analysis complete for %s\n", repoID)
	return nil
}

// buildRunner wires the runner with every optional integration the
// configuration enables. The returned cleanup closes what was opened.
func buildRunner(ctx context.Context, store storage.Store) (*pipeline.Runner, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	parserClient := parser.NewClient(cfg.Parser.URL, cfg.Parser.Timeout)

	gateway, err := embedding.NewGateway(ctx, cfg.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding gateway: %w", err)
	}

	runner := pipeline.NewRunner(cfg, store, parserClient, gateway)

	if cfg.GitHub.Token != "" {
		client := hosting.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
		runner = runner.WithHosting(client, hosting.NewChannelNotifier(cfg.Notify.ChannelURL))
	}

	if cfg.Storage.CachePath != "" {
		cache, err := reviewcache.Open(cfg.Storage.CachePath)
		if err != nil {
			logger.WithError(err).Warn("review cache unavailable, continuing without it")
		} else {
			closers = append(closers, func() { cache.Close() })
			runner = runner.WithReviewCache(cache)
		}
	}

	if cfg.Graph.Enabled {
		mirror, err := graphstore.NewMirror(ctx, cfg.Graph.Neo4jURI, cfg.Graph.Neo4jUser, cfg.Graph.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("graph mirror unavailable, continuing without it")
		} else {
			closers = append(closers, func() { mirror.Close(context.Background()) })
			runner = runner.WithGraphMirror(mirror)
		}
	}

	return runner, cleanup, nil
}
