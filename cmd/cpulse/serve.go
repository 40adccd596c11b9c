package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/codepulse/codepulse-go/internal/pipeline"
	"github.com/codepulse/codepulse-go/internal/webhook"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the analysis coordinator",
	Long: `Starts the HTTP webhook ingress and the queue coordinator in one
process. Push and review-request deliveries are enqueued durably and
processed in the background with bounded retries.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	runner, cleanup, err := buildRunner(ctx, store)
	if err != nil {
		return err
	}
	defer cleanup()

	coordinator := pipeline.NewCoordinator(store, runner, cfg.Pipeline)

	server := &http.Server{
		Addr:         cfg.Webhook.ListenAddr,
		Handler:      webhook.NewServer(store, cfg.Webhook.Secret).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.Webhook.ListenAddr).Info("Webhook server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := coordinator.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("coordinator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
