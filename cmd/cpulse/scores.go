package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/codepulse/codepulse-go/internal/replacement"
	"github.com/spf13/cobra"
)

var (
	scoresWindowDays int
	scoresJSON       bool
)

var scoresCmd = &cobra.Command{
	Use:   "scores <owner/name>",
	Short: "Show decay-weighted contributor instability scores",
	Long: `Aggregates replacement events into per-contributor scores. Recent events
weigh more than old ones, and scores are normalized by commit volume so
prolific contributors are not penalized for activity alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runScores,
}

func init() {
	scoresCmd.Flags().IntVar(&scoresWindowDays, "window", 365, "event window in days")
	scoresCmd.Flags().BoolVar(&scoresJSON, "json", false, "emit scores as JSON")
}

func runScores(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repoID := args[0]

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	aggregator := replacement.NewAggregator(store)
	window := time.Duration(scoresWindowDays) * 24 * time.Hour
	scores, err := aggregator.Scores(ctx, repoID, window)
	if err != nil {
		return fmt.Errorf("aggregate scores: %w", err)
	}

	if scoresJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scores)
	}

	if len(scores) == 0 {
		fmt.Printf("No replacement events for %s in the last %d days.\n", repoID, scoresWindowDays)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AUTHOR\tSCORE\tRAW\tEVENTS\tCOMMITS")
	for _, s := range scores {
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%d\t%d\n", s.AuthorEmail, s.NormalizedScore, s.RawScore, s.EventCount, s.TotalCommits)
	}
	return w.Flush()
}
