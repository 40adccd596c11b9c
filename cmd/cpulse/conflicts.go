package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/codepulse/codepulse-go/internal/conflict"
	"github.com/spf13/cobra"
)

var conflictsJSON bool

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <owner/name> <file>...",
	Short: "Assess conflict risk of a change set against open review requests",
	Long: `Scores the given changed files against every open review request of the
repository. Structural overlap counts shared paths, semantic overlap compares
the latest embeddings of the remaining files.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConflicts,
}

func init() {
	conflictsCmd.Flags().BoolVar(&conflictsJSON, "json", false, "emit the assessment as JSON")
}

func runConflicts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repoID := args[0]
	changed := args[1:]

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	engine := conflict.NewEngine(cfg.Conflict, store)
	assessment, err := engine.Assess(ctx, repoID, changed)
	if err != nil {
		return fmt.Errorf("assess conflicts: %w", err)
	}

	if conflictsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(assessment)
	}

	fmt.Printf("Conflict risk for %s: %.2f\n", repoID, assessment.RiskScore)
	if len(assessment.Requests) == 0 {
		fmt.Println("No open review requests.")
		return nil
	}
	for _, req := range assessment.Requests {
		marker := " "
		if req.Conflicting {
			marker = "!"
		}
		fmt.Printf("%s #%-5d risk=%.2f structural=%.2f semantic=%.2f", marker, req.Number, req.Risk, req.StructuralOverlap, req.SemanticOverlap)
		if len(req.OverlappingFiles) > 0 {
			fmt.Printf("  overlaps: %s", strings.Join(req.OverlappingFiles, ", "))
		}
		fmt.Println()
	}
	if assessment.RiskScore >= cfg.Conflict.BlockThreshold {
		fmt.Println("\nRisk exceeds the block threshold; merging is discouraged.")
	}
	return nil
}
