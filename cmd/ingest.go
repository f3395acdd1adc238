package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/findings"
	"github.com/xkilldash9x/vulngraph/internal/ingest"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

func newIngestCmd() *cobra.Command {
	var (
		filterExpr    string
		noFingerprint bool
		archive       bool
		dryRun        bool
		output        string
	)

	ingestCmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest scanner findings into the vulnerability graph",
		Long: `Loads findings from JSON files (an array or an object with a "findings" array),
builds the base graph, enriches it with heuristic and LLM relationships and writes
the result to the graph store. Use "-" to read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("filter") {
				cfg.SetIngestFilter(filterExpr)
			}
			if noFingerprint {
				cfg.SetIngestFingerprinting(false)
			}
			useArchive := (cfg.Ingest().Archive || archive) && !dryRun

			batch, err := findings.LoadFiles(ctx, args)
			if err != nil {
				return err
			}
			batch, err = applyFilter(batch, cfg.Ingest().Filter, logger)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return ingest.ErrEmptyInput
			}

			svc, err := openServices(ctx, cfg, logger, useArchive)
			if err != nil {
				return err
			}
			defer svc.Close(context.WithoutCancel(ctx))
			if dryRun {
				svc.connector = knowledgegraph.NewInMemoryGraph(logger)
			}

			coordinator, err := svc.coordinator(cfg.Ingest().Fingerprinting, useArchive)
			if err != nil {
				return err
			}

			if timeout := cfg.Ingest().Timeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, err := coordinator.Ingest(ctx, batch)
			if err != nil {
				return err
			}
			if err := writeIngestResult(cmd.OutOrStdout(), result, output); err != nil {
				return err
			}
			if dryRun && output != "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "Dry run: the graph store was not modified.")
			}
			return nil
		},
	}

	ingestCmd.Flags().StringVar(&filterExpr, "filter", "", `CEL expression selecting findings to ingest (e.g. 'finding.vulnerability.severity == "CRITICAL"')`)
	ingestCmd.Flags().BoolVar(&noFingerprint, "no-fingerprint", false, "Ingest even if an identical batch was ingested before.")
	ingestCmd.Flags().BoolVar(&archive, "archive", false, "Archive the batch in Postgres for later replay.")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the full pipeline against an in-memory graph instead of the graph store.")
	ingestCmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: 'text' or 'json'.")
	return ingestCmd
}

// applyFilter narrows batch with a CEL expression. An empty expression keeps
// everything.
func applyFilter(batch []schemas.Finding, expr string, logger *zap.Logger) ([]schemas.Finding, error) {
	if strings.TrimSpace(expr) == "" {
		return batch, nil
	}
	filter, err := findings.NewFilter(expr)
	if err != nil {
		return nil, err
	}
	kept, err := filter.Apply(batch)
	if err != nil {
		return nil, err
	}
	logger.Info("Applied findings filter.",
		zap.String("filter", filter.String()),
		zap.Int("loaded", len(batch)),
		zap.Int("kept", len(kept)))
	return kept, nil
}

func writeIngestResult(w io.Writer, result schemas.IngestResult, format string) error {
	if format == "json" {
		enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Skipped {
		_, err := fmt.Fprintf(w, "Batch %s was already ingested; nothing written.\n", result.Fingerprint)
		return err
	}
	fmt.Fprintf(w, "Ingested %d findings (fingerprint %s)\n", result.FindingCount, result.Fingerprint)
	fmt.Fprintf(w, "  nodes written:        %d\n", result.NodesCreated)
	fmt.Fprintf(w, "  edges written:        %d\n", result.EdgesCreated)
	fmt.Fprintf(w, "  base relationships:   %d\n", result.RelationshipCounts.Base)
	fmt.Fprintf(w, "  agent relationships:  %d\n", result.RelationshipCounts.Agent)
	fmt.Fprintf(w, "  dropped suggestions:  %d\n", result.DroppedSuggestions)
	for _, s := range result.Steps {
		status := "ok"
		if s.Error != "" {
			status = "failed: " + s.Error
		}
		fmt.Fprintf(w, "  step %-24s %s (%s)\n", s.Tool, status, s.Duration)
	}
	return nil
}
