package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/internal/observability"
)

func newReplayCmd() *cobra.Command {
	var (
		fingerprint string
		list        bool
		limit       int
		output      string
	)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-ingest a batch from the findings archive",
		Long: `Loads an archived batch by fingerprint and ingests it again, bypassing the
ingestion ledger. Use --list to show the most recent archived batches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if !list && fingerprint == "" {
				return fmt.Errorf("either --fingerprint or --list is required")
			}

			cfg, err := configFromContext(cmd)
			if err != nil {
				return err
			}

			svc, err := openServices(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer svc.Close(context.WithoutCancel(ctx))

			if list {
				batches, err := svc.archive.ListBatches(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FINGERPRINT\tFINDINGS\tARCHIVED")
				for _, b := range batches {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Fingerprint, b.FindingCount, b.ArchivedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			}

			batch, err := svc.archive.GetBatch(ctx, fingerprint)
			if err != nil {
				return err
			}
			logger.Info("Replaying archived batch.", zap.String("fingerprint", fingerprint), zap.Int("findings", len(batch)))

			coordinator, err := svc.coordinator(false, false)
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
			return writeIngestResult(cmd.OutOrStdout(), result, output)
		},
	}

	replayCmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Fingerprint of the archived batch to replay.")
	replayCmd.Flags().BoolVar(&list, "list", false, "List archived batches instead of replaying.")
	replayCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of batches to list.")
	replayCmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: 'text' or 'json'.")
	return replayCmd
}
