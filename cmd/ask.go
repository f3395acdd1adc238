package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/vulngraph/internal/analysis"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

func newAskCmd() *cobra.Command {
	var asJSON bool

	askCmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a question about the stored vulnerability graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(cmd)
			if err != nil {
				return err
			}

			svc, err := openServices(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer svc.Close(context.WithoutCancel(ctx))

			session, err := svc.connector.Session(ctx)
			if err != nil {
				return fmt.Errorf("failed to open graph session: %w", err)
			}
			defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

			analyst, err := svc.analyst()
			if err != nil {
				return err
			}
			report, err := analyst.Ask(ctx, knowledgegraph.NewRepository(session, logger), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	askCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON.")
	return askCmd
}

type reportView struct {
	Question  string                   `json:"question"`
	Answer    string                   `json:"answer"`
	Citations []string                 `json:"citations"`
	Generated bool                     `json:"generated"`
	Ranked    []analysis.RankedFinding `json:"ranked"`
	Digest    []string                 `json:"relationships"`
}

func writeReport(w io.Writer, report analysis.Report, asJSON bool) error {
	if asJSON {
		enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reportView{
			Question:  report.Question,
			Answer:    report.Answer.Text,
			Citations: report.Answer.Citations,
			Generated: report.Answer.Generated,
			Ranked:    report.Ranked,
			Digest:    report.Digest,
		})
	}

	fmt.Fprintln(w, report.Answer.Text)
	if len(report.Answer.Citations) > 0 {
		fmt.Fprintf(w, "\nSources: %s\n", strings.Join(report.Answer.Citations, ", "))
	}
	return nil
}
