package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/enrich"
	"github.com/roach88/camino/internal/store"
	"github.com/roach88/camino/internal/synth"
)

// EnhanceOptions holds flags for the enhance command.
type EnhanceOptions struct {
	*RootOptions
	Database string

	// Synthesizer allows overriding the strategic synthesizer (for testing).
	Synthesizer synth.Synthesizer
}

// NewEnhanceCommand creates the enhance command.
func NewEnhanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnhanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enhance <journey>",
		Short: "Run knowledge synthesis for one journey",
		Long: `Run the synthesis pipeline for a journey synchronously, bypassing the queue.

Safe to re-run: an unchanged journey proposes the same values and the merge
drops them all as no-ops. Useful after fixing a playbook mapping or when the
strategic synthesizer was down during the queued run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnhance(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEnhance(opts *EnhanceOptions, journeyID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	synthesizer := opts.Synthesizer
	if synthesizer == nil {
		if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
			gemini, geminiErr := synth.NewGemini(ctx, apiKey)
			if geminiErr != nil {
				return WrapExitError(ExitCommandError, "failed to build synthesizer", geminiErr)
			}
			synthesizer = gemini
		}
	}

	pipeline := enrich.NewPipeline(st, synthesizer)
	report, err := pipeline.Enhance(ctx, journeyID)
	if err != nil {
		if store.IsNotFound(err) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "enhance failed", err)
		}
		return WrapExitError(ExitFailure, "enhance failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "✓ Enhanced journey %s (org %s, knowledge version %d)\n",
		report.JourneyID, report.OrgID, report.Version)
	for _, m := range report.Merged {
		fmt.Fprintf(formatter.Writer, "  merged %s (%s)\n", m.Key, m.Layer)
	}
	if formatter.Verbose {
		for _, d := range report.Dropped {
			fmt.Fprintf(formatter.Writer, "  dropped %s (%s): %s\n", d.Key, d.Layer, d.Reason)
		}
	}
	if report.Partial {
		fmt.Fprintln(formatter.Writer, "  strategic layer skipped: synthesizer unavailable")
	}
	if report.RetryScheduled {
		fmt.Fprintln(formatter.Writer, "  strategic retry scheduled")
	}
	return nil
}
