package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/enrich"
	"github.com/roach88/camino/internal/synth"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Workers  int

	// Synthesizer allows overriding the strategic synthesizer (for testing).
	// If nil, a Gemini client is built from GEMINI_API_KEY; without the key
	// the worker runs with the strategic layer disabled.
	Synthesizer synth.Synthesizer
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the enrichment worker loop",
		Long: `Run the enrichment worker loop against a SQLite database.

Workers lease queued jobs with per-organization mutual exclusion, run the
synthesis pipeline, and retry failures with exponential backoff until the
attempt budget dead-letters them. The strategic layer uses Gemini when
GEMINI_API_KEY is set; otherwise only the deterministic layers run.

Example:
  camino run --db ./camino.db
  camino run --db ./camino.db --workers 4 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of worker goroutines (default 2)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runWorkers(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	slog.Info("opening database", "path", opts.Database)
	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	synthesizer := opts.Synthesizer
	if synthesizer == nil {
		if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
			gemini, geminiErr := synth.NewGemini(ctx, apiKey)
			if geminiErr != nil {
				return WrapExitError(ExitCommandError, "failed to build synthesizer", geminiErr)
			}
			synthesizer = gemini
			slog.Info("strategic synthesizer enabled", "model", synth.DefaultGeminiModel)
		} else {
			slog.Warn("GEMINI_API_KEY not set, strategic layer disabled")
		}
	}

	pipeline := enrich.NewPipeline(st, synthesizer)
	var workerOpts []enrich.WorkerOption
	if opts.Workers > 0 {
		workerOpts = append(workerOpts, enrich.WithWorkers(opts.Workers))
	}
	worker := enrich.NewWorker(st, pipeline, workerOpts...)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("worker starting", "db", opts.Database)
	fmt.Fprintln(cmd.OutOrStdout(), "Enrichment worker started. Waiting for jobs...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := worker.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "worker error", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
