package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/store"
)

// NewJobsCommand creates the jobs command group.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and replay enrichment jobs",
	}

	cmd.AddCommand(newJobsListCommand(rootOpts))
	cmd.AddCommand(newJobsReplayCommand(rootOpts))

	return cmd
}

// JobView is one queue row as rendered by the CLI.
type JobView struct {
	Seq        int64  `json:"seq"`
	JourneyID  string `json:"journey_id"`
	OrgID      string `json:"org_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	DeadReason string `json:"dead_letter_reason,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
}

func jobView(job *store.Job) JobView {
	return JobView{
		Seq:        job.Seq,
		JourneyID:  job.JourneyID,
		OrgID:      job.OrgID,
		Kind:       string(job.Kind),
		Status:     string(job.Status),
		Attempts:   job.Attempts,
		LastError:  job.LastError,
		DeadReason: job.DeadLetterReason,
		EnqueuedAt: job.EnqueuedAt.Format(time.RFC3339),
	}
}

func newJobsListCommand(rootOpts *RootOptions) *cobra.Command {
	var database string
	var deadOnly bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List enrichment jobs in queue order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(database)
			if err != nil {
				return err
			}
			defer st.Close()

			var status store.JobStatus
			if deadOnly {
				status = store.JobDead
			}
			jobs, err := st.Jobs().List(cmd.Context(), status)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list jobs", err)
			}

			if formatter.Format == "json" {
				views := make([]JobView, 0, len(jobs))
				for i := range jobs {
					views = append(views, jobView(&jobs[i]))
				}
				return formatter.Success(views)
			}

			if len(jobs) == 0 {
				fmt.Fprintln(formatter.Writer, "No jobs.")
				return nil
			}
			for i := range jobs {
				v := jobView(&jobs[i])
				fmt.Fprintf(formatter.Writer, "%d  %s/%s  %s  attempts=%d", v.Seq, v.JourneyID, v.Kind, v.Status, v.Attempts)
				if v.Status == string(store.JobDead) && v.DeadReason != "" {
					fmt.Fprintf(formatter.Writer, "  reason=%q", v.DeadReason)
				} else if v.LastError != "" {
					fmt.Fprintf(formatter.Writer, "  last_error=%q", v.LastError)
				}
				fmt.Fprintln(formatter.Writer)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&deadOnly, "dead", false, "show only dead-lettered jobs")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func newJobsReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "replay <journey>",
		Short: "Requeue a dead-lettered job",
		Long: `Return a journey's dead-lettered enrichment job to pending with a fresh
attempt budget. The next worker pass picks it up in normal queue order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(database)
			if err != nil {
				return err
			}
			defer st.Close()

			revived, err := st.Jobs().Replay(cmd.Context(), args[0], time.Now().UTC())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to replay job", err)
			}
			if !revived {
				msg := fmt.Sprintf("journey %s has no dead-lettered job", args[0])
				_ = formatter.Error(ErrCodeGeneric, msg, nil)
				return NewExitError(ExitFailure, msg)
			}

			if formatter.Format == "json" {
				return formatter.Success(map[string]any{"journey_id": args[0], "status": "pending"})
			}
			fmt.Fprintf(formatter.Writer, "✓ Requeued enrichment for journey %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
