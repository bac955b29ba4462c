package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/store"
)

// NewJourneyCommand creates the journey command group.
func NewJourneyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journey",
		Short: "Start and drive guided journeys",
	}

	cmd.AddCommand(newJourneyStartCommand(rootOpts))
	cmd.AddCommand(newJourneyStepCommand(rootOpts))
	cmd.AddCommand(newJourneyTransitionCommand(rootOpts, "pause", "Pause an in-progress journey"))
	cmd.AddCommand(newJourneyTransitionCommand(rootOpts, "resume", "Resume a paused journey"))
	cmd.AddCommand(newJourneyTransitionCommand(rootOpts, "reset", "Reset a journey to its first step"))
	cmd.AddCommand(newJourneyShowCommand(rootOpts))

	return cmd
}

// JourneyView is the serialized journey state for CLI output.
type JourneyView struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"owner_id"`
	OrgID           string  `json:"org_id"`
	PlaybookID      string  `json:"playbook_id"`
	PlaybookVersion int     `json:"playbook_version"`
	Status          string  `json:"status"`
	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	Progress        float64 `json:"progress"`
	Responses       int     `json:"responses"`
	StartedAt       string  `json:"started_at"`
	CompletedAt     string  `json:"completed_at,omitempty"`
}

func journeyView(j *journey.Journey) JourneyView {
	view := JourneyView{
		ID:              j.ID,
		OwnerID:         j.OwnerID,
		OrgID:           j.OrgID,
		PlaybookID:      j.PlaybookID,
		PlaybookVersion: j.PlaybookVersion,
		Status:          string(j.Status),
		CurrentStep:     j.CurrentStep,
		TotalSteps:      j.TotalSteps,
		Progress:        j.Progress(),
		Responses:       len(j.Responses),
		StartedAt:       j.StartedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		view.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return view
}

// newEngine wires the journey engine onto an open store.
func newEngine(st *store.Store) *journey.Engine {
	return journey.NewEngine(st.Templates(), st.Journeys(), st.Jobs())
}

// journeyError maps domain errors to exit codes: state-machine and payload
// rejections are operation failures (1), unknown IDs and infrastructure
// problems are command errors (2).
func journeyError(formatter *OutputFormatter, op string, err error) error {
	var stateErr *journey.StateError
	if errors.As(err, &stateErr) {
		_ = formatter.Error(ErrCodeGeneric, stateErr.Error(), nil)
		return WrapExitError(ExitFailure, op+" rejected", err)
	}
	var payloadErr *playbook.PayloadError
	if errors.As(err, &payloadErr) {
		_ = formatter.Error(ErrCodeGeneric, payloadErr.Error(), nil)
		return WrapExitError(ExitFailure, op+" rejected", err)
	}
	if store.IsNotFound(err) {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, op+" failed", err)
	}
	return WrapExitError(ExitCommandError, op+" failed", err)
}

func newJourneyStartCommand(rootOpts *RootOptions) *cobra.Command {
	var database, owner, org, playbookID string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a journey for an owner on a playbook",
		Long: `Start a journey for an owner on the latest published version of a playbook.

An owner can have at most one active journey per playbook; starting a second
one fails until the first completes or is reset away.`,
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

			j, err := newEngine(st).Start(cmd.Context(), owner, org, playbookID)
			if err != nil {
				return journeyError(formatter, "start", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(journeyView(j))
			}
			fmt.Fprintf(formatter.Writer, "✓ Started journey %s (%s v%d, %d step(s))\n",
				j.ID, j.PlaybookID, j.PlaybookVersion, j.TotalSteps)
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner identifier (required)")
	cmd.Flags().StringVar(&org, "org", "", "organization identifier (required)")
	cmd.Flags().StringVar(&playbookID, "playbook", "", "playbook identifier (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("playbook")

	return cmd
}

func newJourneyStepCommand(rootOpts *RootOptions) *cobra.Command {
	var database, data, dataFile string

	cmd := &cobra.Command{
		Use:   "step <journey> <step>",
		Short: "Complete (or revise) a journey step",
		Long: `Complete a step of a journey with a JSON payload.

Completing the current step advances the journey; completing an earlier step
revises it and discards every response recorded after it. Completing the
final step completes the journey and queues it for knowledge enrichment.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			payload, err := readPayload(data, dataFile)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid payload", err)
			}

			st, err := openStore(database)
			if err != nil {
				return err
			}
			defer st.Close()

			j, err := newEngine(st).CompleteStep(cmd.Context(), args[0], args[1], payload)
			if err != nil {
				return journeyError(formatter, "step", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(journeyView(j))
			}
			if j.Completed() {
				fmt.Fprintf(formatter.Writer, "✓ Journey %s completed; enrichment queued\n", j.ID)
			} else {
				fmt.Fprintf(formatter.Writer, "✓ Step %s recorded; journey %s at step %d/%d\n",
					args[1], j.ID, j.CurrentStep, j.TotalSteps)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&data, "data", "", "step payload as inline JSON")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "path to a JSON file with the step payload")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// readPayload decodes the step payload from --data or --data-file.
func readPayload(data, dataFile string) (map[string]any, error) {
	if data != "" && dataFile != "" {
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	}
	raw := []byte(data)
	if dataFile != "" {
		fileData, err := os.ReadFile(dataFile)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		raw = fileData
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("a payload is required: pass --data or --data-file")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parsing payload JSON: %w", err)
	}
	return payload, nil
}

func newJourneyTransitionCommand(rootOpts *RootOptions, op, short string) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:           op + " <journey>",
		Short:         short,
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

			engine := newEngine(st)
			var j *journey.Journey
			switch op {
			case "pause":
				j, err = engine.Pause(cmd.Context(), args[0])
			case "resume":
				j, err = engine.Resume(cmd.Context(), args[0])
			case "reset":
				j, err = engine.Reset(cmd.Context(), args[0])
			}
			if err != nil {
				return journeyError(formatter, op, err)
			}

			if formatter.Format == "json" {
				return formatter.Success(journeyView(j))
			}
			fmt.Fprintf(formatter.Writer, "✓ Journey %s is now %s\n", j.ID, j.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func newJourneyShowCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:           "show <journey>",
		Short:         "Show a journey's state",
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

			j, err := st.Journeys().GetByID(cmd.Context(), args[0])
			if err != nil {
				return journeyError(formatter, "show", err)
			}
			return formatter.SuccessJSON(journeyView(j))
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
