package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/camino/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file.yaml>",
		Short: "Run a scenario against a throwaway store",
		Long: `Run a YAML scenario end to end: publish its playbooks, execute the flow
with a deterministic clock and synthesizer, and evaluate the assertions.

The run uses a temporary database that is discarded afterwards; scenarios
never touch production data.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// ScenarioOutcome is the JSON shape of a scenario run.
type ScenarioOutcome struct {
	Scenario string   `json:"scenario"`
	Passed   bool     `json:"passed"`
	Journeys int      `json:"journeys"`
	Failures []string `json:"failures,omitempty"`
}

func runScenario(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	formatter.VerboseLog("Running scenario %s: %s", scenario.Name, scenario.Description)

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario run aborted", err)
	}

	outcome := ScenarioOutcome{
		Scenario: scenario.Name,
		Passed:   result.Passed(),
		Journeys: len(result.Journeys),
		Failures: result.Failures,
	}

	if formatter.Format == "json" {
		if err := formatter.Success(outcome); err != nil {
			return err
		}
	} else if outcome.Passed {
		fmt.Fprintf(formatter.Writer, "✓ Scenario %s passed (%d journey(s), %d assertion(s))\n",
			scenario.Name, outcome.Journeys, len(scenario.Assertions))
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Scenario %s failed\n\n", scenario.Name)
		for _, failure := range outcome.Failures {
			fmt.Fprintf(formatter.Writer, "  %s\n", failure)
		}
	}

	if !outcome.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario failed with %d assertion failure(s)", len(outcome.Failures)))
	}
	return nil
}
