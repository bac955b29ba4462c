package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const validPlaybookCUE = `
playbook: {
    id:      "onboarding"
    version: 1
    name:    "Onboarding"
    purpose: "Capture the basics."
    steps: [{
        id:     "identity"
        title:  "Identity"
        prompt: "What is the company's mission?"
        fields: {mission: string}
        requires: ["mission"]
        map: {mission: "mission"}
    }, {
        id:     "reflection"
        title:  "Reflection"
        prompt: "Anything else?"
        fields: {summary: string}
    }]
}
`

// writePlaybook writes a CUE playbook into a fresh temp dir and returns both.
func writePlaybook(t *testing.T, src string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "playbook.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return dir, path
}

// testDB returns a database path in a temp dir.
func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "camino.db")
}

// execute runs a command with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeData unmarshals the Data payload of a JSON CLI response.
func decodeData(t *testing.T, output string, v any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Equal(t, "ok", resp.Status)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

// publishPlaybook publishes the standard playbook into the database.
func publishPlaybook(t *testing.T, db string) {
	t.Helper()
	_, path := writePlaybook(t, validPlaybookCUE)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execute(t, newPlaybookPublishCommand(rootOpts), path, "--db", db)
	require.NoError(t, err)
}

// startJourney starts a journey and returns its generated ID.
func startJourney(t *testing.T, db, owner, org string) string {
	t.Helper()
	rootOpts := &RootOptions{Format: "json"}
	output, err := execute(t, newJourneyStartCommand(rootOpts),
		"--db", db, "--owner", owner, "--org", org, "--playbook", "onboarding")
	require.NoError(t, err)

	var view JourneyView
	decodeData(t, output, &view)
	require.NotEmpty(t, view.ID)
	return view.ID
}
