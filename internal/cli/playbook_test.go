package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookCompileValid(t *testing.T) {
	dir, _ := writePlaybook(t, validPlaybookCUE)

	rootOpts := &RootOptions{Format: "text"}
	output, err := execute(t, newPlaybookCompileCommand(rootOpts), dir)
	require.NoError(t, err)

	assert.Contains(t, output, "✓ Compiled 1 playbook(s)")
	assert.Contains(t, output, "onboarding v1")
}

func TestPlaybookCompileValidJSON(t *testing.T) {
	dir, _ := writePlaybook(t, validPlaybookCUE)

	rootOpts := &RootOptions{Format: "json"}
	output, err := execute(t, newPlaybookCompileCommand(rootOpts), dir)
	require.NoError(t, err)

	var summaries []CompiledPlaybook
	decodeData(t, output, &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, "onboarding", summaries[0].ID)
	assert.Equal(t, 2, summaries[0].Steps)
}

func TestPlaybookCompileMissingDir(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	output, err := execute(t, newPlaybookCompileCommand(rootOpts), "/does/not/exist")
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, ErrCodeNotFound)
}

func TestPlaybookCompileInvalidCUE(t *testing.T) {
	dir, _ := writePlaybook(t, `
playbook: {
    id:      "broken"
    version: 1
    name:    "Broken"
    purpose: "p"
    steps: [{
        id:     "empty"
        title:  "Empty"
        prompt: "?"
        fields: {}
    }]
}
`)

	rootOpts := &RootOptions{Format: "text"}
	output, err := execute(t, newPlaybookCompileCommand(rootOpts), dir)
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "✗ Compilation failed")
}

func TestPlaybookCompileCollectsAllErrors(t *testing.T) {
	dir, _ := writePlaybook(t, "playbook: { id: 1 }")

	rootOpts := &RootOptions{Format: "json"}
	output, err := execute(t, newPlaybookCompileCommand(rootOpts), dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
}

func TestPlaybookPublishAndList(t *testing.T) {
	db := testDB(t)
	_, path := writePlaybook(t, validPlaybookCUE)

	rootOpts := &RootOptions{Format: "text"}
	output, err := execute(t, newPlaybookPublishCommand(rootOpts), path, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Published onboarding v1")

	output, err = execute(t, newPlaybookListCommand(rootOpts), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, output, "onboarding v1")
	assert.Contains(t, output, "2 step(s)")
}

func TestPlaybookPublishDuplicateVersion(t *testing.T) {
	db := testDB(t)
	_, path := writePlaybook(t, validPlaybookCUE)

	rootOpts := &RootOptions{Format: "text"}
	_, err := execute(t, newPlaybookPublishCommand(rootOpts), path, "--db", db)
	require.NoError(t, err)

	_, err = execute(t, newPlaybookPublishCommand(rootOpts), path, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestPlaybookListEmpty(t *testing.T) {
	db := testDB(t)

	rootOpts := &RootOptions{Format: "text"}
	output, err := execute(t, newPlaybookListCommand(rootOpts), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, output, "No playbooks published.")
}
