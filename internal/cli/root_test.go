package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyValues(t *testing.T) {
	t.Parallel()

	m, err := parseKeyValues([]string{"version=1.2.3", "env=staging", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"version": "1.2.3",
		"env":     "staging",
		"note":    "a=b",
	}, m)

	m, err = parseKeyValues(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = parseKeyValues([]string{"noequals"})
	require.Error(t, err)

	_, err = parseKeyValues([]string{"=value"})
	require.Error(t, err)
}

func TestRootCommand_PlanSubcommand(t *testing.T) {
	tmpDir := t.TempDir()
	workflowPath := filepath.Join(tmpDir, "workflow.yaml")
	require.NoError(t, os.WriteFile(workflowPath, []byte(`
name: ci
on: workflow_dispatch
jobs:
  build:
    steps: [{run: echo build}]
  test:
    needs: build
    steps: [{run: echo test}]
`), 0o644))

	// Plan must not touch the default workspace or history locations.
	configPath := filepath.Join(tmpDir, "stagehand.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"workspace_dir: "+filepath.Join(tmpDir, "ws")+"\nhistory_db: \"\"\n",
	), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"plan", "--config", configPath, workflowPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "stage 1: build")
	assert.Contains(t, out.String(), "stage 2: test")
}

func TestRootCommand_RunRejectsMissingWorkflowArg(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run"})

	require.Error(t, cmd.Execute())
}
