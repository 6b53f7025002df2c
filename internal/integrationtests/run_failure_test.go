package integrationtests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/internal/app"
	"github.com/stagehand-ci/stagehand/internal/runstate"
	"github.com/stagehand-ci/stagehand/internal/scheduler"
	"github.com/stagehand-ci/stagehand/internal/testutil"
)

// TestRun_FailurePropagation validates that a failing job skips its
// transitive dependents while unrelated jobs still run.
func TestRun_FailurePropagation(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: failing
on: workflow_dispatch
jobs:
  build:
    steps:
      - run: exit 1
  test:
    needs: build
    steps:
      - run: echo never
  package:
    needs: test
    steps:
      - run: echo never
  lint:
    steps:
      - run: echo independent
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, scheduler.ErrRunFailed)
	require.NotNil(t, result.Report)
	assert.Equal(t, runstate.StatusFailed, result.Report.Status)

	states := result.Report.JobStates()
	assert.Equal(t, runstate.StatusFailed, states["build"])
	assert.Equal(t, runstate.StatusSkipped, states["test"])
	assert.Equal(t, runstate.StatusSkipped, states["package"])
	assert.Equal(t, runstate.StatusSucceeded, states["lint"])
}

// TestRun_FailureHandlersStillRun validates failure() and always()
// conditions on jobs downstream of a failed dependency.
func TestRun_FailureHandlersStillRun(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: handlers
on: workflow_dispatch
jobs:
  build:
    steps:
      - run: exit 1
  notify:
    needs: build
    if: failure()
    steps:
      - run: echo notifying
  cleanup:
    needs: build
    if: always()
    steps:
      - run: echo cleaning
  release:
    needs: build
    steps:
      - run: echo never
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.Error(t, result.Err)
	states := result.Report.JobStates()
	assert.Equal(t, runstate.StatusFailed, states["build"])
	assert.Equal(t, runstate.StatusSucceeded, states["notify"])
	assert.Equal(t, runstate.StatusSucceeded, states["cleanup"])
	assert.Equal(t, runstate.StatusSkipped, states["release"])
}

// TestRun_ContinueOnErrorKeepsTheJobGreen validates that an absorbed step
// failure does not fail the job or the run.
func TestRun_ContinueOnErrorKeepsTheJobGreen(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: absorb
on: workflow_dispatch
jobs:
  test:
    steps:
      - name: flaky
        run: exit 1
        continue-on-error: true
      - run: echo still here
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.NoError(t, result.Err, "absorbed failure leaked; logs:\n%s", result.LogOutput)
	assert.Equal(t, runstate.StatusSucceeded, result.Report.Status)
}

// TestRun_CycleFailsBeforeExecution validates that circular needs are
// rejected with the full cycle named.
func TestRun_CycleFailsBeforeExecution(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: cyclic
on: workflow_dispatch
jobs:
  a:
    needs: c
    steps: [{run: echo a}]
  b:
    needs: a
    steps: [{run: echo b}]
  c:
    needs: b
    steps: [{run: echo c}]
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "cycle detected")
	assert.Contains(t, result.Err.Error(), " -> ")
	assert.Nil(t, result.Report, "nothing may execute when the graph is cyclic")
}

// TestRun_UnknownDependencyFailsBeforeExecution validates the error for a
// needs reference to a job that does not exist.
func TestRun_UnknownDependencyFailsBeforeExecution(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: dangling
on: workflow_dispatch
jobs:
  test:
    needs: biuld
    steps: [{run: echo x}]
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "unknown dependency")
	assert.Contains(t, result.Err.Error(), `"biuld"`)
}

// TestRun_UnknownActionFailsBeforeExecution validates that a typoed uses
// reference is caught before any job starts.
func TestRun_UnknownActionFailsBeforeExecution(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	workflowYAML := `
name: badaction
on: workflow_dispatch
jobs:
  build:
    steps:
      - run: echo this must not run > /dev/null
  upload:
    steps:
      - uses: core/artifact-uplaod@v1
        with: {name: x, path: y}
`

	// --- Act ---
	result := testutil.RunWorkflow(t, workflowYAML, app.RunOptions{})

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "unknown action")
	assert.Nil(t, result.Report)
}
