// Package testutil provides the shared harness for integration tests: a
// temporary workspace, a captured log buffer, and a single entry point that
// runs a workflow from YAML source to final report.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/internal/app"
	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/report"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	Report    *report.Report
	Err       error
	LogOutput string
	StdOutput string
	App       *app.App
}

// RunWorkflow writes the workflow YAML to a temporary directory and executes
// it end to end with a background context.
func RunWorkflow(t *testing.T, workflowYAML string, opts app.RunOptions) *HarnessResult {
	t.Helper()
	return RunWorkflowWithContext(context.Background(), t, workflowYAML, opts)
}

// RunWorkflowWithContext is RunWorkflow with a caller-provided context, for
// cancellation and timeout tests.
func RunWorkflowWithContext(ctx context.Context, t *testing.T, workflowYAML string, opts app.RunOptions) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	workflowPath := filepath.Join(tmpDir, "workflow.yaml")
	require.NoError(t, os.WriteFile(workflowPath, []byte(workflowYAML), 0o644))

	cfg := &config.Config{
		Workers:      4,
		WorkspaceDir: filepath.Join(tmpDir, "workspaces"),
		// History is exercised by its own package tests; integration runs
		// keep it off so a run leaves nothing behind but the temp dir.
		HistoryDB: "",
	}
	cfg.Log.Level = "debug"
	cfg.Log.Format = "text"
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}

	logBuffer := &SafeBuffer{}
	outBuffer := &SafeBuffer{}

	testApp, err := app.New(outBuffer, logBuffer, cfg)
	require.NoError(t, err, "application construction failed")
	t.Cleanup(func() { testApp.Close() })

	rep, runErr := testApp.Run(ctx, workflowPath, opts)

	if os.Getenv("STAGEHAND_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		Report:    rep,
		Err:       runErr,
		LogOutput: logBuffer.String(),
		StdOutput: outBuffer.String(),
		App:       testApp,
	}
}
