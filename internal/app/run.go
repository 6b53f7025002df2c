package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-ci/stagehand/internal/artifact"
	"github.com/stagehand-ci/stagehand/internal/ctxlog"
	"github.com/stagehand-ci/stagehand/internal/dag"
	"github.com/stagehand-ci/stagehand/internal/report"
	"github.com/stagehand-ci/stagehand/internal/runstate"
	"github.com/stagehand-ci/stagehand/internal/scheduler"
	"github.com/stagehand-ci/stagehand/internal/steprun"
	"github.com/stagehand-ci/stagehand/internal/workflow"
)

// RunOptions tunes a single run beyond what the app-level config provides.
type RunOptions struct {
	// DispatchInputs are the `--input key=value` pairs resolved against the
	// workflow's workflow_dispatch declaration.
	DispatchInputs map[string]string
	// Workers overrides the configured concurrency bound when > 0.
	Workers int
}

// Run executes the workflow at workflowPath from parse to final report. The
// report is written to the app's output writer and persisted to history
// when enabled. The returned report is always non-nil when the workflow
// parsed and expanded; a failed run yields both the report and an error.
func (a *App) Run(ctx context.Context, workflowPath string, opts RunOptions) (*report.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.cfg.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.cfg.HealthcheckPort)
	}

	wf, err := workflow.Parse(workflowPath)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Workflow parsed.", "workflow", wf.Name, "jobs", len(wf.Jobs))

	inputs, err := wf.On.ResolveDispatchInputs(opts.DispatchInputs)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", wf.Name, err)
	}

	set, err := workflow.Expand(wf)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Matrix expansion done.", "instances", len(set.Jobs))

	graph, err := dag.Build(ctx, set)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	runLogger := a.logger.With("runID", runID)
	ctx = ctxlog.WithLogger(ctx, runLogger)
	runLogger.Info("Run starting.", "workflow", wf.Name)

	store := runstate.New(graph.Names())

	runDir := filepath.Join(a.cfg.WorkspaceDir, runID)
	artifacts, err := artifact.NewStore(filepath.Join(runDir, "artifacts"))
	if err != nil {
		return nil, err
	}

	exec := &steprun.Executor{
		Actions:       a.actions,
		Artifacts:     artifacts,
		BaseEnv:       baseEnv(wf, inputs),
		WorkspaceRoot: runDir,
		Output:        a.outW,
	}
	if err := exec.ValidateActions(set); err != nil {
		return nil, err
	}

	workers := a.cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	sched, err := scheduler.New(graph, set, store, exec, workers)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	runErr := sched.Run(ctx)
	finishedAt := time.Now()

	rep := report.New(runID, wf.Name, startedAt, finishedAt, store.Snapshot())
	if err := rep.Write(a.outW); err != nil {
		runLogger.Error("Failed to write report.", "error", err)
	}

	if hist, herr := a.History(); herr != nil {
		runLogger.Error("Failed to open history store.", "error", herr)
	} else if hist != nil {
		if serr := hist.Save(rep); serr != nil {
			runLogger.Error("Failed to persist run.", "error", serr)
		}
	}

	if runErr != nil {
		runLogger.Error("Run finished with failures.", "status", string(rep.Status))
		return rep, runErr
	}
	runLogger.Info("Run finished.", "status", string(rep.Status))
	return rep, nil
}

// Plan parses and expands the workflow, then prints the dependency levels
// in execution order without running anything.
func (a *App) Plan(ctx context.Context, workflowPath string) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	wf, err := workflow.Parse(workflowPath)
	if err != nil {
		return err
	}
	set, err := workflow.Expand(wf)
	if err != nil {
		return err
	}
	graph, err := dag.Build(ctx, set)
	if err != nil {
		return err
	}
	levels, err := graph.Levels()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.outW, "workflow: %s\n", wf.Name)
	if next := wf.On.NextActivation(time.Now()); !next.IsZero() {
		fmt.Fprintf(a.outW, "next scheduled activation: %s\n", next.Format(time.RFC3339))
	}
	for i, level := range levels {
		fmt.Fprintf(a.outW, "stage %d: %s\n", i+1, strings.Join(level, ", "))
	}
	return nil
}

// baseEnv is the environment every job inherits: the process environment,
// workflow-level env, and resolved dispatch inputs as STAGEHAND_INPUT_*.
func baseEnv(wf *workflow.Workflow, inputs map[string]string) []string {
	env := os.Environ()
	for k, v := range wf.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range inputs {
		env = append(env, "STAGEHAND_INPUT_"+strings.ToUpper(k)+"="+v)
	}
	return env
}
