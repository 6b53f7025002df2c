// Package steprun executes one job's steps strictly in declared order on a
// single worker. Its concern is sequencing and error propagation: a step
// failure halts the job unless that step carries continue-on-error, step
// conditions are evaluated against the job's progress so far, and the
// cancellation context is checked between steps at minimum.
package steprun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stagehand-ci/stagehand/internal/action"
	"github.com/stagehand-ci/stagehand/internal/artifact"
	"github.com/stagehand-ci/stagehand/internal/ctxlog"
	"github.com/stagehand-ci/stagehand/internal/expr"
	"github.com/stagehand-ci/stagehand/internal/runstate"
	"github.com/stagehand-ci/stagehand/internal/workflow"
)

// ErrStepFailed marks an inline `run:` command that exited non-zero.
var ErrStepFailed = errors.New("step failed")

// ErrExternalAction marks an opaque failure surfaced from a `uses:` action
// or a service health gate.
var ErrExternalAction = errors.New("external action failed")

// OutputEnvVar names the environment variable pointing at the file a step
// may append `key=value` lines to; the executor captures them as the
// step's outputs.
const OutputEnvVar = "STAGEHAND_OUTPUT"

// defaultShell interprets `run:` blocks when the step declares no shell.
const defaultShell = "bash"

// serviceHealthAttempts bounds how long a service health command is retried
// before the job is failed.
const (
	serviceHealthAttempts = 10
	serviceHealthInterval = 500 * time.Millisecond
)

// Result is the outcome of one job execution. Steps and Artifacts are
// handed to the run state store so they surface in the final report.
type Result struct {
	Failed    bool
	Cause     string
	Outputs   map[string]string
	Artifacts []string
	Steps     []runstate.StepRecord
}

// Executor runs jobs. One Executor serves a whole run; it is stateless
// across jobs apart from the shared action registry and artifact store.
type Executor struct {
	Actions   *action.Registry
	Artifacts *artifact.Store
	// BaseEnv is the environment every step inherits (process env plus
	// workflow-level env), in the KEY=VALUE form of os.Environ.
	BaseEnv []string
	// WorkspaceRoot is the directory under which each job gets its own
	// working directory.
	WorkspaceRoot string
	// Output receives the combined stdout/stderr of run steps. Defaults to
	// io.Discard when nil.
	Output io.Writer
}

// ValidateActions resolves every `uses:` reference in the job set up front
// so a typo fails the run before any job starts.
func (e *Executor) ValidateActions(set *workflow.JobSet) error {
	for name, job := range set.Jobs {
		for i, step := range job.Steps {
			if step.Uses == "" {
				continue
			}
			if _, err := e.Actions.Resolve(step.Uses); err != nil {
				return fmt.Errorf("job %q step %d: %w", name, i, err)
			}
		}
	}
	return nil
}

// RunJob executes the job's steps in order and reports the aggregate
// outcome. The returned error covers infrastructure failures only (e.g. the
// workspace cannot be created); step and action failures are reported
// through the Result.
func (e *Executor) RunJob(ctx context.Context, job *workflow.Job) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("job", job.Name)
	res := &Result{Outputs: make(map[string]string)}

	workDir := filepath.Join(e.WorkspaceRoot, sanitizeName(job.Name))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job workspace: %w", err)
	}

	if err := e.gateServices(ctx, job, workDir); err != nil {
		res.Failed = true
		res.Cause = err.Error()
		return res, nil
	}

	env := e.jobEnv(job)
	failedSoFar := false

	for i, step := range job.Steps {
		label := stepLabel(i, step)
		stepLogger := logger.With("step", label)

		if err := ctx.Err(); err != nil {
			res.Failed = true
			res.Cause = causeFromContext(ctx)
			res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusCancelled})
			return res, nil
		}

		// Step conditions see the job's own progress: success() means no
		// earlier step in this job has failed.
		ok, err := expr.Eval(step.If, expr.Outcome{
			AllSucceeded: !failedSoFar,
			AnyFailed:    failedSoFar,
		})
		if err != nil {
			res.Failed = true
			res.Cause = err.Error()
			res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusFailed, Error: err.Error()})
			return res, nil
		}
		if !ok {
			stepLogger.Debug("Step condition false, skipping.")
			res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusSkipped})
			continue
		}

		stepLogger.Info("Starting step.")
		outputs, produced, stepErr := e.runStep(ctx, job, step, workDir, env)
		res.Artifacts = append(res.Artifacts, produced...)
		for k, v := range outputs {
			key := k
			if step.ID != "" {
				key = step.ID + "." + k
			}
			res.Outputs[key] = v
		}

		if stepErr != nil {
			if cerr := ctx.Err(); cerr != nil {
				res.Failed = true
				res.Cause = causeFromContext(ctx)
				res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusFailed, Error: stepErr.Error()})
				return res, nil
			}
			if step.ContinueOnError {
				stepLogger.Warn("Step failed, continuing.", "error", stepErr)
				res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusFailed, Absorbed: true, Error: stepErr.Error()})
				continue
			}
			stepLogger.Error("Step failed.", "error", stepErr)
			res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusFailed, Error: stepErr.Error()})
			failedSoFar = true
			res.Failed = true
			if res.Cause == "" {
				res.Cause = fmt.Sprintf("step %q failed: %v", label, stepErr)
			}
			continue
		}

		stepLogger.Info("Step finished.")
		res.Steps = append(res.Steps, runstate.StepRecord{Name: label, Status: runstate.StatusSucceeded})
	}

	return res, nil
}

// runStep executes a single step and returns its captured outputs and the
// artifacts it produced.
func (e *Executor) runStep(ctx context.Context, job *workflow.Job, step *workflow.Step, workDir string, env []string) (map[string]string, []string, error) {
	outFile, err := os.CreateTemp("", "stagehand-output-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	dir := workDir
	if step.WorkingDirectory != "" {
		dir = filepath.Join(workDir, step.WorkingDirectory)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}

	if step.Uses != "" {
		handler, err := e.Actions.Resolve(step.Uses)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrExternalAction, err)
		}
		in := &action.Input{
			With:       step.With,
			Job:        job.Name,
			WorkDir:    dir,
			OutputFile: outPath,
			Artifacts:  e.Artifacts,
		}
		if err := handler(ctx, in); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrExternalAction, step.Uses, err)
		}
		outputs, err := parseOutputs(outPath)
		return outputs, in.ProducedArtifacts(), err
	}

	shell := step.Shell
	if shell == "" {
		shell = defaultShell
	}
	cmd := exec.CommandContext(ctx, shell, "-e", "-c", step.Run)
	cmd.Dir = dir
	cmd.Env = append(append([]string{}, env...), mergeEnv(step.Env)...)
	cmd.Env = append(cmd.Env, OutputEnvVar+"="+outPath)

	sink := e.Output
	if sink == nil {
		sink = io.Discard
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStepFailed, err)
	}
	outputs, err := parseOutputs(outPath)
	return outputs, nil, err
}

// gateServices blocks until every declared service passes its health
// command, failing the job if one never does.
func (e *Executor) gateServices(ctx context.Context, job *workflow.Job, workDir string) error {
	if len(job.Services) == 0 {
		return nil
	}
	logger := ctxlog.FromContext(ctx).With("job", job.Name)

	names := make([]string, 0, len(job.Services))
	for name := range job.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := job.Services[name]
		if svc == nil || svc.HealthCmd == "" {
			logger.Debug("Service declares no health command, not gating.", "service", name)
			continue
		}
		if err := e.waitHealthy(ctx, name, svc, workDir); err != nil {
			return err
		}
		logger.Info("Service healthy.", "service", name)
	}
	return nil
}

func (e *Executor) waitHealthy(ctx context.Context, name string, svc *workflow.Service, workDir string) error {
	var lastErr error
	for attempt := 0; attempt < serviceHealthAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: service %q: %v", ErrExternalAction, name, err)
		}
		cmd := exec.CommandContext(ctx, defaultShell, "-c", svc.HealthCmd)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), mergeEnv(svc.Env)...)
		if lastErr = cmd.Run(); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: service %q: %v", ErrExternalAction, name, ctx.Err())
		case <-time.After(serviceHealthInterval):
		}
	}
	return fmt.Errorf("%w: service %q failed health check: %v", ErrExternalAction, name, lastErr)
}

// jobEnv layers workflow base env, job env, and the matrix combination.
func (e *Executor) jobEnv(job *workflow.Job) []string {
	env := append([]string{}, e.BaseEnv...)
	env = append(env, mergeEnv(job.Env)...)

	keys := make([]string, 0, len(job.Matrix))
	for k := range job.Matrix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "STAGEHAND_MATRIX_"+strings.ToUpper(k)+"="+job.Matrix[k])
	}
	return env
}

func mergeEnv(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(m))
	for _, k := range keys {
		env = append(env, k+"="+m[k])
	}
	return env
}

// parseOutputs reads `key=value` lines from a step's output file.
func parseOutputs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		outputs[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return outputs, nil
}

func causeFromContext(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}

func stepLabel(index int, step *workflow.Step) string {
	switch {
	case step.Name != "":
		return step.Name
	case step.ID != "":
		return step.ID
	case step.Uses != "":
		return step.Uses
	default:
		return fmt.Sprintf("step-%d", index+1)
	}
}

// sanitizeName makes a job instance name usable as a directory component.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", "(", "", ")", "", ",", "", "=", "-")
	return replacer.Replace(name)
}
