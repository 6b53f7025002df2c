package steprun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/internal/action"
	"github.com/stagehand-ci/stagehand/internal/runstate"
	"github.com/stagehand-ci/stagehand/internal/workflow"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	return &Executor{
		Actions:       action.NewRegistry(),
		WorkspaceRoot: t.TempDir(),
	}
}

func job(name string, steps ...*workflow.Step) *workflow.Job {
	return &workflow.Job{Name: name, Steps: steps}
}

func TestRunJob_StepsRunInOrder(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "first", Run: "echo one > order.txt"},
		&workflow.Step{Name: "second", Run: "echo two >> order.txt"},
		&workflow.Step{Name: "check", Run: `[ "$(cat order.txt)" = "one
two" ]`},
	))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	require.Len(t, res.Steps, 3)
	for _, step := range res.Steps {
		assert.Equal(t, runstate.StatusSucceeded, step.Status)
	}
}

func TestRunJob_FailureSkipsLaterSteps(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "boom", Run: "exit 3"},
		&workflow.Step{Name: "after", Run: "echo should not run"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, runstate.StatusFailed, res.Steps[0].Status)
	assert.Equal(t, runstate.StatusSkipped, res.Steps[1].Status, "implicit success() must skip steps after a failure")
	assert.Contains(t, res.Cause, `"boom"`)
}

func TestRunJob_AlwaysStepRunsAfterFailure(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "boom", Run: "false"},
		&workflow.Step{Name: "cleanup", If: "always()", Run: "true"},
		&workflow.Step{Name: "on-failure", If: "failure()", Run: "true"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, runstate.StatusSucceeded, res.Steps[1].Status)
	assert.Equal(t, runstate.StatusSucceeded, res.Steps[2].Status)
}

func TestRunJob_ContinueOnErrorAbsorbsFailure(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "flaky", Run: "false", ContinueOnError: true},
		&workflow.Step{Name: "after", Run: "true"},
	))
	require.NoError(t, err)
	assert.False(t, res.Failed, "an absorbed failure must not fail the job")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, runstate.StatusFailed, res.Steps[0].Status)
	assert.True(t, res.Steps[0].Absorbed)
	assert.Equal(t, runstate.StatusSucceeded, res.Steps[1].Status)
}

func TestRunJob_RunsWithBashErrexit(t *testing.T) {
	t.Parallel()

	// The default shell stops at the first failing command within one step.
	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "multi", Run: "false\necho reached > marker.txt"},
		&workflow.Step{Name: "probe", If: "always()", Run: "[ ! -f marker.txt ]"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, runstate.StatusSucceeded, res.Steps[1].Status)
}

func TestRunJob_OutputsCapturedWithStepIDPrefix(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{ID: "meta", Run: `echo "sha=abc123" >> "$STAGEHAND_OUTPUT"`},
		&workflow.Step{Run: `echo "plain=1" >> "$STAGEHAND_OUTPUT"`},
	))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, "abc123", res.Outputs["meta.sha"])
	assert.Equal(t, "1", res.Outputs["plain"])
}

func TestRunJob_EnvironmentLayering(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	e.BaseEnv = []string{"PATH=/usr/bin:/bin", "SHARED=base", "WORKFLOW_VAR=wf"}

	j := job("test",
		&workflow.Step{
			Run: `[ "$SHARED" = "step" ] && [ "$WORKFLOW_VAR" = "wf" ] && [ "$JOB_VAR" = "job" ] && [ "$STAGEHAND_MATRIX_OS" = "linux" ]`,
			Env: map[string]string{"SHARED": "step"},
		},
	)
	j.Env = map[string]string{"JOB_VAR": "job"}
	j.Matrix = map[string]string{"os": "linux"}

	res, err := e.RunJob(context.Background(), j)
	require.NoError(t, err)
	assert.False(t, res.Failed, "env layering mismatch: %+v", res.Steps)
}

func TestRunJob_UsesActionDispatch(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	invoked := false
	e.Actions.Register("test/probe", func(ctx context.Context, in *action.Input) error {
		invoked = true
		assert.Equal(t, "v", in.With["k"])
		assert.Equal(t, "build", in.Job)
		return nil
	})

	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Uses: "test/probe@v1", With: map[string]string{"k": "v"}},
	))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.True(t, invoked)
}

func TestRunJob_ActionArtifactsSurfaceInResult(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	e.Actions.Register("test/publish", func(ctx context.Context, in *action.Input) error {
		in.RecordArtifact(in.With["name"])
		return nil
	})

	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Uses: "test/publish", With: map[string]string{"name": "dist"}},
		&workflow.Step{Uses: "test/publish", With: map[string]string{"name": "coverage"}},
		&workflow.Step{Name: "plain", Run: "true"},
	))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, []string{"dist", "coverage"}, res.Artifacts,
		"artifacts recorded by actions must land on the job result in step order")
}

func TestRunJob_ActionErrorIsExternal(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	e.Actions.Register("test/broken", func(ctx context.Context, in *action.Input) error {
		return assert.AnError
	})

	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Uses: "test/broken"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	require.Len(t, res.Steps, 1)
	assert.Contains(t, res.Steps[0].Error, ErrExternalAction.Error())
}

func TestRunJob_CancellationBetweenSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	e := newExecutor(t)
	e.Actions.Register("test/cancel-run", func(ctx context.Context, in *action.Input) error {
		cancel()
		return nil
	})

	res, err := e.RunJob(ctx, job("build",
		&workflow.Step{Uses: "test/cancel-run"},
		&workflow.Step{Name: "never", Run: "true"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "cancelled", res.Cause)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, runstate.StatusCancelled, res.Steps[1].Status)
}

func TestRunJob_TimeoutCauseFromDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := newExecutor(t)
	res, err := e.RunJob(ctx, job("slow",
		&workflow.Step{Name: "sleep", Run: "sleep 5"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "timeout", res.Cause)
}

func TestRunJob_BadStepConditionFailsJob(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), job("build",
		&workflow.Step{Name: "typo", If: "sucess()", Run: "true"},
	))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Cause, "unsupported expression")
}

func TestRunJob_ServiceHealthGate(t *testing.T) {
	t.Parallel()

	j := job("it", &workflow.Step{Run: "true"})
	j.Services = map[string]*workflow.Service{
		"db": {Image: "postgres:16", HealthCmd: "true"},
	}

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), j)
	require.NoError(t, err)
	assert.False(t, res.Failed)
}

func TestRunJob_ServiceNeverHealthyFailsJob(t *testing.T) {
	t.Parallel()

	j := job("it", &workflow.Step{Run: "echo never reached"})
	j.Services = map[string]*workflow.Service{
		"db": {Image: "postgres:16", HealthCmd: "false"},
	}

	e := newExecutor(t)
	res, err := e.RunJob(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Cause, `service "db"`)
	assert.Empty(t, res.Steps, "no step may start before services are healthy")
}

func TestValidateActions_RejectsUnknownUses(t *testing.T) {
	t.Parallel()

	e := newExecutor(t)
	set := &workflow.JobSet{Jobs: map[string]*workflow.Job{
		"deploy": job("deploy", &workflow.Step{Uses: "core/no-such-action"}),
	}}

	err := e.ValidateActions(set)
	require.Error(t, err)
	assert.ErrorIs(t, err, action.ErrUnknownAction)
}
