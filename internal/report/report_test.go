package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/internal/runstate"
)

func sampleSnapshot() map[string]runstate.Record {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)
	return map[string]runstate.Record{
		"build": {
			Job: "build", Status: runstate.StatusSucceeded,
			StartedAt: &started, FinishedAt: &finished,
			Outputs: map[string]string{"sha": "abc123"},
		},
		"test": {
			Job: "test", Status: runstate.StatusFailed, Cause: "step failed",
			StartedAt: &started, FinishedAt: &finished,
		},
		"deploy": {Job: "deploy", Status: runstate.StatusSkipped},
	}
}

func TestNew_SortsJobsAndDerivesStatus(t *testing.T) {
	t.Parallel()

	rep := New("run-1", "ci", time.Now(), time.Now(), sampleSnapshot())

	assert.Equal(t, runstate.StatusFailed, rep.Status)
	require.Len(t, rep.Jobs, 3)
	assert.Equal(t, "build", rep.Jobs[0].Job)
	assert.Equal(t, "deploy", rep.Jobs[1].Job)
	assert.Equal(t, "test", rep.Jobs[2].Job)
}

func TestOverallStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		statuses []runstate.Status
		want     runstate.Status
	}{
		{"all succeeded", []runstate.Status{runstate.StatusSucceeded, runstate.StatusSucceeded}, runstate.StatusSucceeded},
		{"skips do not fail the run", []runstate.Status{runstate.StatusSucceeded, runstate.StatusSkipped}, runstate.StatusSucceeded},
		{"any failure fails the run", []runstate.Status{runstate.StatusSucceeded, runstate.StatusFailed}, runstate.StatusFailed},
		{"cancellation without failure", []runstate.Status{runstate.StatusSucceeded, runstate.StatusCancelled}, runstate.StatusCancelled},
		{"failure beats cancellation", []runstate.Status{runstate.StatusCancelled, runstate.StatusFailed}, runstate.StatusFailed},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jobs := make([]runstate.Record, len(tc.statuses))
			for i, s := range tc.statuses {
				jobs[i] = runstate.Record{Status: s}
			}
			assert.Equal(t, tc.want, overallStatus(jobs))
		})
	}
}

func TestWriteParse_PreservesJobStates(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rep := New("run-7", "nightly", started, started.Add(time.Minute), sampleSnapshot())

	var buf bytes.Buffer
	require.NoError(t, rep.Write(&buf))

	parsed, err := Parse(&buf)
	require.NoError(t, err)

	assert.Equal(t, rep.RunID, parsed.RunID)
	assert.Equal(t, rep.Workflow, parsed.Workflow)
	assert.Equal(t, rep.Status, parsed.Status)
	assert.Equal(t, rep.JobStates(), parsed.JobStates())
	assert.Equal(t, "abc123", parsed.Jobs[0].Outputs["sha"])
	assert.Equal(t, "step failed", parsed.Jobs[2].Cause)
}

func TestParse_MalformedInput(t *testing.T) {
	t.Parallel()

	_, err := Parse(bytes.NewReader([]byte("{not json")))
	require.Error(t, err)
}
