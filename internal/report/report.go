// Package report renders the final outcome of a run as JSON and parses it
// back. A report written and re-read yields identical per-job terminal
// states, which is what the history store and the `runs` command rely on.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/stagehand-ci/stagehand/internal/runstate"
)

// Report is the serialized outcome of one run.
type Report struct {
	RunID      string            `json:"run_id"`
	Workflow   string            `json:"workflow"`
	Status     runstate.Status   `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Jobs       []runstate.Record `json:"jobs"`
}

// New assembles a report from a final state snapshot. Jobs are sorted by
// name for stable output.
func New(runID, workflowName string, startedAt, finishedAt time.Time, snapshot map[string]runstate.Record) *Report {
	jobs := make([]runstate.Record, 0, len(snapshot))
	for _, rec := range snapshot {
		jobs = append(jobs, rec)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })

	return &Report{
		RunID:      runID,
		Workflow:   workflowName,
		Status:     overallStatus(jobs),
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
		Jobs:       jobs,
	}
}

// overallStatus is failed if any non-skipped job failed, cancelled if the
// run was cancelled without failures, else succeeded.
func overallStatus(jobs []runstate.Record) runstate.Status {
	status := runstate.StatusSucceeded
	for _, rec := range jobs {
		switch rec.Status {
		case runstate.StatusFailed:
			return runstate.StatusFailed
		case runstate.StatusCancelled:
			status = runstate.StatusCancelled
		}
	}
	return status
}

// Write serializes the report as indented JSON.
func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Parse reads a report previously produced by Write.
func Parse(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &rep, nil
}

// JobStates returns the per-job terminal states keyed by job name.
func (r *Report) JobStates() map[string]runstate.Status {
	states := make(map[string]runstate.Status, len(r.Jobs))
	for _, rec := range r.Jobs {
		states[rec.Job] = rec.Status
	}
	return states
}
