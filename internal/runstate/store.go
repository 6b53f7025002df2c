// Package runstate holds the mutable outcome record of every job within a
// single run. The store is an explicitly owned object passed by reference,
// never package-global state, so multiple runs can execute in isolation
// inside one process.
//
// Writes are serialized per job name while writes to different jobs proceed
// concurrently, and every read returns a copy taken under the job's lock,
// so a reader never observes a record mid-transition. Terminal status
// fields are write-once: a second terminal transition is a programming
// error and is rejected.
package runstate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-ci/stagehand/internal/expr"
)

// Status is the lifecycle state of one job within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// ErrAlreadyTerminal is returned when a transition targets a job whose
// record is already final.
var ErrAlreadyTerminal = errors.New("run record already terminal")

// StepRecord is the outcome of one step within a job.
type StepRecord struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Absorbed bool   `json:"absorbed,omitempty"` // failed, but continue-on-error swallowed it
	Error    string `json:"error,omitempty"`
}

// Record is the outcome record of one job. Values returned by the store are
// copies; mutating them has no effect on the stored state.
type Record struct {
	Job        string            `json:"job"`
	Status     Status            `json:"status"`
	Cause      string            `json:"cause,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Artifacts  []string          `json:"artifacts,omitempty"`
	Steps      []StepRecord      `json:"steps,omitempty"`
}

// slot pairs a record with its own lock so writers to different jobs never
// contend with each other.
type slot struct {
	mu  sync.Mutex
	rec Record
}

// Store maps job names to their run records. The job set is fixed at
// construction; only record contents change afterwards.
type Store struct {
	slots map[string]*slot
}

// New creates a store with a pending record for every named job.
func New(jobNames []string) *Store {
	s := &Store{slots: make(map[string]*slot, len(jobNames))}
	for _, name := range jobNames {
		s.slots[name] = &slot{rec: Record{Job: name, Status: StatusPending}}
	}
	return s
}

func (s *Store) slotFor(job string) (*slot, error) {
	sl, ok := s.slots[job]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", job)
	}
	return sl, nil
}

// Get returns a copy of the job's record.
func (s *Store) Get(job string) (Record, error) {
	sl, err := s.slotFor(job)
	if err != nil {
		return Record{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return cloneRecord(sl.rec), nil
}

// Snapshot returns a copy of every record, keyed by job name.
func (s *Store) Snapshot() map[string]Record {
	snap := make(map[string]Record, len(s.slots))
	for name, sl := range s.slots {
		sl.mu.Lock()
		snap[name] = cloneRecord(sl.rec)
		sl.mu.Unlock()
	}
	return snap
}

// MarkRunning transitions a pending job to running and stamps its start time.
func (s *Store) MarkRunning(job string) error {
	sl, err := s.slotFor(job)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, job, sl.rec.Status)
	}
	now := time.Now().UTC()
	sl.rec.Status = StatusRunning
	sl.rec.StartedAt = &now
	return nil
}

// MarkTerminal finalizes a job's record with the given terminal status and
// optional cause. Finishing an already-terminal record is rejected.
func (s *Store) MarkTerminal(job string, status Status, cause string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	sl, err := s.slotFor(job)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, job, sl.rec.Status)
	}
	now := time.Now().UTC()
	sl.rec.Status = status
	sl.rec.Cause = cause
	sl.rec.FinishedAt = &now
	return nil
}

// SetOutputs merges captured step outputs into the job's record. Only legal
// while the job has not finished.
func (s *Store) SetOutputs(job string, outputs map[string]string) error {
	sl, err := s.slotFor(job)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, job, sl.rec.Status)
	}
	if sl.rec.Outputs == nil {
		sl.rec.Outputs = make(map[string]string, len(outputs))
	}
	for k, v := range outputs {
		sl.rec.Outputs[k] = v
	}
	return nil
}

// SetSteps attaches the job's per-step outcomes to its record. Only legal
// while the job has not finished.
func (s *Store) SetSteps(job string, steps []StepRecord) error {
	sl, err := s.slotFor(job)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, job, sl.rec.Status)
	}
	sl.rec.Steps = append([]StepRecord(nil), steps...)
	return nil
}

// AddArtifact records that the job produced a named artifact.
func (s *Store) AddArtifact(job, name string) error {
	sl, err := s.slotFor(job)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, job, sl.rec.Status)
	}
	sl.rec.Artifacts = append(sl.rec.Artifacts, name)
	return nil
}

// OutcomeFor condenses the terminal records of the named dependencies into
// the snapshot the condition evaluator consumes. Callers must only ask
// about jobs that are already terminal; a non-terminal dependency is
// treated as not succeeded.
func (s *Store) OutcomeFor(deps []string) expr.Outcome {
	outcome := expr.Outcome{AllSucceeded: true}
	for _, dep := range deps {
		rec, err := s.Get(dep)
		if err != nil {
			outcome.AllSucceeded = false
			continue
		}
		switch rec.Status {
		case StatusSucceeded:
		case StatusFailed:
			outcome.AllSucceeded = false
			outcome.AnyFailed = true
		case StatusCancelled:
			outcome.AllSucceeded = false
			outcome.AnyCancelled = true
		case StatusSkipped:
			// A skipped dependency neither fails nor succeeds the chain.
			outcome.AllSucceeded = false
		default:
			outcome.AllSucceeded = false
		}
	}
	return outcome
}

func cloneRecord(rec Record) Record {
	out := rec
	if rec.Outputs != nil {
		out.Outputs = make(map[string]string, len(rec.Outputs))
		for k, v := range rec.Outputs {
			out.Outputs[k] = v
		}
	}
	if rec.Artifacts != nil {
		out.Artifacts = append([]string(nil), rec.Artifacts...)
	}
	if rec.Steps != nil {
		out.Steps = append([]StepRecord(nil), rec.Steps...)
	}
	return out
}
