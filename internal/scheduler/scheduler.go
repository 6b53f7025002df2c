// Package scheduler walks the job dependency graph and dispatches ready
// jobs onto a pool of concurrent workers.
//
// Each job moves through pending -> ready -> running -> terminal. A job is
// enqueued the moment its last dependency reaches a terminal state (workers
// wake dependents by decrementing atomic counters, there is no polling).
// At dequeue time the job's condition is evaluated against its
// dependencies' outcomes: false sends it straight to skipped, an
// evaluation error fails it, true runs it. The run ends when every job is
// terminal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagehand-ci/stagehand/internal/ctxlog"
	"github.com/stagehand-ci/stagehand/internal/dag"
	"github.com/stagehand-ci/stagehand/internal/expr"
	"github.com/stagehand-ci/stagehand/internal/runstate"
	"github.com/stagehand-ci/stagehand/internal/steprun"
	"github.com/stagehand-ci/stagehand/internal/workflow"
)

// ErrRunFailed is returned by Run when at least one non-skipped job failed.
var ErrRunFailed = errors.New("run failed")

// ErrRunCancelled is returned by Run when the run was cancelled before every
// job could finish and no job outright failed.
var ErrRunCancelled = errors.New("run cancelled")

// JobRunner executes a single job's steps. *steprun.Executor is the
// production implementation; tests substitute fakes.
type JobRunner interface {
	RunJob(ctx context.Context, job *workflow.Job) (*steprun.Result, error)
}

// jobNode pairs a job with its scheduling bookkeeping. Matrix instances of
// the same template share a groupState when their strategy asks for one.
type jobNode struct {
	job      *workflow.Job
	deps     []string
	cond     *expr.Condition
	depCount atomic.Int32
	group    *groupState
}

// groupState is the shared scheduling state of one matrix template's
// instances: an optional semaphore capping concurrent instances, and the
// fail-fast flag siblings check before starting.
type groupState struct {
	sem      chan struct{} // nil when max-parallel is unset
	failFast bool
	failed   atomic.Bool
}

// Scheduler drives one run to completion.
type Scheduler struct {
	graph   *dag.Graph
	store   *runstate.Store
	runner  JobRunner
	workers int

	nodes map[string]*jobNode
	wg    sync.WaitGroup
}

// New prepares a scheduler for the given expanded job set and its graph.
// maxConcurrent bounds how many jobs hold running state at once; 0 means
// unbounded. Conditions are compiled up front so a malformed `if` fails the
// run before anything starts.
func New(graph *dag.Graph, set *workflow.JobSet, store *runstate.Store, runner JobRunner, maxConcurrent int) (*Scheduler, error) {
	workers := maxConcurrent
	if workers <= 0 || workers > len(set.Jobs) {
		workers = len(set.Jobs)
	}

	s := &Scheduler{
		graph:   graph,
		store:   store,
		runner:  runner,
		workers: workers,
		nodes:   make(map[string]*jobNode, len(set.Jobs)),
	}

	groups := make(map[string]*groupState, len(set.Groups))
	for template, grp := range set.Groups {
		if grp.MaxParallel <= 0 && !grp.FailFast {
			continue
		}
		state := &groupState{failFast: grp.FailFast}
		if grp.MaxParallel > 0 {
			state.sem = make(chan struct{}, grp.MaxParallel)
		}
		groups[template] = state
	}

	for name, job := range set.Jobs {
		deps, err := graph.Dependencies(name)
		if err != nil {
			return nil, err
		}
		cond, err := expr.Compile(job.If)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		node := &jobNode{job: job, deps: deps, cond: cond, group: groups[job.Template]}
		node.depCount.Store(int32(len(deps)))
		s.nodes[name] = node
	}
	return s, nil
}

// Run executes every job and blocks until the whole graph is terminal.
// It returns ErrRunFailed if any job failed, wrapping the first root cause.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *jobNode, len(s.nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootCount := 0
	for _, name := range sortedNodeNames(s.nodes) {
		node := s.nodes[name]
		if node.depCount.Load() == 0 {
			readyChan <- node
			rootCount++
		}
	}
	logger.Debug("Root jobs enqueued.", "count", rootCount)

	s.wg.Add(len(s.nodes))

	logger.Debug("Starting worker pool.", "workers", s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker(runCtx, readyChan, i)
	}

	s.wg.Wait()
	close(readyChan)
	logger.Info("All jobs terminal.")

	return s.runStatus()
}

// worker is the processing loop of one concurrent worker.
func (s *Scheduler) worker(ctx context.Context, readyChan chan *jobNode, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for node := range readyChan {
		workerLogger := logger.With("workerID", workerID, "job", node.job.Name)

		if ctx.Err() != nil {
			workerLogger.Warn("Run cancelled before job start.")
			s.finish(ctx, node, readyChan, runstate.StatusCancelled, "cancelled")
			continue
		}

		if node.group != nil && node.group.failFast && node.group.failed.Load() {
			workerLogger.Info("Sibling matrix instance failed, cancelling.")
			s.finish(ctx, node, readyChan, runstate.StatusCancelled, "fail-fast")
			continue
		}

		outcome := s.store.OutcomeFor(node.deps)
		ok, err := node.cond.Eval(outcome)
		if err != nil {
			workerLogger.Error("Condition evaluation failed.", "condition", node.cond.String(), "error", err)
			s.finish(ctx, node, readyChan, runstate.StatusFailed, err.Error())
			continue
		}
		if !ok {
			workerLogger.Info("Condition false, skipping job.", "condition", node.cond.String())
			s.finish(ctx, node, readyChan, runstate.StatusSkipped, "")
			continue
		}

		if node.group != nil && node.group.sem != nil {
			select {
			case node.group.sem <- struct{}{}:
			case <-ctx.Done():
				workerLogger.Warn("Run cancelled before job start.")
				s.finish(ctx, node, readyChan, runstate.StatusCancelled, "cancelled")
				continue
			}
			// A sibling may have failed while this instance waited for a slot.
			if node.group.failFast && node.group.failed.Load() {
				<-node.group.sem
				workerLogger.Info("Sibling matrix instance failed, cancelling.")
				s.finish(ctx, node, readyChan, runstate.StatusCancelled, "fail-fast")
				continue
			}
		}

		workerLogger.Info("Starting job.")
		if err := s.store.MarkRunning(node.job.Name); err != nil {
			workerLogger.Error("Failed to mark job running.", "error", err)
			s.finish(ctx, node, readyChan, runstate.StatusFailed, err.Error())
			s.releaseSlot(node)
			continue
		}

		// The slot is released only after finish so a fail-fast sibling
		// waiting on it observes the group failure.
		status, cause := s.execute(ctx, node, workerLogger)
		s.finish(ctx, node, readyChan, status, cause)
		s.releaseSlot(node)
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// execute runs the job under its timeout and maps the result to a terminal
// status and cause.
func (s *Scheduler) execute(ctx context.Context, node *jobNode, logger *slog.Logger) (runstate.Status, string) {
	jobCtx := ctx
	var cancel context.CancelFunc
	if node.job.TimeoutMinutes > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(node.job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	res, err := s.runner.RunJob(jobCtx, node.job)
	if err != nil {
		logger.Error("Job execution failed.", "error", err)
		return runstate.StatusFailed, err.Error()
	}

	if len(res.Outputs) > 0 {
		if serr := s.store.SetOutputs(node.job.Name, res.Outputs); serr != nil {
			logger.Error("Failed to record outputs.", "error", serr)
		}
	}
	if len(res.Steps) > 0 {
		if serr := s.store.SetSteps(node.job.Name, res.Steps); serr != nil {
			logger.Error("Failed to record step outcomes.", "error", serr)
		}
	}
	for _, name := range res.Artifacts {
		if serr := s.store.AddArtifact(node.job.Name, name); serr != nil {
			logger.Error("Failed to record artifact.", "artifact", name, "error", serr)
		}
	}

	if res.Failed {
		// A timeout fires on the job context only; the run context stays
		// live. Cancellation of the whole run is the caller's signal.
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			logger.Error("Job timed out.")
			return runstate.StatusFailed, "timeout"
		case ctx.Err() != nil:
			return runstate.StatusCancelled, "cancelled"
		default:
			logger.Error("Job failed.", "cause", res.Cause)
			return runstate.StatusFailed, res.Cause
		}
	}

	logger.Info("Job succeeded.")
	return runstate.StatusSucceeded, ""
}

// releaseSlot frees the node's matrix semaphore slot, if it holds one.
func (s *Scheduler) releaseSlot(node *jobNode) {
	if node.group != nil && node.group.sem != nil {
		<-node.group.sem
	}
}

// finish records the terminal status and wakes any dependents whose last
// dependency this was.
func (s *Scheduler) finish(ctx context.Context, node *jobNode, readyChan chan *jobNode, status runstate.Status, cause string) {
	logger := ctxlog.FromContext(ctx)

	if status == runstate.StatusFailed && node.group != nil {
		node.group.failed.Store(true)
	}

	if err := s.store.MarkTerminal(node.job.Name, status, cause); err != nil {
		logger.Error("Failed to record terminal state.", "job", node.job.Name, "error", err)
	}

	dependents, err := s.graph.Dependents(node.job.Name)
	if err != nil {
		logger.Error("Failed to look up dependents.", "job", node.job.Name, "error", err)
	} else {
		for _, dep := range dependents {
			if s.nodes[dep].depCount.Add(-1) == 0 {
				logger.Debug("Unlocking dependent job.", "job", dep)
				readyChan <- s.nodes[dep]
			}
		}
	}

	s.wg.Done()
}

// runStatus derives the overall run result from the final records. Failure
// outranks cancellation.
func (s *Scheduler) runStatus() error {
	var failed, cancelled []string
	var firstCause string
	for _, name := range sortedNodeNames(s.nodes) {
		rec, err := s.store.Get(name)
		if err != nil {
			continue
		}
		switch rec.Status {
		case runstate.StatusFailed:
			failed = append(failed, name)
			if firstCause == "" {
				firstCause = rec.Cause
			}
		case runstate.StatusCancelled:
			cancelled = append(cancelled, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s (%s)", ErrRunFailed, strings.Join(failed, ", "), firstCause)
	}
	if len(cancelled) > 0 {
		return fmt.Errorf("%w: %s", ErrRunCancelled, strings.Join(cancelled, ", "))
	}
	return nil
}

func sortedNodeNames(nodes map[string]*jobNode) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
