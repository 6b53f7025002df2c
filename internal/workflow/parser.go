// Package workflow defines the declarative workflow-file schema and its
// parser: triggers, jobs with needs/if/timeout metadata, steps, services,
// and strategy matrices. Parsing produces an immutable Workflow; everything
// downstream (graph building, scheduling, execution) only reads it.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse reads and validates a workflow file.
func Parse(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	wf, err := ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseBytes decodes and validates workflow YAML.
func ParseBytes(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	// YAML mappings guarantee key uniqueness, so job names are unique by
	// construction; the name field is carried onto each job here.
	for name, job := range wf.Jobs {
		if job == nil {
			return nil, fmt.Errorf("job %q is empty", name)
		}
		job.Name = name
	}

	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks structural well-formedness of a workflow. Dependency
// resolution and cycle detection are the graph builder's responsibility,
// not the parser's.
func Validate(wf *Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("workflow must have a name")
	}
	if len(wf.Jobs) == 0 {
		return fmt.Errorf("workflow must define at least one job")
	}
	if err := wf.On.validate(); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	for name, job := range wf.Jobs {
		if err := validateJob(job); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}
	return nil
}

func validateJob(job *Job) error {
	if len(job.Steps) == 0 {
		return fmt.Errorf("must define at least one step")
	}
	if job.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout-minutes must not be negative")
	}
	if job.Strategy != nil {
		if len(job.Strategy.Matrix) == 0 {
			return fmt.Errorf("strategy requires a non-empty matrix")
		}
		for dim, vals := range job.Strategy.Matrix {
			if len(vals) == 0 {
				return fmt.Errorf("matrix dimension %q has no values", dim)
			}
		}
		if job.Strategy.MaxParallel < 0 {
			return fmt.Errorf("strategy.max-parallel must not be negative")
		}
	}
	for i, step := range job.Steps {
		if step == nil {
			return fmt.Errorf("step %d is empty", i)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, stepLabel(step), err)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	if step.Uses == "" && step.Run == "" {
		return fmt.Errorf("must set either 'uses' or 'run'")
	}
	if step.Uses != "" && step.Run != "" {
		return fmt.Errorf("'uses' and 'run' are mutually exclusive")
	}
	if step.Run == "" && step.Shell != "" {
		return fmt.Errorf("'shell' only applies to 'run' steps")
	}
	if step.Uses == "" && len(step.With) > 0 {
		return fmt.Errorf("'with' only applies to 'uses' steps")
	}
	return nil
}

func stepLabel(step *Step) string {
	switch {
	case step.Name != "":
		return step.Name
	case step.ID != "":
		return step.ID
	case step.Uses != "":
		return step.Uses
	default:
		return "run"
	}
}
