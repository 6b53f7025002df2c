package workflow

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Triggers is the decoded `on:` block. Only the trigger kinds the engine
// understands are modeled; unknown keys are rejected at validation.
type Triggers struct {
	Schedule         []ScheduleTrigger `yaml:"schedule"`
	PullRequest      *PullRequest      `yaml:"pull_request"`
	WorkflowDispatch *Dispatch         `yaml:"workflow_dispatch"`
}

// ScheduleTrigger is one cron entry under `on.schedule`.
type ScheduleTrigger struct {
	Cron string `yaml:"cron"`
}

// PullRequest filters which pull request events activate the workflow.
type PullRequest struct {
	Branches    []string `yaml:"branches"`
	Paths       []string `yaml:"paths"`
	PathsIgnore []string `yaml:"paths-ignore"`
}

// Dispatch declares a manually triggered workflow with typed inputs.
type Dispatch struct {
	Inputs map[string]*DispatchInput `yaml:"inputs"`
}

// DispatchInput is one typed input of a workflow_dispatch trigger.
type DispatchInput struct {
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Default     string   `yaml:"default"`
	Type        string   `yaml:"type"`
	Options     []string `yaml:"options"`
}

// UnmarshalYAML accepts both the scalar shorthand (`on: workflow_dispatch`)
// and the full mapping form.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		return t.enableByName(name)
	}
	if value.Kind == yaml.SequenceNode {
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		for _, name := range names {
			if err := t.enableByName(name); err != nil {
				return err
			}
		}
		return nil
	}

	type plain Triggers
	return value.Decode((*plain)(t))
}

func (t *Triggers) enableByName(name string) error {
	switch name {
	case "pull_request":
		t.PullRequest = &PullRequest{}
	case "workflow_dispatch":
		t.WorkflowDispatch = &Dispatch{}
	case "schedule":
		return fmt.Errorf("trigger %q requires a cron expression", name)
	default:
		return fmt.Errorf("unsupported trigger %q", name)
	}
	return nil
}

// cronParser accepts the standard five-field cron syntax used in workflow
// files. Descriptors like @daily are deliberately excluded.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// validate checks every declared trigger for well-formedness.
func (t *Triggers) validate() error {
	for i, s := range t.Schedule {
		if s.Cron == "" {
			return fmt.Errorf("schedule entry %d: missing cron expression", i)
		}
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedule entry %d: invalid cron %q: %w", i, s.Cron, err)
		}
	}
	if t.WorkflowDispatch != nil {
		for name, in := range t.WorkflowDispatch.Inputs {
			if in == nil {
				continue
			}
			switch in.Type {
			case "", "string", "boolean", "number", "choice":
			default:
				return fmt.Errorf("dispatch input %q: unsupported type %q", name, in.Type)
			}
			if in.Type == "choice" && len(in.Options) == 0 {
				return fmt.Errorf("dispatch input %q: choice type requires options", name)
			}
		}
	}
	return nil
}

// NextActivation returns the earliest upcoming activation across all
// schedule triggers, or the zero time if the workflow has no schedule.
func (t *Triggers) NextActivation(after time.Time) time.Time {
	var next time.Time
	for _, s := range t.Schedule {
		sched, err := cronParser.Parse(s.Cron)
		if err != nil {
			continue // validate() rejects these before a run starts
		}
		when := sched.Next(after)
		if next.IsZero() || when.Before(next) {
			next = when
		}
	}
	return next
}

// ResolveDispatchInputs merges user-provided values with declared defaults,
// rejecting unknown names, missing required inputs, and out-of-range choices.
func (t *Triggers) ResolveDispatchInputs(provided map[string]string) (map[string]string, error) {
	if t.WorkflowDispatch == nil {
		if len(provided) > 0 {
			return nil, fmt.Errorf("workflow has no workflow_dispatch trigger")
		}
		return nil, nil
	}

	resolved := make(map[string]string, len(t.WorkflowDispatch.Inputs))
	for name, in := range t.WorkflowDispatch.Inputs {
		if in == nil {
			in = &DispatchInput{}
		}
		val, ok := provided[name]
		if !ok {
			if in.Required && in.Default == "" {
				return nil, fmt.Errorf("required input %q not provided", name)
			}
			val = in.Default
		}
		if in.Type == "choice" && val != "" {
			valid := false
			for _, opt := range in.Options {
				if opt == val {
					valid = true
					break
				}
			}
			if !valid {
				return nil, fmt.Errorf("input %q: value %q is not one of %v", name, val, in.Options)
			}
		}
		resolved[name] = val
	}
	for name := range provided {
		if _, ok := t.WorkflowDispatch.Inputs[name]; !ok {
			return nil, fmt.Errorf("unknown dispatch input %q", name)
		}
	}
	return resolved, nil
}
