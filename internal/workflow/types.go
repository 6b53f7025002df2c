package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow is the top-level document of a workflow file: a named set of
// triggers, shared environment, and jobs keyed by their unique name.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs map[string]*Job   `yaml:"jobs"`
}

// Job is one unit of work: an ordered sequence of steps plus the scheduling
// metadata the engine needs (dependencies, condition, timeout, matrix).
// Jobs are instantiated at parse time and never mutated afterwards; the
// scheduler only references them.
type Job struct {
	// Name is the job's key in the workflow's jobs mapping. For matrix
	// instances it carries the combination suffix, e.g. "test (os=linux)".
	Name string `yaml:"-"`

	RunsOn          string              `yaml:"runs-on"`
	Needs           StringList          `yaml:"needs"`
	If              string              `yaml:"if"`
	TimeoutMinutes  int                 `yaml:"timeout-minutes"`
	Env             map[string]string   `yaml:"env"`
	Strategy        *Strategy           `yaml:"strategy"`
	Services        map[string]*Service `yaml:"services"`
	Steps           []*Step             `yaml:"steps"`

	// Matrix holds the concrete combination this job instance was expanded
	// from. Nil for jobs without a strategy.
	Matrix map[string]string `yaml:"-"`

	// Template is the matrix template this instance was expanded from, or
	// empty for jobs without a strategy.
	Template string `yaml:"-"`
}

// Step is a single action invocation or inline command within a job.
type Step struct {
	Name             string            `yaml:"name"`
	ID               string            `yaml:"id"`
	Uses             string            `yaml:"uses"`
	Run              string            `yaml:"run"`
	Shell            string            `yaml:"shell"`
	With             map[string]string `yaml:"with"`
	Env              map[string]string `yaml:"env"`
	If               string            `yaml:"if"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
	WorkingDirectory string            `yaml:"working-directory"`
}

// Strategy declares a matrix of job variations. Each cartesian combination
// of the matrix dimensions becomes an independent job instance.
type Strategy struct {
	Matrix      map[string][]string `yaml:"-"`
	FailFast    *bool               `yaml:"fail-fast"`
	MaxParallel int                 `yaml:"max-parallel"`
}

// strategyDoc mirrors Strategy for decoding; matrix values may be written
// as strings, numbers, or booleans and are normalized to strings.
type strategyDoc struct {
	Matrix      map[string][]any `yaml:"matrix"`
	FailFast    *bool            `yaml:"fail-fast"`
	MaxParallel int              `yaml:"max-parallel"`
}

// UnmarshalYAML normalizes matrix dimension values to strings.
func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	var doc strategyDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	s.FailFast = doc.FailFast
	s.MaxParallel = doc.MaxParallel
	if doc.Matrix != nil {
		s.Matrix = make(map[string][]string, len(doc.Matrix))
		for dim, vals := range doc.Matrix {
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = fmt.Sprint(v)
			}
			s.Matrix[dim] = strs
		}
	}
	return nil
}

// Service declares a sidecar dependency of a job. The engine does not manage
// containers itself; it only gates step execution on the service's health
// command succeeding.
type Service struct {
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Ports     []string          `yaml:"ports"`
	HealthCmd string            `yaml:"health-cmd"`
}

// StringList decodes a YAML value that may be either a single scalar or a
// sequence of scalars, as `needs:` allows both forms.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	default:
		return fmt.Errorf("expected string or list of strings, got %s node", kindName(value.Kind))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
