package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// JobSet is the result of matrix expansion: the concrete job instances to
// schedule, plus an alias table mapping each template job name to the names
// of its instances so `needs:` references to a matrix job fan out to every
// combination. Groups carries the per-template scheduling knobs the
// instances share.
type JobSet struct {
	Jobs    map[string]*Job
	Aliases map[string][]string
	Groups  map[string]MatrixGroup
}

// MatrixGroup holds the strategy knobs of one matrix template, applied to
// all of its instances collectively.
type MatrixGroup struct {
	// MaxParallel caps how many instances of the template run at once.
	// 0 means no cap beyond the global worker bound.
	MaxParallel int
	// FailFast cancels instances that have not started once a sibling
	// instance fails.
	FailFast bool
}

// Expand turns every job with a strategy matrix into one independent job
// instance per cartesian combination. Instances inherit the template's
// steps, needs edges, condition, and timeout; the combination is recorded
// on the instance and suffixed onto its name.
func Expand(wf *Workflow) (*JobSet, error) {
	set := &JobSet{
		Jobs:    make(map[string]*Job),
		Aliases: make(map[string][]string),
		Groups:  make(map[string]MatrixGroup),
	}

	for name, job := range wf.Jobs {
		if job.Strategy == nil || len(job.Strategy.Matrix) == 0 {
			set.Jobs[name] = job
			set.Aliases[name] = []string{name}
			continue
		}

		set.Groups[name] = MatrixGroup{
			MaxParallel: job.Strategy.MaxParallel,
			FailFast:    job.Strategy.FailFast != nil && *job.Strategy.FailFast,
		}

		combos := combinations(job.Strategy.Matrix)
		instances := make([]string, 0, len(combos))
		for _, combo := range combos {
			inst := instantiate(job, combo)
			if _, exists := set.Jobs[inst.Name]; exists {
				return nil, fmt.Errorf("matrix expansion of %q collides on instance name %q", name, inst.Name)
			}
			set.Jobs[inst.Name] = inst
			instances = append(instances, inst.Name)
		}
		set.Aliases[name] = instances
	}

	return set, nil
}

// combinations produces the cartesian product of the matrix dimensions in
// deterministic order (dimensions sorted by name).
func combinations(matrix map[string][]string) []map[string]string {
	dims := make([]string, 0, len(matrix))
	for dim := range matrix {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	combos := []map[string]string{{}}
	for _, dim := range dims {
		next := make([]map[string]string, 0, len(combos)*len(matrix[dim]))
		for _, combo := range combos {
			for _, val := range matrix[dim] {
				grown := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					grown[k] = v
				}
				grown[dim] = val
				next = append(next, grown)
			}
		}
		combos = next
	}
	return combos
}

// instantiate clones the template job for one concrete combination. The
// clone shares the template's immutable steps and services; only the
// identity fields differ.
func instantiate(template *Job, combo map[string]string) *Job {
	inst := *template
	inst.Name = instanceName(template.Name, combo)
	inst.Template = template.Name
	inst.Strategy = nil
	inst.Matrix = combo

	// Needs must be an independent slice; the dag builder annotates nothing,
	// but sharing backing arrays across instances invites aliasing bugs.
	inst.Needs = append(StringList(nil), template.Needs...)
	return &inst
}

// instanceName renders "job (k=v, k=v)" with keys sorted for stability.
func instanceName(base string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + combo[k]
	}
	return fmt.Sprintf("%s (%s)", base, strings.Join(parts, ", "))
}
