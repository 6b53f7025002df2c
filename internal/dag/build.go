package dag

import (
	"context"
	"fmt"

	"github.com/stagehand-ci/stagehand/internal/ctxlog"
	"github.com/stagehand-ci/stagehand/internal/workflow"
)

// Build constructs a validated dependency graph from an expanded job set.
//
// A `needs` reference is resolved through the alias table first, so a
// dependency on a matrix template job becomes edges from every instance of
// that template. References that resolve to nothing fail with
// ErrUnknownDependency naming both ends.
func Build(ctx context.Context, set *workflow.JobSet) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)

	graph := New()
	for name := range set.Jobs {
		graph.AddNode(name)
	}
	logger.Debug("Graph nodes created.", "count", graph.Len())

	for name, job := range set.Jobs {
		for _, need := range job.Needs {
			targets, ok := set.Aliases[need]
			if !ok {
				return nil, fmt.Errorf("%w: job %q needs %q, which is not defined", ErrUnknownDependency, name, need)
			}
			for _, target := range targets {
				if err := graph.AddEdge(target, name); err != nil {
					return nil, fmt.Errorf("linking %q -> %q: %w", target, name, err)
				}
			}
		}
	}
	logger.Debug("Graph edges linked.")

	if err := graph.DetectCycles(); err != nil {
		return nil, fmt.Errorf("validating dependency graph: %w", err)
	}
	logger.Debug("Cycle detection passed.")

	return graph, nil
}
