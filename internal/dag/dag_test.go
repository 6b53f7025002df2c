package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestGraph_TopoSortIsDeterministic(t *testing.T) {
	t.Parallel()

	g := buildGraph(t,
		[]string{"build", "lint", "test", "deploy"},
		[][2]string{{"build", "test"}, {"build", "lint"}, {"test", "deploy"}, {"lint", "deploy"}},
	)

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "lint", "test", "deploy"}, order)
}

func TestGraph_DetectCyclesNamesTheCycle(t *testing.T) {
	t.Parallel()

	g := buildGraph(t,
		[]string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}},
	)

	err := g.DetectCycles()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Contains(t, err.Error(), " -> ")
}

func TestGraph_SelfEdgeIsACycle(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	err := g.AddEdge("a", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestGraph_AddEdgeUnknownNode(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	err := g.AddEdge("missing", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestGraph_DependenciesAndDependents(t *testing.T) {
	t.Parallel()

	g := buildGraph(t,
		[]string{"build", "test", "deploy"},
		[][2]string{{"build", "test"}, {"build", "deploy"}, {"test", "deploy"}},
	)

	deps, err := g.Dependencies("deploy")
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "test"}, deps)

	dependents, err := g.Dependents("build")
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "test"}, dependents)
}

func TestGraph_Levels(t *testing.T) {
	t.Parallel()

	g := buildGraph(t,
		[]string{"build", "lint", "test", "deploy"},
		[][2]string{{"build", "test"}, {"test", "deploy"}},
	)

	levels, err := g.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"build", "lint"}, levels[0])
	assert.Equal(t, []string{"test"}, levels[1])
	assert.Equal(t, []string{"deploy"}, levels[2])
}

func TestGraph_TopoSortEmptyGraph(t *testing.T) {
	t.Parallel()

	order, err := New().TopoSort()
	require.NoError(t, err)
	assert.Empty(t, order)
}
