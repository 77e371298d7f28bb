package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEdges struct {
	edges []HierarchyEdge
	err   error
}

func (s *staticEdges) ListHierarchy(context.Context) ([]HierarchyEdge, error) {
	return s.edges, s.err
}

func edge(parent, child string) HierarchyEdge {
	return HierarchyEdge{ParentName: parent, ChildName: child}
}

func TestResolveClosure(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("courses.manage", "courses.create"),
		edge("courses.manage", "courses.delete"),
		edge("platform.admin", "courses.manage"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "courses.create")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"courses.create", "courses.manage", "platform.admin"}, closure)

	// Walking goes child to parent only; siblings never appear.
	assert.NotContains(t, closure, "courses.delete")
}

func TestResolveParentHasNoChildren(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("courses.manage", "courses.create"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "courses.manage")
	require.NoError(t, err)
	assert.Equal(t, []string{"courses.manage"}, closure, "a parent is not satisfied by its children")
}

func TestResolveMultipleParents(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("courses.manage", "quizzes.edit"),
		edge("quizzes.manage", "quizzes.edit"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "quizzes.edit")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"quizzes.edit", "courses.manage", "quizzes.manage"}, closure)
}

func TestResolveUnknownName(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("courses.manage", "courses.create"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "never.declared")
	require.NoError(t, err)
	assert.Equal(t, []string{"never.declared"}, closure, "a name outside the hierarchy resolves to itself")
}

func TestResolveTerminatesOnCycle(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("b", "a"),
		edge("c", "b"),
		edge("a", "c"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, closure)
}

func TestResolveDepthBound(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("l1", "l0"),
		edge("l2", "l1"),
		edge("l3", "l2"),
	}}
	r := NewHierarchyResolver(src, 2)

	closure, err := r.Resolve(context.Background(), "l0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l0", "l1", "l2"}, closure, "nodes beyond the depth bound are cut off")
}

func TestResolveNormalizesName(t *testing.T) {
	src := &staticEdges{edges: []HierarchyEdge{
		edge("Courses.Manage", "Courses.Create"),
	}}
	r := NewHierarchyResolver(src, 0)

	closure, err := r.Resolve(context.Background(), "  COURSES.CREATE ")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"courses.create", "courses.manage"}, closure)
}

func TestResolveSourceError(t *testing.T) {
	srcErr := errors.New("store down")
	r := NewHierarchyResolver(&staticEdges{err: srcErr}, 0)

	_, err := r.Resolve(context.Background(), "courses.create")
	require.ErrorIs(t, err, srcErr)
}
