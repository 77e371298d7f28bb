package authz

import "context"

// defaultMaxDepth bounds the hierarchy walk. Real hierarchies are a few
// levels deep; the cap only matters for malformed graphs.
const defaultMaxDepth = 10

// EdgeSource supplies the declared permission hierarchy edges.
type EdgeSource interface {
	ListHierarchy(ctx context.Context) ([]HierarchyEdge, error)
}

// HierarchyResolver computes, for a target permission name, the set of
// permission names whose possession satisfies a check for the target:
// the target itself plus all of its ancestors. Holding a broader parent
// permission satisfies a check for a narrower child, never the reverse.
type HierarchyResolver interface {
	Resolve(ctx context.Context, name string) ([]string, error)
}

type bfsResolver struct {
	edges    EdgeSource
	maxDepth int
}

// NewHierarchyResolver builds a resolver over the given edge source.
// A non-positive maxDepth selects the default bound.
func NewHierarchyResolver(edges EdgeSource, maxDepth int) HierarchyResolver {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &bfsResolver{edges: edges, maxDepth: maxDepth}
}

// Resolve walks parent links breadth-first from the target. The visited set
// guarantees termination even when the stored graph contains a cycle; in
// that case the closure computed up to the repeated node is returned.
func (r *bfsResolver) Resolve(ctx context.Context, name string) ([]string, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, nil
	}

	edges, err := r.edges.ListHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[string][]string, len(edges))
	for _, e := range edges {
		child := normalizeName(e.ChildName)
		parents[child] = append(parents[child], normalizeName(e.ParentName))
	}

	type node struct {
		name  string
		depth int
	}
	visited := map[string]struct{}{name: {}}
	closure := []string{name}
	queue := []node{{name: name}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= r.maxDepth {
			continue
		}
		for _, parent := range parents[current.name] {
			if _, seen := visited[parent]; seen {
				continue
			}
			visited[parent] = struct{}{}
			closure = append(closure, parent)
			queue = append(queue, node{name: parent, depth: current.depth + 1})
		}
	}
	return closure, nil
}
