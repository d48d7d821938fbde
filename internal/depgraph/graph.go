// Package depgraph answers "can this task be claimed" and "would this
// change introduce a cycle" over the unified cross-system task graph:
// hierarchical and standalone tasks share one adjacency space, edges
// pointing from a dependent task to each of its prerequisites (§4.6).
package depgraph

import (
	"sort"

	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

// Graph is a directed graph over tasks: edges[id] lists the bare IDs of
// id's prerequisites. Missing prerequisites (no matching node) are kept in
// the edge list so callers can report them, but they never participate in
// cycle detection since DFS only follows edges into known nodes.
type Graph struct {
	nodes map[string]*object.Object // bare id -> task
	edges map[string][]string       // bare id -> bare prerequisite ids
}

// bareID strips a wire-form task ID ("T-foo" or the "task-foo" alias) down
// to its slug so both spellings of the same prerequisite collide in the
// graph, as §6 requires ("task-<slug>" accepted as an alias on input).
func bareID(id string) string {
	_, bare, err := resolver.SplitID(id)
	if err != nil {
		return id
	}
	return bare
}

// BuildGraph constructs the cross-system graph from every known task
// (hierarchical and standalone unified into one node set). It never fails:
// a task listing a prerequisite outside tasks is a valid graph with a
// dangling edge, surfaced by IsUnblocked as CrossSystemPrerequisiteInvalid,
// not a construction error.
func BuildGraph(tasks []*object.Object) *Graph {
	g := &Graph{nodes: make(map[string]*object.Object, len(tasks)), edges: make(map[string][]string, len(tasks))}
	for _, t := range tasks {
		if t.Kind != object.KindTask {
			continue
		}
		g.nodes[bareID(t.ID)] = t
	}
	for _, t := range tasks {
		if t.Kind != object.KindTask {
			continue
		}
		id := bareID(t.ID)
		deps := make([]string, 0, len(t.Prerequisites))
		for _, p := range t.Prerequisites {
			deps = append(deps, bareID(p))
		}
		g.edges[id] = deps
	}
	return g
}

// Nodes returns every task's bare ID in sorted order, for deterministic
// traversal.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Task returns the node for a bare task ID, or nil if unknown.
func (g *Graph) Task(bare string) *object.Object {
	return g.nodes[bare]
}

// Prerequisites returns the bare prerequisite IDs for a bare task ID,
// including any that don't resolve to a known node.
func (g *Graph) Prerequisites(bare string) []string {
	deps := g.edges[bare]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// CycleError identifies one witnessing cycle, not merely the fact a cycle
// exists (§4.6).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected among prerequisites: " + joinArrow(e.Path)
}

func joinArrow(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

const (
	white = 0
	gray  = 1
	black = 2
)

// DetectCycle runs tri-color DFS over the graph and returns the first
// witnessing cycle found, or nil if the graph is acyclic. Traversal order
// is deterministic (sorted nodes) so the same malformed graph always
// reports the same witness.
func (g *Graph) DetectCycle() *CycleError {
	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))

	var dfs func(node string) *CycleError
	dfs = func(node string) *CycleError {
		color[node] = gray
		for _, dep := range g.edges[node] {
			if _, known := g.nodes[dep]; !known {
				continue // dangling prerequisite, not a cycle candidate
			}
			switch color[dep] {
			case gray:
				path := []string{dep}
				for cur := node; cur != dep; cur = parent[cur] {
					path = append(path, cur)
				}
				path = append(path, dep)
				return &CycleError{Path: path}
			case white:
				parent[dep] = node
				if cyc := dfs(dep); cyc != nil {
					return cyc
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, node := range g.Nodes() {
		if color[node] == white {
			if cyc := dfs(node); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// WouldIntroduceCycle checks whether replacing changedID's prerequisites
// with newPrereqs (on createObject/updateObject) would make the graph
// cyclic, without mutating tasks or the graph the caller is holding. This
// is the incremental check §4.6 requires before accepting a prerequisites
// edit.
func WouldIntroduceCycle(tasks []*object.Object, changedID string, newPrereqs []string) *CycleError {
	hypothetical := make([]*object.Object, 0, len(tasks))
	changed := bareID(changedID)
	found := false
	for _, t := range tasks {
		if t.Kind == object.KindTask && bareID(t.ID) == changed {
			clone := *t
			clone.Prerequisites = newPrereqs
			hypothetical = append(hypothetical, &clone)
			found = true
			continue
		}
		hypothetical = append(hypothetical, t)
	}
	if !found {
		clone := &object.Object{Kind: object.KindTask, ID: changedID, Prerequisites: newPrereqs}
		hypothetical = append(hypothetical, clone)
	}
	return BuildGraph(hypothetical).DetectCycle()
}

// IsUnblocked reports whether every prerequisite of a task is done. A
// prerequisite that doesn't resolve to a known task is reported in
// missing, and the task is never considered unblocked while any are
// missing (§4.6: "a missing prerequisite yields a CrossSystemPrerequisiteInvalid
// error — not unblocked and not silently ignored").
func (g *Graph) IsUnblocked(bare string) (unblocked bool, incomplete []string, missing []string) {
	for _, dep := range g.edges[bare] {
		node, known := g.nodes[dep]
		if !known {
			missing = append(missing, dep)
			continue
		}
		if node.Status != object.StatusDone {
			incomplete = append(incomplete, dep)
		}
	}
	unblocked = len(incomplete) == 0 && len(missing) == 0
	return unblocked, incomplete, missing
}
