// Package graph models the dependency graph built during a resolution
// pass: one node per skill, edges from each requirer to its
// requirements, conflict accumulation for mismatched constraints, cycle
// detection, and a deterministic topological install order.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kurultai/kurultai/internal/skill"
)

// Node is a vertex in the dependency graph. The constraint recorded is
// the one that first introduced the node; later requirers with a
// different constraint land in the graph's conflict list instead of
// overwriting it.
type Node struct {
	Name            string
	Constraint      string
	ResolvedVersion string

	// parent names the node whose dependency list introduced this one.
	// Empty for top-level dependencies. Stored as a name rather than a
	// pointer; Path resolves it through the graph's node table.
	parent string
	g      *Graph
}

// Parent returns the introducing node, or nil for a top-level node.
func (n *Node) Parent() *Node {
	if n.parent == "" {
		return nil
	}
	return n.g.nodes[n.parent]
}

// Path walks parent references to the root and returns the chain of
// names ending at this node. Used only for error reporting.
func (n *Node) Path() []string {
	var names []string
	seen := make(map[string]bool)
	for cur := n; cur != nil && !seen[cur.Name]; cur = cur.Parent() {
		seen[cur.Name] = true
		names = append(names, cur.Name)
	}
	// reverse to root-first order
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Conflict records a constraint that disagreed with the one already
// stored for a node, together with the path that introduced it.
type Conflict struct {
	Constraint string
	Path       []string
}

// CircularDependencyError is returned when the graph contains a
// dependency cycle. Cycle lists the member names with the entry node
// repeated at the end to show closure.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is a mutable dependency graph. It is built by a single
// resolution pass and is not safe for concurrent mutation; concurrent
// resolutions each construct their own Graph.
type Graph struct {
	nodes     map[string]*Node
	edges     map[string]map[string]struct{}
	conflicts map[string][]Conflict
	resolved  map[string]skill.ResolvedDependency
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]map[string]struct{}),
		conflicts: make(map[string][]Conflict),
		resolved:  make(map[string]skill.ResolvedDependency),
	}
}

// AddNode records a requirement on name under the given constraint. If
// the name is new, a node is created and, when a parent is given, an
// edge parent -> name is added. If the name already exists and the
// incoming constraint differs from the stored one, the disagreement is
// appended to the conflict list and the existing node is returned
// unmodified.
func (g *Graph) AddNode(name, constraint string, parent *Node) *Node {
	if existing, ok := g.nodes[name]; ok {
		if existing.Constraint != constraint {
			var path []string
			if parent != nil {
				path = parent.Path()
			}
			g.conflicts[name] = append(g.conflicts[name], Conflict{Constraint: constraint, Path: path})
		}
		if parent != nil {
			g.AddEdge(parent.Name, name)
		}
		return existing
	}

	node := &Node{Name: name, Constraint: constraint, g: g}
	if parent != nil {
		node.parent = parent.Name
		g.AddEdge(parent.Name, name)
	}
	g.nodes[name] = node
	return node
}

// Node returns the node for name, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddEdge records that from requires to. Idempotent.
func (g *Graph) AddEdge(from, to string) {
	set, ok := g.edges[from]
	if !ok {
		set = make(map[string]struct{})
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

// SetResolved records the resolution for name and back-fills the
// node's resolved version.
func (g *Graph) SetResolved(name string, dep skill.ResolvedDependency) {
	g.resolved[name] = dep
	if node, ok := g.nodes[name]; ok {
		node.ResolvedVersion = dep.Version
	}
}

// Resolved returns the recorded resolution for name, if any.
func (g *Graph) Resolved(name string) (skill.ResolvedDependency, bool) {
	dep, ok := g.resolved[name]
	return dep, ok
}

// HasConflict reports whether name accumulated conflicting constraints.
func (g *Graph) HasConflict(name string) bool {
	return len(g.conflicts[name]) > 0
}

// Conflicts returns all accumulated conflicts keyed by skill name.
func (g *Graph) Conflicts() map[string][]Conflict {
	return g.conflicts
}

// DFS colors for cycle detection.
const (
	white = iota // unvisited
	gray         // on the current stack
	black        // fully explored
)

// DetectCycles runs a three-color depth-first search over every node,
// not just those reachable from top level, since a graph may hold
// multiple independent subtrees. It returns the first cycle found as
// the member sequence closed by repeating the entry node, or nil when
// the graph is acyclic. A self-edge counts as a cycle.
func (g *Graph) DetectCycles() []string {
	color := make(map[string]int, len(g.nodes))

	names := g.sortedNames()
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)

		for _, next := range g.sortedNeighbors(name) {
			switch color[next] {
			case gray:
				// close the loop from next's first occurrence on the stack
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, next)
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] != white {
			continue
		}
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}

// TopologicalSort orders the graph requirers-first using Kahn's
// algorithm. Cycles are checked up front and reported as a
// CircularDependencyError. Determinism rule: among all zero-in-degree
// nodes the lexicographically smallest name is removed first, and a
// removed node's neighbors are relaxed in lexicographic order, so the
// result is independent of insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if cycle := g.DetectCycles(); cycle != nil {
		return nil, &CircularDependencyError{Cycle: cycle}
	}

	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.sortedNames() {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
	}
	for from, tos := range g.edges {
		if _, ok := indegree[from]; !ok {
			indegree[from] = 0
		}
		for to := range tos {
			indegree[to]++
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, next := range g.sortedNeighbors(name) {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Strings(ready)
	}

	return order, nil
}

// InstallationOrder returns the resolved units in dependencies-first
// order: the reverse of TopologicalSort, mapped through the resolved
// set. Names without a resolution are dropped; a successful resolution
// pass resolves every node, so drops only occur on partially built
// graphs.
func (g *Graph) InstallationOrder() ([]skill.ResolvedDependency, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	deps := make([]skill.ResolvedDependency, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		if dep, ok := g.resolved[order[i]]; ok {
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			names = append(names, from)
		}
	}
	sort.Strings(names)
	return names
}

func (g *Graph) sortedNeighbors(name string) []string {
	set := g.edges[name]
	if len(set) == 0 {
		return nil
	}
	neighbors := make([]string, 0, len(set))
	for n := range set {
		neighbors = append(neighbors, n)
	}
	sort.Strings(neighbors)
	return neighbors
}
