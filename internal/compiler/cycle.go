package compiler

import (
	"slices"
	"strings"

	"github.com/roach88/diel/internal/report"
)

// Cycle is one dependency cycle among relations.
type Cycle struct {
	Path []string `json:"path"` // ["v1", "v2", "v1"]
}

func (c Cycle) String() string {
	return strings.Join(c.Path, " -> ")
}

// FindCycles returns every dependency cycle in tree, using Tarjan's
// strongly connected components. A valid DIEL program is a DAG, so any
// result is a user error. Edges to names absent from the tree are
// ignored.
//
// Output is deterministic: nodes are visited in sorted order and each
// cycle path starts at its smallest member.
func FindCycles(tree DependencyTree) []Cycle {
	sccs := tarjanSCC(tree)

	var cycles []Cycle
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], tree)) {
			cycles = append(cycles, Cycle{Path: reconstructCyclePath(scc, tree)})
		}
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return cycles
}

// CheckAcyclic is the acyclicity pass run before any recursive planner.
// It returns an ErrCycle user error naming the first cycle found.
func CheckAcyclic(tree DependencyTree) error {
	cycles := FindCycles(tree)
	if len(cycles) == 0 {
		return nil
	}
	return report.ErrCycle.New(cycles[0].String())
}

func hasSelfLoop(node string, tree DependencyTree) bool {
	return slices.Contains(tree[node].DependsOn, node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are not cycles.
func tarjanSCC(tree DependencyTree) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range tree[v].DependsOn {
			if _, known := tree[w]; !known {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range tree.Names() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath walks dependency edges inside the SCC from its
// smallest member until it returns there.
func reconstructCyclePath(scc []string, tree DependencyTree) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := slices.Min(scc)
	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		next := ""
		for _, dep := range tree[current].DependsOn {
			if members[dep] && (!visited[dep] || dep == start) {
				next = dep
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
