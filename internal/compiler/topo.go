package compiler

import (
	"github.com/roach88/diel/internal/report"
)

// TopoSort orders the tree's keys so that every relation follows all
// relations in its DependsOn set (sources first).
//
// The walk is an iterative depth-first search over keys in sorted order,
// so the result is deterministic. Dependencies absent from the tree are
// static external relations: they are skipped and do not appear in the
// output.
//
// Run CheckAcyclic first. If the walk still meets a back edge, that is a
// compiler bug and TopoSort returns ErrUnexpectedCycle.
func TopoSort(tree DependencyTree) ([]string, error) {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(tree))
	order := make([]string, 0, len(tree))

	type frame struct {
		name string
		next int // index into DependsOn of the next child to visit
	}

	for _, root := range tree.Names() {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{name: root}}
		state[root] = inProgress

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := tree[top.name].DependsOn

			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				if _, ok := tree[dep]; !ok {
					continue
				}
				switch state[dep] {
				case unvisited:
					state[dep] = inProgress
					stack = append(stack, frame{name: dep})
				case inProgress:
					return nil, report.ErrUnexpectedCycle.New(dep)
				}
				continue
			}

			state[top.name] = done
			order = append(order, top.name)
			stack = stack[:len(stack)-1]
		}
	}

	return order, nil
}
