package compiler

import (
	"maps"
	"slices"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// DependencyNode holds the edges of one relation in the dependency tree.
//
// RemoteID and Kind are filled in by Augment; a plain tree built from
// selections carries only edges.
type DependencyNode struct {
	DependsOn    []string // sorted, unique
	IsDependedBy []string // sorted, unique
	RemoteID     ir.DbID
	Kind         ir.RelationKind
}

// DependencyTree maps relation name to its node. Relations that are
// referenced but not declared have no key; consumers treat them as
// static external relations with no further dependencies.
type DependencyTree map[string]*DependencyNode

// Names returns the tree's keys in sorted order.
func (t DependencyTree) Names() []string {
	return slices.Sorted(maps.Keys(t))
}

// FanIn returns the number of distinct relations depending on name.
func (t DependencyTree) FanIn(name string) int {
	if n, ok := t[name]; ok {
		return len(n.IsDependedBy)
	}
	return 0
}

// ReferencedRelations returns the names of relations sel references
// directly: every unit's base ref, every join ref, and every relation
// referenced from a subquery inside columns, where, having, join
// conditions or group-by. Subquery refs in FROM contribute the relations
// they reference, not a name of their own.
//
// A ref with neither a name nor a subquery cannot be resolved. It is
// returned in malformed (one entry per bad ref) and skipped; the rest of
// the selection is still walked.
func ReferencedRelations(owner string, sel *ir.Selection) (names []string, malformed []error) {
	seen := make(map[string]bool)
	var walkSel func(*ir.Selection)
	var walkRef func(ir.RelationRef)
	var walkExpr func(ir.Expr)

	walkRef = func(ref ir.RelationRef) {
		switch {
		case ref.Name != "":
			seen[ref.Name] = true
		case ref.Subquery != nil:
			walkSel(ref.Subquery)
		default:
			malformed = append(malformed, report.ErrMalformedAst.New(owner, "relation reference has no name and no subquery"))
		}
	}

	walkExpr = func(e ir.Expr) {
		ir.WalkExpr(e, func(x ir.Expr) bool {
			if sq, ok := x.(ir.SubqueryExpr); ok {
				walkSel(sq.Selection)
			}
			return true
		})
	}

	walkSel = func(s *ir.Selection) {
		if s == nil {
			return
		}
		for _, cu := range s.Units {
			u := cu.Unit
			if u.Base != nil {
				walkRef(*u.Base)
			}
			for _, j := range u.Joins {
				walkRef(j.Ref)
				walkExpr(j.On)
			}
			for _, c := range u.Columns {
				walkExpr(c.Expr)
			}
			walkExpr(u.Where)
			for _, g := range u.GroupBy {
				walkExpr(g)
			}
			walkExpr(u.Having)
		}
	}

	walkSel(sel)
	return slices.Sorted(maps.Keys(seen)), malformed
}

// BuildDependencyTree computes DependsOn for every relation of ast and
// IsDependedBy as its transpose. Base relations get a node with no edges.
//
// Malformed references are handed to the reporter as internal errors. In
// lenient mode the offending ref is skipped and the other relations are
// still processed; in strict mode the first one aborts the build. A nil
// reporter is strict.
func BuildDependencyTree(ast *ir.Ast, rep *report.Reporter) (DependencyTree, error) {
	if rep == nil {
		rep = report.New(true, nil)
	}
	tree := make(DependencyTree, len(ast.Relations))
	for _, r := range ast.Relations {
		node := &DependencyNode{DependsOn: []string{}, IsDependedBy: []string{}}
		if r.Selection != nil {
			deps, malformed := ReferencedRelations(r.Name, r.Selection)
			for _, err := range malformed {
				if err := rep.Internal(err); err != nil {
					return nil, err
				}
			}
			node.DependsOn = nonNil(deps)
		}
		tree[r.Name] = node
	}
	computeDependedBy(tree)
	return tree, nil
}

// AddDependencies inserts (or replaces) the node for name with the given
// edges and recomputes the transpose. Used when relations are added to a
// running program.
func (t DependencyTree) AddDependencies(name string, deps []string) {
	sorted := slices.Sorted(slices.Values(deps))
	t[name] = &DependencyNode{DependsOn: nonNil(slices.Compact(sorted)), IsDependedBy: []string{}}
	computeDependedBy(t)
}

func computeDependedBy(tree DependencyTree) {
	rev := make(map[string]map[string]bool)
	for name, node := range tree {
		for _, dep := range node.DependsOn {
			if rev[dep] == nil {
				rev[dep] = make(map[string]bool)
			}
			rev[dep][name] = true
		}
	}
	for name, node := range tree {
		node.IsDependedBy = nonNil(slices.Sorted(maps.Keys(rev[name])))
	}
}

// Augment returns a copy of tree whose nodes carry each relation's kind
// and, for base relations, the engine that owns its rows.
func Augment(tree DependencyTree, ast *ir.Ast) DependencyTree {
	out := make(DependencyTree, len(tree))
	for name, node := range tree {
		cp := *node
		if r, ok := ast.Relation(name); ok {
			cp.Kind = r.Kind
			if r.Kind.IsBase() {
				cp.RemoteID = r.RemoteID
			}
		}
		out[name] = &cp
	}
	return out
}

// OriginalDependencies returns the base relations (original and event
// tables) that name transitively depends on, sorted.
func OriginalDependencies(tree DependencyTree, name string) []string {
	found := make(map[string]bool)
	visited := make(map[string]bool)
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		node, ok := tree[cur]
		if !ok {
			continue
		}
		for _, dep := range node.DependsOn {
			if dn, ok := tree[dep]; ok && dn.Kind.IsBase() {
				found[dep] = true
				continue
			}
			stack = append(stack, dep)
		}
	}
	return slices.Sorted(maps.Keys(found))
}

// DependsTransitively reports whether name depends, directly or through
// other relations, on target.
func DependsTransitively(tree DependencyTree, name, target string) bool {
	visited := make(map[string]bool)
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := tree[cur]
		if !ok || visited[cur] {
			continue
		}
		visited[cur] = true
		for _, dep := range node.DependsOn {
			if dep == target {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// MaterializationRecords maps every view or event view with fan-in of
// two or more to the base relations it transitively depends on.
func MaterializationRecords(tree DependencyTree) map[string][]string {
	out := make(map[string][]string)
	for name, node := range tree {
		if node.Kind != ir.View && node.Kind != ir.EventView {
			continue
		}
		if len(node.IsDependedBy) > 1 {
			out[name] = OriginalDependencies(tree, name)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
