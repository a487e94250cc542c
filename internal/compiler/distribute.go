package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// SingleDistribution is one shipping instruction: copy Relation from
// engine From to engine To so ForRelation can be evaluated there, on the
// way to serving FinalOutput.
type SingleDistribution struct {
	Relation    string  `json:"relation" yaml:"relation"`
	From        ir.DbID `json:"from" yaml:"from"`
	To          ir.DbID `json:"to" yaml:"to"`
	ForRelation string  `json:"for_relation" yaml:"for_relation"`
	FinalOutput string  `json:"final_output" yaml:"final_output"`
}

func (d SingleDistribution) String() string {
	return fmt.Sprintf("%s %d->%d (for %s, output %s)", d.Relation, d.From, d.To, d.ForRelation, d.FinalOutput)
}

// IsCrossEngine reports whether the instruction moves data between engines.
func (d SingleDistribution) IsCrossEngine() bool {
	return d.From != d.To
}

// OwnerPolicy chooses the engine that evaluates a derived relation from
// the engines its dependencies landed on (one entry per dependency, in
// dependency order). It must be deterministic.
type OwnerPolicy func(candidates []ir.DbID) ir.DbID

// MaxOwner picks the largest engine id. With no candidates it picks the
// local engine.
func MaxOwner(candidates []ir.DbID) ir.DbID {
	if len(candidates) == 0 {
		return ir.LocalDbID
	}
	return slices.Max(candidates)
}

// MajorityOwner picks the engine most dependencies landed on. Ties go to
// the largest id.
func MajorityOwner(candidates []ir.DbID) ir.DbID {
	if len(candidates) == 0 {
		return ir.LocalDbID
	}
	counts := make(map[ir.DbID]int)
	for _, c := range candidates {
		counts[c]++
	}
	best, bestCount := ir.DbID(0), 0
	for _, id := range slices.Sorted(maps.Keys(counts)) {
		if counts[id] >= bestCount {
			best, bestCount = id, counts[id]
		}
	}
	return best
}

// OwnerPolicyByName resolves a configured policy name.
func OwnerPolicyByName(name string) (OwnerPolicy, error) {
	switch name {
	case "", "max":
		return MaxOwner, nil
	case "majority":
		return MajorityOwner, nil
	}
	return nil, fmt.Errorf("unknown owner policy %q", name)
}

type evalResult struct {
	relation string
	dbID     ir.DbID // where the relation is available now
	fromDbID ir.DbID // where it was computed
}

type planner struct {
	tree   DependencyTree
	policy OwnerPolicy
	output string
	out    []SingleDistribution
}

// PlanDistribution computes the shipping instructions that bring every
// dependency of output to its evaluation point. tree must be augmented
// (Augment) and acyclic (CheckAcyclic).
//
// The walk recurses through dependencies in sorted order without
// memoization:
//   - A base relation is resident on its RemoteID; it emits a
//     self-to-self instruction.
//   - A derived relation evaluates its dependencies, asks policy for an
//     owner, and emits one instruction per dependency from where it
//     landed to the owner (same-engine entries included, so the plan
//     lists every input of every evaluation).
//   - An event view or output then also emits owner -> LocalDbID and
//     lands locally, since bound outputs are only read from the local
//     engine.
//
// A relation missing from tree, or a base relation with no engine, is an
// internal error that aborts planning for this output.
func PlanDistribution(output string, tree DependencyTree, policy OwnerPolicy) ([]SingleDistribution, error) {
	if policy == nil {
		return nil, report.ErrArgNull.New("policy")
	}
	p := &planner{tree: tree, policy: policy, output: output}
	if _, err := p.eval(output); err != nil {
		return nil, err
	}
	return p.out, nil
}

func (p *planner) emit(rel string, from, to ir.DbID, forRel string) {
	p.out = append(p.out, SingleDistribution{
		Relation:    rel,
		From:        from,
		To:          to,
		ForRelation: forRel,
		FinalOutput: p.output,
	})
}

func (p *planner) eval(name string) (evalResult, error) {
	node, ok := p.tree[name]
	if !ok {
		return evalResult{}, report.ErrRelationNotFound.New(name)
	}

	if !node.Kind.IsDerived() {
		if node.RemoteID == 0 {
			return evalResult{}, report.ErrMissingEngine.New(name)
		}
		p.emit(name, node.RemoteID, node.RemoteID, name)
		return evalResult{relation: name, dbID: node.RemoteID, fromDbID: node.RemoteID}, nil
	}

	deps := make([]evalResult, 0, len(node.DependsOn))
	candidates := make([]ir.DbID, 0, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		r, err := p.eval(dep)
		if err != nil {
			return evalResult{}, err
		}
		deps = append(deps, r)
		candidates = append(candidates, r.dbID)
	}

	owner := p.policy(candidates)
	for _, d := range deps {
		p.emit(d.relation, d.dbID, owner, name)
	}

	if node.Kind == ir.EventView || node.Kind == ir.Output {
		p.emit(name, owner, ir.LocalDbID, name)
		return evalResult{relation: name, dbID: ir.LocalDbID, fromDbID: owner}, nil
	}
	return evalResult{relation: name, dbID: owner, fromDbID: owner}, nil
}

// Placement maps every relation output depends on (and output itself) to
// the engine that evaluates it, derived from a plan.
func Placement(plan []SingleDistribution) map[string]ir.DbID {
	owners := make(map[string]ir.DbID)
	for _, d := range plan {
		if d.Relation == d.ForRelation {
			// base self-to-self, or the final hop of an event view/output
			if _, seen := owners[d.Relation]; !seen {
				owners[d.Relation] = d.From
			}
			continue
		}
		if _, seen := owners[d.ForRelation]; !seen {
			owners[d.ForRelation] = d.To
		}
	}
	return owners
}

// ShipTarget is one routing table entry: on a new input, ship Relation
// to engine Destination.
type ShipTarget struct {
	Destination ir.DbID `json:"destination"`
	Relation    string  `json:"relation"`
}

// RelationsToShip returns the routing entries for an event emitted on
// engine source: every cross-engine instruction whose relation is the
// event itself, or a relation that depends on it and is available on
// source. Entries are unique and keep plan order.
func RelationsToShip(plans [][]SingleDistribution, tree DependencyTree, source ir.DbID, event string) []ShipTarget {
	var out []ShipTarget
	seen := make(map[ShipTarget]bool)
	for _, plan := range plans {
		for _, d := range plan {
			if !d.IsCrossEngine() || d.From != source {
				continue
			}
			if d.Relation != event && !DependsTransitively(tree, d.Relation, event) {
				continue
			}
			t := ShipTarget{Destination: d.To, Relation: d.Relation}
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
