package cli

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/diel/internal/compiler"
)

// PlanSummary is the JSON form of the plan command.
type PlanSummary struct {
	Order         []string                         `json:"order"`
	Placement     map[string]int                   `json:"placement"`
	Distributions []compiler.SingleDistribution    `json:"distributions"`
	Routing       map[string][]compiler.ShipTarget `json:"routing"`
	AsyncOutputs  []string                         `json:"async_outputs,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [program]",
		Short: "Show where relations are evaluated and what ships between engines",
		Long: `Show the distribution plan of a DIEL program: the engine that evaluates
each relation, every shipping instruction, and the routing table that
says what to ship when an event arrives.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	plan, err := buildPlan(cmd.Context(), opts, args, formatter)
	if err != nil {
		return err
	}
	summary := summarizePlan(plan)

	if formatter.JSON() {
		return formatter.Success(summary)
	}

	w := formatter.Writer
	fmt.Fprintln(w, Heading("Placement:"))
	placement := make([][]string, 0, len(summary.Order))
	for _, name := range summary.Order {
		if id, ok := summary.Placement[name]; ok {
			placement = append(placement, []string{name, strconv.Itoa(id)})
		}
	}
	formatter.Table([]string{"relation", "engine"}, placement)

	fmt.Fprintln(w)
	fmt.Fprintln(w, Heading("Shipments:"))
	if len(summary.Distributions) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		rows := make([][]string, len(summary.Distributions))
		for i, d := range summary.Distributions {
			rows[i] = []string{d.Relation, strconv.Itoa(int(d.From)), strconv.Itoa(int(d.To)), d.ForRelation, d.FinalOutput}
		}
		formatter.Table([]string{"relation", "from", "to", "for", "output"}, rows)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, Heading("Routing:"))
	var routing [][]string
	for _, event := range sortedMapKeys(summary.Routing) {
		for _, t := range summary.Routing[event] {
			routing = append(routing, []string{event, t.Relation, strconv.Itoa(int(t.Destination))})
		}
	}
	if len(routing) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		formatter.Table([]string{"event", "ships", "to"}, routing)
	}

	if len(summary.AsyncOutputs) > 0 {
		fmt.Fprintf(w, "\nAsync outputs: %v\n", summary.AsyncOutputs)
	}
	return nil
}

// summarizePlan flattens the plan's cross-engine instructions in
// relation order.
func summarizePlan(plan *compiler.Plan) PlanSummary {
	s := PlanSummary{
		Order:        plan.Order,
		Placement:    make(map[string]int, len(plan.Placement)),
		Routing:      plan.Routing,
		AsyncOutputs: plan.AsyncOutputs,
	}
	for name, id := range plan.Placement {
		s.Placement[name] = int(id)
	}
	for _, rel := range sortedMapKeys(plan.Distributions) {
		for _, d := range plan.Distributions[rel] {
			if d.IsCrossEngine() && !slices.Contains(s.Distributions, d) {
				s.Distributions = append(s.Distributions, d)
			}
		}
	}
	return s
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
