package flow

import (
	"github.com/flowgrid/flowgrid/pkg/models"
)

// Plan is the topological execution plan for one flow. Nodes are grouped into
// waves: every node's predecessors live in strictly earlier waves, so the
// nodes of one wave can run concurrently against the same committed snapshot.
type Plan struct {
	// Reachable holds the IDs of nodes reachable from a start node. Only
	// reachable nodes are executed or recorded.
	Reachable map[string]bool

	// Waves lists reachable nodes in dependency order.
	Waves [][]*models.Node
}

// NodeCount returns the number of planned nodes.
func (p *Plan) NodeCount() int {
	count := 0
	for _, wave := range p.Waves {
		count += len(wave)
	}

	return count
}

// BuildPlan computes the reachable subgraph and its wave decomposition.
// A cycle among reachable nodes yields a validation error since no
// topological order exists.
func BuildPlan(flow *models.Flow) (*Plan, error) {
	starts := flow.StartNodes()
	if len(starts) == 0 {
		return nil, models.NewExecutionError(models.ErrKindValidation, "flow has no start nodes")
	}

	reachable := reachableNodes(flow, starts)

	// Kahn's algorithm over the reachable subgraph, keeping declaration
	// order inside each wave so plans are deterministic.
	inDegree := make(map[string]int, len(reachable))

	for id := range reachable {
		inDegree[id] = 0
	}

	for _, edge := range flow.Edges {
		if reachable[edge.SourceNodeID] && reachable[edge.TargetNodeID] {
			inDegree[edge.TargetNodeID]++
		}
	}

	placed := 0
	waves := make([][]*models.Node, 0)
	ready := make(map[string]bool, len(reachable))

	for id, degree := range inDegree {
		if degree == 0 {
			ready[id] = true
		}
	}

	for len(ready) > 0 {
		wave := make([]*models.Node, 0, len(ready))

		for _, node := range flow.Nodes {
			if ready[node.ID] {
				wave = append(wave, node)
			}
		}

		next := make(map[string]bool)

		for _, node := range wave {
			for _, edge := range flow.OutgoingEdges(node.ID) {
				if !reachable[edge.TargetNodeID] {
					continue
				}

				inDegree[edge.TargetNodeID]--
				if inDegree[edge.TargetNodeID] == 0 {
					next[edge.TargetNodeID] = true
				}
			}
		}

		waves = append(waves, wave)
		placed += len(wave)
		ready = next
	}

	if placed != len(reachable) {
		return nil, models.NewExecutionError(models.ErrKindValidation, "flow contains a cycle")
	}

	return &Plan{Reachable: reachable, Waves: waves}, nil
}
