package flow

import (
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/expr"
	"github.com/flowgrid/flowgrid/pkg/models"
)

// ValidationResult collects structural problems found in a flow graph.
// Errors make the flow non-executable; warnings do not.
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether the flow may be executed.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a flow graph for structural soundness without executing
// anything. Validation is pure and re-runnable: the same flow always yields
// the same result.
func Validate(flow *models.Flow) *ValidationResult {
	result := &ValidationResult{}

	if flow == nil {
		result.errorf("flow is nil")

		return result
	}

	if len(flow.Nodes) == 0 {
		result.errorf("flow has no nodes")

		return result
	}

	validateNodes(flow, result)
	validateEdges(flow, result)
	validateConditionals(flow, result)
	validateReachability(flow, result)

	return result
}

func validateNodes(flow *models.Flow, result *ValidationResult) {
	seenIDs := make(map[string]bool, len(flow.Nodes))
	seenKeys := make(map[string]bool, len(flow.Nodes))

	for _, node := range flow.Nodes {
		if node.ID == "" {
			result.errorf("node %q has an empty id", node.Key)
		} else if seenIDs[node.ID] {
			result.errorf("duplicate node id %q", node.ID)
		}

		seenIDs[node.ID] = true

		if node.Key == "" {
			result.errorf("node %q has an empty key", node.ID)
		} else if seenKeys[node.Key] {
			result.errorf("duplicate node key %q", node.Key)
		}

		seenKeys[node.Key] = true

		if !node.IsKnownType() {
			result.errorf("node %q has unknown type %q", node.Key, node.Type)
		}
	}
}

func validateEdges(flow *models.Flow, result *ValidationResult) {
	defaults := make(map[string]int)

	for _, edge := range flow.Edges {
		if flow.NodeByID(edge.SourceNodeID) == nil {
			result.errorf("edge %q references unknown source node %q", edge.ID, edge.SourceNodeID)
		}

		if flow.NodeByID(edge.TargetNodeID) == nil {
			result.errorf("edge %q references unknown target node %q", edge.ID, edge.TargetNodeID)
		}

		if edge.IsDefault {
			port := edge.SourceNodeID + "/" + edge.Source()

			defaults[port]++
			if defaults[port] > 1 {
				result.errorf("node %q has more than one default edge on handle %q", edge.SourceNodeID, edge.Source())
			}
		}

		if edge.Condition != "" {
			if _, err := expr.Parse(edge.Condition); err != nil {
				result.errorf("edge %q has a malformed condition: %v", edge.ID, err)
			}
		}
	}
}

func validateConditionals(flow *models.Flow, result *ValidationResult) {
	for _, node := range flow.Nodes {
		if node.Type != models.NodeTypeConditional {
			continue
		}

		outgoing := flow.OutgoingEdges(node.ID)
		if len(outgoing) == 0 {
			result.errorf("conditional node %q has no outgoing edges", node.Key)

			continue
		}

		covered := false

		for _, edge := range outgoing {
			if edge.IsDefault || edge.Condition != "" || edge.SourceHandle != "" {
				covered = true

				break
			}
		}

		if !covered {
			result.errorf("conditional node %q needs at least one outgoing edge with a handle, a condition or a default", node.Key)
		}
	}
}

func validateReachability(flow *models.Flow, result *ValidationResult) {
	starts := flow.StartNodes()
	if len(starts) == 0 {
		result.errorf("flow has no start nodes; every node has incoming edges")

		return
	}

	reachable := reachableNodes(flow, starts)

	hasOutput := false

	for _, node := range flow.Nodes {
		if node.Type == models.NodeTypeOutput {
			hasOutput = true

			if !reachable[node.ID] {
				result.errorf("output node %q is not reachable from any start node", node.Key)
			}
		} else if !reachable[node.ID] {
			result.warnf("node %q is not reachable from any start node and will never run", node.Key)
		}
	}

	if !hasOutput {
		result.warnf("flow has no output nodes; executions cannot produce a result")
	}

	if cycle := findCycle(flow, reachable); cycle != "" {
		result.errorf("flow contains a cycle through node %q", cycle)
	}
}

func reachableNodes(flow *models.Flow, starts []*models.Node) map[string]bool {
	reachable := make(map[string]bool, len(flow.Nodes))
	queue := make([]string, 0, len(starts))

	for _, node := range starts {
		reachable[node.ID] = true
		queue = append(queue, node.ID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range flow.OutgoingEdges(current) {
			if flow.NodeByID(edge.TargetNodeID) == nil || reachable[edge.TargetNodeID] {
				continue
			}

			reachable[edge.TargetNodeID] = true
			queue = append(queue, edge.TargetNodeID)
		}
	}

	return reachable
}

// findCycle runs a colored depth-first search over the reachable subgraph and
// returns the key of a node on a cycle, or "".
func findCycle(flow *models.Flow, reachable map[string]bool) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	colors := make(map[string]int, len(flow.Nodes))

	var visit func(id string) string

	visit = func(id string) string {
		colors[id] = grey

		for _, edge := range flow.OutgoingEdges(id) {
			target := edge.TargetNodeID
			if !reachable[target] {
				continue
			}

			switch colors[target] {
			case grey:
				if node := flow.NodeByID(target); node != nil {
					return node.Key
				}

				return target
			case white:
				if key := visit(target); key != "" {
					return key
				}
			}
		}

		colors[id] = black

		return ""
	}

	for _, node := range flow.Nodes {
		if reachable[node.ID] && colors[node.ID] == white {
			if key := visit(node.ID); key != "" {
				return key
			}
		}
	}

	return ""
}
