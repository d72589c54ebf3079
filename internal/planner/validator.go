package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/maestro/internal/agents"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/resolver"
)

// Validate runs structural and semantic checks on a candidate workflow and
// accumulates every finding. It is a pure function: no I/O, no registry
// mutation. Only unknown edge endpoints short-circuit, since every later
// check needs a coherent node set.
func Validate(workflow *models.Workflow) models.ValidationResult {
	var errs []string

	if workflow == nil || len(workflow.Nodes) == 0 {
		return invalid("workflow has no nodes")
	}

	nodes := make(map[string]*models.WorkflowNode, len(workflow.Nodes))
	for i := range workflow.Nodes {
		node := &workflow.Nodes[i]
		if node.ID == "" {
			return invalid("node with empty id")
		}
		if _, dup := nodes[node.ID]; dup {
			return invalid(fmt.Sprintf("duplicate node id %q", node.ID))
		}
		nodes[node.ID] = node
	}

	edges := workflow.AllEdges()
	for _, e := range edges {
		if _, ok := nodes[e.From]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node %q", e.From))
		}
		if _, ok := nodes[e.To]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node %q", e.To))
		}
	}
	if len(errs) > 0 {
		// Catastrophic structural fault: later checks assume resolvable edges.
		return models.ValidationResult{Valid: false, Errors: errs}
	}

	if cycle := findCycle(nodes, edges); len(cycle) > 0 {
		errs = append(errs, fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")))
	}

	// dependsOn[to][from] = true when an edge from -> to exists.
	dependsOn := make(map[string]map[string]bool)
	for _, e := range edges {
		if dependsOn[e.To] == nil {
			dependsOn[e.To] = make(map[string]bool)
		}
		dependsOn[e.To][e.From] = true
	}

	for _, node := range orderedNodes(workflow) {
		capability, known := agents.Get(node.AgentType)
		if !known {
			errs = append(errs, fmt.Sprintf("node %q: unknown agent type %q", node.ID, node.AgentType))
			continue
		}

		for _, name := range capability.RequiredInputs() {
			// target_task_id is injected at enqueue, never authored.
			if node.AgentType == agents.AgentReviewer && name == "target_task_id" {
				continue
			}
			if _, ok := node.Inputs[name]; !ok {
				errs = append(errs, fmt.Sprintf("node %q: missing required input %q for agent %q", node.ID, name, node.AgentType))
			}
		}

		for _, ref := range resolver.ExtractRefs(node.Inputs) {
			target, ok := nodes[ref.NodeID]
			if !ok {
				errs = append(errs, fmt.Sprintf("node %q: placeholder references unknown node %q", node.ID, ref.NodeID))
				continue
			}
			if !dependsOn[node.ID][ref.NodeID] {
				errs = append(errs, fmt.Sprintf("node %q: placeholder references %q without a dependency edge %s -> %s", node.ID, ref.NodeID, ref.NodeID, node.ID))
			}
			if targetCap, ok := agents.Get(target.AgentType); ok && !targetCap.HasOutput(ref.Field) {
				errs = append(errs, fmt.Sprintf("node %q: agent %q declares no output %q", node.ID, target.AgentType, ref.Field))
			}
		}

		switch node.AgentType {
		case agents.AgentReviewer:
			if n := len(dependsOn[node.ID]); n != 1 {
				errs = append(errs, fmt.Sprintf("reviewer node %q must have exactly one upstream dependency, has %d", node.ID, n))
			}
		case agents.AgentDesigner:
			errs = append(errs, validateDesignerArtifacts(node)...)
		}
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// validateDesignerArtifacts enforces structured {type, role} artifact
// references on designer nodes: placeholder strings are not accepted there.
func validateDesignerArtifacts(node *models.WorkflowNode) []string {
	raw, ok := node.Inputs["artifacts"]
	if !ok {
		return nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return []string{fmt.Sprintf("node %q: artifacts input must be a list of {type, role} objects", node.ID)}
	}

	var errs []string
	for i, elem := range list {
		obj, ok := elem.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("node %q: artifacts[%d] must be a {type, role} object, not a placeholder string", node.ID, i))
			continue
		}
		typ, _ := obj["type"].(string)
		if !models.ArtifactType(typ).IsValid() {
			errs = append(errs, fmt.Sprintf("node %q: artifacts[%d] has invalid type %q", node.ID, i, typ))
		}
		if role, present := obj["role"]; present {
			roleStr, isStr := role.(string)
			if !isStr || !models.ValidRole(roleStr) {
				errs = append(errs, fmt.Sprintf("node %q: artifacts[%d] has invalid role %v", node.ID, i, role))
			}
		}
	}
	return errs
}

// findCycle runs DFS with a recursion stack and returns the first cycle
// found as a node path, or nil for an acyclic graph.
func findCycle(nodes map[string]*models.WorkflowNode, edges []models.WorkflowEdge) []string {
	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				// Close the loop from the first stack occurrence of next.
				for i, n := range stack {
					if n == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// orderedNodes returns nodes in submission order for stable error output.
func orderedNodes(workflow *models.Workflow) []*models.WorkflowNode {
	out := make([]*models.WorkflowNode, len(workflow.Nodes))
	for i := range workflow.Nodes {
		out[i] = &workflow.Nodes[i]
	}
	return out
}

func invalid(msg string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Errors: []string{msg}}
}
