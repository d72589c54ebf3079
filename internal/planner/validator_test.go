package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/maestro/internal/models"
)

func linearWorkflow() *models.Workflow {
	return &models.Workflow{
		Nodes: []models.WorkflowNode{
			{
				ID:        "fetch",
				AgentType: "scraper",
				Inputs:    map[string]interface{}{"url": "https://example.com"},
			},
			{
				ID:           "summarize",
				AgentType:    "summarizer",
				Inputs:       map[string]interface{}{"text": "{{tasks.fetch.outputs.text}}"},
				Dependencies: []string{"fetch"},
			},
		},
	}
}

func hasError(result models.ValidationResult, fragment string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_LinearWorkflow(t *testing.T) {
	result := Validate(linearWorkflow())
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidate_EmptyWorkflow(t *testing.T) {
	assert.False(t, Validate(nil).Valid)
	assert.False(t, Validate(&models.Workflow{}).Valid)
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = append(w.Nodes, w.Nodes[0])
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, "duplicate node id"))
}

func TestValidate_UnknownEdgeEndpoint(t *testing.T) {
	w := linearWorkflow()
	w.Edges = append(w.Edges, models.WorkflowEdge{From: "ghost", To: "fetch"})
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `unknown node "ghost"`))
}

func TestValidate_Cycle(t *testing.T) {
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "a", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "x"}, Dependencies: []string{"b"}},
			{ID: "b", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "y"}, Dependencies: []string{"a"}},
		},
	}
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, "cycle detected"))
}

func TestValidate_UnknownAgentType(t *testing.T) {
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "x", AgentType: "teleporter", Inputs: map[string]interface{}{}},
		},
	}
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `unknown agent type "teleporter"`))
}

func TestValidate_MissingRequiredInput(t *testing.T) {
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "fetch", AgentType: "scraper", Inputs: map[string]interface{}{}},
		},
	}
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `missing required input "url"`))
}

func TestValidate_PlaceholderUnknownNode(t *testing.T) {
	w := linearWorkflow()
	w.Nodes[1].Inputs["text"] = "{{tasks.ghost.outputs.text}}"
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `placeholder references unknown node "ghost"`))
}

func TestValidate_PlaceholderWithoutEdge(t *testing.T) {
	w := linearWorkflow()
	// Drop the dependency but keep the placeholder.
	w.Nodes[1].Dependencies = nil
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, "without a dependency edge"))
}

func TestValidate_PlaceholderUndeclaredOutput(t *testing.T) {
	w := linearWorkflow()
	w.Nodes[1].Inputs["text"] = "{{tasks.fetch.outputs.no_such_field}}"
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `declares no output "no_such_field"`))
}

func TestValidate_ReviewerNeedsExactlyOneUpstream(t *testing.T) {
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "a", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "x"}},
			{ID: "b", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "y"}},
			{ID: "review", AgentType: "reviewer", Inputs: map[string]interface{}{}, Dependencies: []string{"a", "b"}},
		},
	}
	result := Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, "exactly one upstream dependency"))

	// target_task_id is injected at enqueue and must not be required.
	w.Nodes[2].Dependencies = []string{"a"}
	result = Validate(w)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidate_DesignerArtifactReferences(t *testing.T) {
	node := models.WorkflowNode{
		ID:        "report",
		AgentType: "designer",
		Inputs: map[string]interface{}{
			"title": "Quarterly Report",
			"artifacts": []interface{}{
				map[string]interface{}{"type": "chart", "role": "latency_p95"},
			},
		},
	}
	w := &models.Workflow{Nodes: []models.WorkflowNode{node}}
	result := Validate(w)
	assert.True(t, result.Valid, "errors: %v", result.Errors)

	// Placeholder strings are rejected in the artifacts list.
	w.Nodes[0].Inputs["artifacts"] = []interface{}{"{{tasks.chart.outputs.storage_key}}"}
	result = Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, "not a placeholder string"))

	// Invalid artifact type is rejected.
	w.Nodes[0].Inputs["artifacts"] = []interface{}{
		map[string]interface{}{"type": "hologram"},
	}
	result = Validate(w)
	require.False(t, result.Valid)
	assert.True(t, hasError(result, `invalid type "hologram"`))
}

func TestValidate_ExplicitAndDerivedEdgesMerge(t *testing.T) {
	w := linearWorkflow()
	// Same edge expressed both ways must not trip duplicate handling.
	w.Edges = []models.WorkflowEdge{{From: "fetch", To: "summarize"}}
	result := Validate(w)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}
