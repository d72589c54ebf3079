package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WorkflowNode is one node of a candidate DAG as submitted by a client or
// emitted by the planner.
type WorkflowNode struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	AgentType    string                 `json:"agent_type"`
	Inputs       map[string]interface{} `json:"inputs"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// WorkflowEdge is a directed dependency From -> To.
type WorkflowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a candidate DAG: nodes plus explicit edges. Edges may also be
// derived from node dependency lists; both forms are accepted.
type Workflow struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges,omitempty"`
}

// AllEdges returns the explicit edges merged with edges derived from node
// dependency lists, deduplicated.
func (w *Workflow) AllEdges() []WorkflowEdge {
	seen := make(map[string]bool)
	var edges []WorkflowEdge
	add := func(e WorkflowEdge) {
		key := e.From + "->" + e.To
		if !seen[key] {
			seen[key] = true
			edges = append(edges, e)
		}
	}
	for _, e := range w.Edges {
		add(e)
	}
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			add(WorkflowEdge{From: dep, To: n.ID})
		}
	}
	return edges
}

// ValidationResult accumulates validator findings.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// PlanResult is the planner's answer to a natural-language request. The
// planner never fails outright; refusals carry a reason.
type PlanResult struct {
	CanExecute  bool      `json:"canExecute"`
	Reason      string    `json:"reasonIfCannot,omitempty"`
	Workflow    *Workflow `json:"workflow,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Provider    string    `json:"provider,omitempty"` // which LLM produced the plan
}

// WorkflowTemplate is a named, versioned workflow definition. Versions are
// immutable once added.
type WorkflowTemplate struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id,omitempty" badgerhold:"index"`
	OwnerID       string    `json:"owner_id" badgerhold:"index"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LatestVersion int       `json:"latest_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewWorkflowTemplate creates an empty template with no versions.
func NewWorkflowTemplate(ownerID, orgID, name, description string) *WorkflowTemplate {
	now := time.Now()
	return &WorkflowTemplate{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WorkflowVersion is one immutable numbered snapshot of a template's DAG.
type WorkflowVersion struct {
	ID         string    `json:"id"` // template_id + ":" + version
	TemplateID string    `json:"template_id" badgerhold:"index"`
	Version    int       `json:"version"`
	Workflow   Workflow  `json:"workflow"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowVersionKey builds the storage key for a template version.
func WorkflowVersionKey(templateID string, version int) string {
	return templateID + ":" + strconv.Itoa(version)
}
