// Package agents holds the static catalog of agent capabilities. The
// registry is the single source of truth for required inputs and declared
// output fields; adding an agent is a code change, not configuration.
package agents

import (
	"encoding/json"
	"sort"

	"github.com/ternarybob/maestro/internal/models"
)

// AgentReviewer is the agent type with the human/automated review flow.
const AgentReviewer = "reviewer"

// AgentDesigner is the PDF composer; its artifact references must be
// structured {type, role} objects rather than placeholder strings.
const AgentDesigner = "designer"

var registry = map[string]*models.AgentCapability{
	"scraper": {
		ID:       "scraper",
		Category: models.AgentCategoryInput,
		Inputs: []models.AgentInput{
			{Name: "url", Type: "string", Required: true},
			{Name: "selector", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "text", Type: "string"},
			{Name: "html", Type: "string"},
			{Name: "result", Type: "json"},
		},
	},
	"summarizer": {
		ID:       "summarizer",
		Category: models.AgentCategoryProcess,
		Inputs: []models.AgentInput{
			{Name: "text", Type: "string", Required: true},
			{Name: "max_sentences", Type: "number", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "summary", Type: "string"},
			{Name: "result", Type: "json"},
		},
	},
	"analyzer": {
		ID:       "analyzer",
		Category: models.AgentCategoryProcess,
		Inputs: []models.AgentInput{
			{Name: "data", Type: "json", Required: true},
			{Name: "focus", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "analysis", Type: "json"},
			{Name: "result", Type: "json"},
		},
	},
	"validator": {
		ID:       "validator",
		Category: models.AgentCategoryProcess,
		Inputs: []models.AgentInput{
			{Name: "data", Type: "json", Required: true},
			{Name: "schema", Type: "json", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "valid", Type: "boolean"},
			{Name: "errors", Type: "json"},
			{Name: "result", Type: "json"},
		},
	},
	"transformer": {
		ID:       "transformer",
		Category: models.AgentCategoryProcess,
		Inputs: []models.AgentInput{
			{Name: "data", Type: "json", Required: true},
			{Name: "format", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "transformed", Type: "json"},
			{Name: "result", Type: "json"},
		},
	},
	"notifier": {
		ID:       "notifier",
		Category: models.AgentCategoryOutput,
		Inputs: []models.AgentInput{
			{Name: "message", Type: "string", Required: true},
			{Name: "channel", Type: "string", Required: false},
			{Name: "recipient", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "delivered", Type: "boolean"},
			{Name: "result", Type: "json"},
		},
	},
	"chart": {
		ID:       "chart",
		Category: models.AgentCategoryOutput,
		Inputs: []models.AgentInput{
			{Name: "data", Type: "json", Required: true},
			{Name: "chart_type", Type: "string", Required: false},
			{Name: "title", Type: "string", Required: false},
			{Name: "role", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "image_url", Type: "string"},
			{Name: "storage_key", Type: "string"},
			{Name: "role", Type: "string"},
			{Name: "result", Type: "json"},
		},
	},
	AgentDesigner: {
		ID:       AgentDesigner,
		Category: models.AgentCategoryOutput,
		Inputs: []models.AgentInput{
			{Name: "title", Type: "string", Required: true},
			{Name: "sections", Type: "json", Required: false},
			{Name: "artifacts", Type: "json", Required: false}, // list of {type, role} references
		},
		Outputs: []models.AgentOutput{
			{Name: "pdf_url", Type: "string"},
			{Name: "storage_key", Type: "string"},
			{Name: "pages", Type: "number"},
			{Name: "result", Type: "json"},
		},
	},
	AgentReviewer: {
		ID:       AgentReviewer,
		Category: models.AgentCategoryControl,
		Inputs: []models.AgentInput{
			// target_task_id is injected by the orchestrator from the
			// reviewer's single upstream dependency.
			{Name: "target_task_id", Type: "string", Required: false},
			{Name: "score_threshold", Type: "number", Required: false},
			{Name: "criteria", Type: "string", Required: false},
		},
		Outputs: []models.AgentOutput{
			{Name: "score", Type: "number"},
			{Name: "decision", Type: "string"},
			{Name: "feedback", Type: "string"},
		},
	},
	"executor": {
		ID:       "executor",
		Category: models.AgentCategoryProcess,
		Inputs: []models.AgentInput{
			{Name: "prompt", Type: "string", Required: true},
		},
		Outputs: []models.AgentOutput{
			{Name: "result", Type: "json"},
		},
	},
}

// Get looks up a capability by agent id.
func Get(id string) (*models.AgentCapability, bool) {
	cap, ok := registry[id]
	return cap, ok
}

// All returns every capability ordered by id.
func All() []*models.AgentCapability {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	caps := make([]*models.AgentCapability, 0, len(ids))
	for _, id := range ids {
		caps = append(caps, registry[id])
	}
	return caps
}

// RegistryJSON renders the catalog for embedding in planner prompts.
func RegistryJSON() string {
	data, err := json.MarshalIndent(All(), "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
