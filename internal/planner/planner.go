// Package planner turns natural-language requests into validated workflow
// DAGs. The LLM proposes, the validator disposes: nothing the model emits
// reaches the orchestrator without passing Validate.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/agents"
	"github.com/ternarybob/maestro/internal/llm"
	"github.com/ternarybob/maestro/internal/models"
)

const systemPromptTemplate = `You are a workflow planner for an agent orchestration system.
Given a user request, produce a JSON plan describing a directed acyclic graph of tasks.

Available agents and their inputs/outputs:
%s

Respond with ONLY a JSON object, no prose, matching this shape:
{
  "canExecute": true,
  "workflow": {
    "nodes": [
      {"id": "fetch", "name": "Fetch page", "agent_type": "scraper", "inputs": {"url": "https://example.com"}}
    ],
    "edges": [
      {"from": "fetch", "to": "summarize"}
    ]
  },
  "explanation": "one or two sentences describing the plan"
}

If the request cannot be satisfied with the available agents, respond with:
{"canExecute": false, "reasonIfCannot": "why not"}

Hard rules:
- Use only the agent types listed above. Never invent agents.
- Every required input of an agent must be present in the node's inputs.
- To pass one node's output to another, use exactly the syntax
  {{tasks.<node_id>.outputs.<field_name>}} and add an edge between the nodes.
- Only reference output fields the producing agent actually declares.
- Designer "artifacts" inputs must be a list of {"type": ..., "role": ...}
  objects, never placeholder strings.
- Reviewer nodes must have exactly one upstream dependency.
- Node ids are short lowercase identifiers, unique within the workflow.`

// Planner drives the plan -> validate loop against the provider chain.
type Planner struct {
	chain  *llm.Chain
	logger arbor.ILogger
}

// New creates a Planner on top of the given provider chain.
func New(chain *llm.Chain, logger arbor.ILogger) *Planner {
	return &Planner{chain: chain, logger: logger}
}

// Plan asks the provider chain for a workflow and validates the answer.
// It never returns an error: transport failures, unparseable output, and
// validator rejections all come back as a refusal with a reason, so the
// HTTP layer always has a well-formed result to serialize.
func (p *Planner) Plan(ctx context.Context, prompt string) *models.PlanResult {
	if p.chain == nil || !p.chain.Available() {
		return refusal("no LLM providers are configured")
	}

	request := &llm.TextRequest{
		System: fmt.Sprintf(systemPromptTemplate, agents.RegistryJSON()),
		Prompt: prompt,
	}

	text, provider, err := p.chain.Generate(ctx, request)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Planner LLM call failed")
		return refusal(fmt.Sprintf("planning failed: %v", err))
	}

	result := &models.PlanResult{}
	if err := json.Unmarshal([]byte(stripCodeFences(text)), result); err != nil {
		p.logger.Warn().
			Str("provider", provider).
			Err(err).
			Msg("Planner response was not valid JSON")
		return refusal("planner produced an unparseable response")
	}
	result.Provider = provider

	if !result.CanExecute {
		if result.Reason == "" {
			result.Reason = "the request cannot be satisfied with the available agents"
		}
		result.Workflow = nil
		return result
	}

	if result.Workflow == nil || len(result.Workflow.Nodes) == 0 {
		return refusal("planner returned an executable plan with no workflow")
	}

	if validation := Validate(result.Workflow); !validation.Valid {
		p.logger.Info().
			Str("provider", provider).
			Int("error_count", len(validation.Errors)).
			Msg("Planner output rejected by validator")
		refused := refusal(fmt.Sprintf("plan failed validation: %s", strings.Join(validation.Errors, "; ")))
		refused.Provider = provider
		return refused
	}

	p.logger.Info().
		Str("provider", provider).
		Int("nodes", len(result.Workflow.Nodes)).
		Msg("Plan produced and validated")
	return result
}

func refusal(reason string) *models.PlanResult {
	return &models.PlanResult{CanExecute: false, Reason: reason}
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
