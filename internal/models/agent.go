package models

// AgentCategory groups agents by their position in a workflow.
type AgentCategory string

const (
	AgentCategoryInput   AgentCategory = "input"
	AgentCategoryProcess AgentCategory = "process"
	AgentCategoryOutput  AgentCategory = "output"
	AgentCategoryControl AgentCategory = "control"
)

// AgentInput declares one input accepted by an agent.
type AgentInput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// AgentOutput declares one output field emitted by an agent.
type AgentOutput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AgentCapability is the static description of one agent type. The registry
// is the single source of truth for required inputs and declared output
// field names; both the validator and the placeholder resolver consult it.
type AgentCapability struct {
	ID       string        `json:"id"`
	Category AgentCategory `json:"category"`
	Inputs   []AgentInput  `json:"inputs"`
	Outputs  []AgentOutput `json:"outputs"`
}

// HasOutput reports whether the agent declares the named output field.
func (c *AgentCapability) HasOutput(name string) bool {
	for _, out := range c.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

// RequiredInputs returns the names of all required inputs.
func (c *AgentCapability) RequiredInputs() []string {
	var names []string
	for _, in := range c.Inputs {
		if in.Required {
			names = append(names, in.Name)
		}
	}
	return names
}
