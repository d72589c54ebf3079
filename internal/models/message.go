package models

// TaskMessage is the broker payload published when a task is enqueued.
// Message bodies are UTF-8 JSON; the queue name carries the agent type as
// well so workers can subscribe per agent.
type TaskMessage struct {
	TaskID    string                 `json:"task_id"`
	JobID     string                 `json:"job_id"`
	AgentType string                 `json:"agent_type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempt   int                    `json:"attempt"`
}

// ResultArtifact is one artifact reported by a worker on completion.
type ResultArtifact struct {
	Type       ArtifactType           `json:"type"`
	Role       string                 `json:"role,omitempty"`
	Filename   string                 `json:"filename"`
	StorageKey string                 `json:"storage_key"`
	MimeType   string                 `json:"mime_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ReviewVerdict is the reviewer-specific portion of a task result.
type ReviewVerdict struct {
	Score    float64        `json:"score"`
	Decision ReviewDecision `json:"decision"`
	Feedback string         `json:"feedback,omitempty"`
}

// TaskResult is the worker reply consumed by the orchestrator. Deliveries
// are at-least-once; the orchestrator deduplicates by (task_id, attempt).
type TaskResult struct {
	TaskID    string                 `json:"task_id"`
	JobID     string                 `json:"job_id"`
	Attempt   int                    `json:"attempt"`
	Status    string                 `json:"status"` // "success" | "error"
	Outputs   map[string]interface{} `json:"outputs,omitempty"`
	Artifacts []ResultArtifact       `json:"artifacts,omitempty"`
	Review    *ReviewVerdict         `json:"review,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
}

const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)
