package events

import "time"

// TaskEventPayload is published on every task status transition. The
// websocket layer forwards it to subscribed clients.
type TaskEventPayload struct {
	JobID      string    `json:"job_id"`
	TaskID     string    `json:"task_id"`
	NodeID     string    `json:"node_id"`
	AgentType  string    `json:"agent_type"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// JobEventPayload is published when a job reaches a new status, including
// exactly one event for the terminal transition.
type JobEventPayload struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactEventPayload is published when an artifact is promoted.
type ArtifactEventPayload struct {
	JobID      string    `json:"job_id"`
	ArtifactID string    `json:"artifact_id"`
	Type       string    `json:"type"`
	Role       string    `json:"role,omitempty"`
	Version    int       `json:"version"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeadLetterEventPayload is published when the broker gives up on a message.
type DeadLetterEventPayload struct {
	MessageID string    `json:"message_id"`
	Queue     string    `json:"queue"`
	TaskID    string    `json:"task_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
