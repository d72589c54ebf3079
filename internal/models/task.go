package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending        TaskStatus = "PENDING"
	TaskStatusQueued         TaskStatus = "QUEUED"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusSuccess        TaskStatus = "SUCCESS"
	TaskStatusFailed         TaskStatus = "FAILED"
	TaskStatusSkipped        TaskStatus = "SKIPPED"
	TaskStatusCancelled      TaskStatus = "CANCELLED"
	TaskStatusAwaitingReview TaskStatus = "AWAITING_REVIEW"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// ReviewDecision is a reviewer verdict on a target task.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "APPROVE"
	ReviewReject  ReviewDecision = "REJECT"
)

// Task is one DAG node owned by a job. NodeID is the node identifier from
// the submitted workflow; placeholders reference it, so it is stable across
// retries while ID is globally unique.
type Task struct {
	ID           string                 `json:"id"`
	JobID        string                 `json:"job_id" badgerhold:"index"`
	NodeID       string                 `json:"node_id"`
	Name         string                 `json:"name"`
	AgentType    string                 `json:"agent_type"`
	Payload      map[string]interface{} `json:"payload"`
	Dependencies []string               `json:"dependencies"` // node ids within the same job

	Status     TaskStatus `json:"status" badgerhold:"index"`
	RetryCount int        `json:"retry_count"`
	Attempt    int        `json:"attempt"` // delivery attempt carried on broker messages
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Reviewer fields, set only for reviewer agent tasks.
	ReviewScore    *float64       `json:"review_score,omitempty"`
	ReviewDecision ReviewDecision `json:"review_decision,omitempty"`
	ReviewFeedback string         `json:"review_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a PENDING task bound to a job.
func NewTask(jobID, nodeID, name, agentType string, payload map[string]interface{}, deps []string) *Task {
	now := time.Now()
	return &Task{
		ID:           uuid.New().String(),
		JobID:        jobID,
		NodeID:       nodeID,
		Name:         name,
		AgentType:    agentType,
		Payload:      payload,
		Dependencies: deps,
		Status:       TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Touch updates the modification timestamp.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now()
}

// MarkStarted records the RUNNING transition.
func (t *Task) MarkStarted() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.UpdatedAt = now
}

// MarkFinished records a terminal transition with the given status.
func (t *Task) MarkFinished(status TaskStatus, errMsg string) {
	now := time.Now()
	t.Status = status
	t.Error = errMsg
	t.FinishedAt = &now
	t.UpdatedAt = now
}
