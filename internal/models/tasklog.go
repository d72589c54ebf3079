package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskLog is one orchestration log line attached to a task, written on every
// state transition. Removed together with the owning job by retention GC.
type TaskLog struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id" badgerhold:"index"`
	TaskID    string    `json:"task_id" badgerhold:"index"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskLog creates a log row.
func NewTaskLog(jobID, taskID, level, message string) *TaskLog {
	return &TaskLog{
		ID:        uuid.New().String(),
		JobID:     jobID,
		TaskID:    taskID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
}
