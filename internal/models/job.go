package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusPaused    JobStatus = "PAUSED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one execution of a DAG of tasks.
type Job struct {
	ID      string `json:"id"`
	OrgID   string `json:"org_id,omitempty" badgerhold:"index"`
	OwnerID string `json:"owner_id" badgerhold:"index"`
	Title   string `json:"title"`

	// Template provenance, immutable after creation.
	TemplateID      string `json:"template_id,omitempty"`
	TemplateVersion int    `json:"template_version,omitempty"`

	Status    JobStatus `json:"status" badgerhold:"index"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a job in QUEUED with a fresh id.
func NewJob(ownerID, orgID, title string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		OwnerID:   ownerID,
		Title:     title,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the modification timestamp.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now()
}
