package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one artifact promotion.
type AuditEntry struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id" badgerhold:"index"`
	ArtifactID string    `json:"artifact_id" badgerhold:"index"`
	Actor      string    `json:"actor"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAuditEntry records a status change performed by an actor.
func NewAuditEntry(jobID, artifactID, actor string, from, to ArtifactStatus) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.New().String(),
		JobID:      jobID,
		ArtifactID: artifactID,
		Actor:      actor,
		FromStatus: string(from),
		ToStatus:   string(to),
		CreatedAt:  time.Now(),
	}
}
