package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ArtifactType classifies the payload stored behind a storage key.
type ArtifactType string

const (
	ArtifactTypePDF   ArtifactType = "pdf"
	ArtifactTypeImage ArtifactType = "image"
	ArtifactTypeChart ArtifactType = "chart"
	ArtifactTypeTable ArtifactType = "table"
	ArtifactTypeJSON  ArtifactType = "json"
	ArtifactTypeText  ArtifactType = "text"
)

// IsValid reports whether the type is one of the known artifact types.
func (t ArtifactType) IsValid() bool {
	switch t {
	case ArtifactTypePDF, ArtifactTypeImage, ArtifactTypeChart, ArtifactTypeTable, ArtifactTypeJSON, ArtifactTypeText:
		return true
	}
	return false
}

// ArtifactStatus is the promotion lifecycle state.
type ArtifactStatus string

const (
	ArtifactStatusDraft    ArtifactStatus = "draft"
	ArtifactStatusApproved ArtifactStatus = "approved"
	ArtifactStatusFrozen   ArtifactStatus = "frozen"
)

var roleRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidRole reports whether a role label matches the allowed pattern.
// Empty roles are permitted (unlabelled artifacts).
func ValidRole(role string) bool {
	return role == "" || roleRegex.MatchString(role)
}

// Artifact is a binary or structured payload registered by a task,
// addressable by (job_id, type, role) and versioned append-only within that
// key. At most one row per key has IsCurrent=true and at most one is frozen.
type Artifact struct {
	ID         string                 `json:"id"`
	TaskID     string                 `json:"task_id" badgerhold:"index"`
	JobID      string                 `json:"job_id" badgerhold:"index"`
	Type       ArtifactType           `json:"type"`
	Role       string                 `json:"role,omitempty"`
	Filename   string                 `json:"filename"`
	StorageKey string                 `json:"storage_key"`
	MimeType   string                 `json:"mime_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	Version          int    `json:"version"`
	IsCurrent        bool   `json:"is_current"`
	ParentArtifactID string `json:"parent_artifact_id,omitempty"`

	Status    ArtifactStatus `json:"status"`
	FrozenAt  *time.Time     `json:"frozen_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewArtifact creates a draft artifact version.
func NewArtifact(taskID, jobID string, typ ArtifactType, role, filename, storageKey, mimeType string, metadata map[string]interface{}) *Artifact {
	now := time.Now()
	return &Artifact{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		JobID:      jobID,
		Type:       typ,
		Role:       role,
		Filename:   filename,
		StorageKey: storageKey,
		MimeType:   mimeType,
		Metadata:   metadata,
		Version:    1,
		IsCurrent:  true,
		Status:     ArtifactStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// VersionKey identifies the (job_id, type, role) version chain.
func (a *Artifact) VersionKey() string {
	return a.JobID + "/" + string(a.Type) + "/" + a.Role
}
