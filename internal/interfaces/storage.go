package interfaces

import (
	"context"

	"github.com/ternarybob/maestro/internal/models"
)

// JobFilter narrows job listings.
type JobFilter struct {
	OwnerID string
	OrgID   string
	Status  models.JobStatus
	Limit   int
	Offset  int
}

// JobStorage - interface for job persistence
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter *JobFilter) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context) (int, error)
}

// TaskStorage - interface for task persistence
type TaskStorage interface {
	SaveTask(ctx context.Context, task *models.Task) error
	SaveTasks(ctx context.Context, tasks []*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTasksByJob(ctx context.Context, jobID string) ([]*models.Task, error)
	GetTaskByNode(ctx context.Context, jobID, nodeID string) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
	DeleteTasksByJob(ctx context.Context, jobID string) error
}

// OutputStorage - interface for task output fields
type OutputStorage interface {
	SaveOutput(ctx context.Context, output *models.Output) error
	SaveOutputs(ctx context.Context, outputs []*models.Output) error
	GetOutput(ctx context.Context, taskID, fieldName string) (*models.Output, error)
	GetOutputsByTask(ctx context.Context, taskID string) ([]*models.Output, error)
	GetOutputsByJob(ctx context.Context, jobID string) ([]*models.Output, error)
	DeleteOutputsByJob(ctx context.Context, jobID string) error
}

// ArtifactStorage - interface for artifact metadata persistence
type ArtifactStorage interface {
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	GetArtifactsByJob(ctx context.Context, jobID string) ([]*models.Artifact, error)
	GetVersions(ctx context.Context, jobID string, artifactType models.ArtifactType, role string) ([]*models.Artifact, error)
	GetCurrent(ctx context.Context, jobID string, artifactType models.ArtifactType, role string) (*models.Artifact, error)
	DeleteArtifactsByJob(ctx context.Context, jobID string) error
}

// AuditStorage - interface for the artifact promotion audit trail
type AuditStorage interface {
	SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	GetAuditByArtifact(ctx context.Context, artifactID string) ([]*models.AuditEntry, error)
	GetAuditByJob(ctx context.Context, jobID string) ([]*models.AuditEntry, error)
	DeleteAuditByJob(ctx context.Context, jobID string) error
}

// ScheduleStorage - interface for schedule persistence, keyed by job id
type ScheduleStorage interface {
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, jobID string) (*models.Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]*models.Schedule, error)
	DeleteSchedule(ctx context.Context, jobID string) error
}

// TemplateStorage - interface for workflow templates and their versions
type TemplateStorage interface {
	SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, orgID, ownerID string) ([]*models.WorkflowTemplate, error)
	SaveVersion(ctx context.Context, version *models.WorkflowVersion) error
	GetVersion(ctx context.Context, templateID string, version int) (*models.WorkflowVersion, error)
	ListVersions(ctx context.Context, templateID string) ([]*models.WorkflowVersion, error)
}

// OrgStorage - interface for organization membership
type OrgStorage interface {
	SaveMember(ctx context.Context, member *models.OrgMember) error
	GetMember(ctx context.Context, orgID, userID string) (*models.OrgMember, error)
	ListMembers(ctx context.Context, orgID string) ([]*models.OrgMember, error)
	DeleteMember(ctx context.Context, orgID, userID string) error
}

// TaskLogStorage - interface for per-task execution log lines
type TaskLogStorage interface {
	SaveTaskLog(ctx context.Context, entry *models.TaskLog) error
	GetLogsByTask(ctx context.Context, taskID string) ([]*models.TaskLog, error)
	GetLogsByJob(ctx context.Context, jobID string) ([]*models.TaskLog, error)
	DeleteLogsByJob(ctx context.Context, jobID string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	TaskStorage() TaskStorage
	OutputStorage() OutputStorage
	ArtifactStorage() ArtifactStorage
	AuditStorage() AuditStorage
	ScheduleStorage() ScheduleStorage
	TemplateStorage() TemplateStorage
	OrgStorage() OrgStorage
	TaskLogStorage() TaskLogStorage
	DB() interface{}
	Close() error
}
