package badger

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return common.NewError(common.KindValidation, "job ID is required")
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save job")
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "job not found: %s", id)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get job")
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, filter *interfaces.JobFilter) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if filter != nil {
		if filter.OwnerID != "" {
			query = query.And("OwnerID").Eq(filter.OwnerID)
		}
		if filter.OrgID != "" {
			query = query.And("OrgID").Eq(filter.OrgID)
		}
		if filter.Status != "" {
			query = query.And("Status").Eq(filter.Status)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Skip(filter.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list jobs")
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status")); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list jobs by status")
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return common.WrapError(common.KindInternal, err, "failed to delete job")
	}
	return nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, nil)
	if err != nil {
		return 0, common.WrapError(common.KindInternal, err, "failed to count jobs")
	}
	return int(count), nil
}
