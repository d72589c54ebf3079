package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// TaskLogStorage implements the TaskLogStorage interface for Badger
type TaskLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskLogStorage creates a new TaskLogStorage instance
func NewTaskLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskLogStorage {
	return &TaskLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskLogStorage) SaveTaskLog(ctx context.Context, entry *models.TaskLog) error {
	if entry.ID == "" {
		return common.NewError(common.KindValidation, "task log ID is required")
	}
	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save task log")
	}
	return nil
}

func (s *TaskLogStorage) GetLogsByTask(ctx context.Context, taskID string) ([]*models.TaskLog, error) {
	var entries []models.TaskLog
	query := badgerhold.Where("TaskID").Eq(taskID).Index("TaskID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get logs by task")
	}

	result := make([]*models.TaskLog, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *TaskLogStorage) GetLogsByJob(ctx context.Context, jobID string) ([]*models.TaskLog, error) {
	var entries []models.TaskLog
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get logs by job")
	}

	result := make([]*models.TaskLog, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *TaskLogStorage) DeleteLogsByJob(ctx context.Context, jobID string) error {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().DeleteMatching(&models.TaskLog{}, query); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to delete logs by job")
	}
	return nil
}
