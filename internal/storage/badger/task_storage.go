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

// TaskStorage implements the TaskStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskStorage) SaveTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		return common.NewError(common.KindValidation, "task ID is required")
	}

	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := s.db.Store().Upsert(task.ID, task); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save task")
	}
	return nil
}

func (s *TaskStorage) SaveTasks(ctx context.Context, tasks []*models.Task) error {
	for _, task := range tasks {
		if err := s.SaveTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (s *TaskStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.Store().Get(id, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "task not found: %s", id)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get task")
	}
	return &task, nil
}

func (s *TaskStorage) GetTasksByJob(ctx context.Context, jobID string) ([]*models.Task, error) {
	var tasks []models.Task
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get tasks by job")
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (s *TaskStorage) GetTaskByNode(ctx context.Context, jobID, nodeID string) (*models.Task, error) {
	var tasks []models.Task
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").And("NodeID").Eq(nodeID)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get task by node")
	}
	if len(tasks) == 0 {
		return nil, common.NewError(common.KindNotFound, "task not found: job %s node %s", jobID, nodeID)
	}
	return &tasks[0], nil
}

func (s *TaskStorage) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("Status").Eq(status).Index("Status")); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list tasks by status")
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (s *TaskStorage) DeleteTasksByJob(ctx context.Context, jobID string) error {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().DeleteMatching(&models.Task{}, query); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to delete tasks by job")
	}
	return nil
}
