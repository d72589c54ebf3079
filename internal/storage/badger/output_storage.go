package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// OutputStorage implements the OutputStorage interface for Badger
type OutputStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOutputStorage creates a new OutputStorage instance
func NewOutputStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OutputStorage {
	return &OutputStorage{
		db:     db,
		logger: logger,
	}
}

func (s *OutputStorage) SaveOutput(ctx context.Context, output *models.Output) error {
	if output.ID == "" {
		return common.NewError(common.KindValidation, "output ID is required")
	}
	if err := s.db.Store().Upsert(output.ID, output); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save output")
	}
	return nil
}

func (s *OutputStorage) SaveOutputs(ctx context.Context, outputs []*models.Output) error {
	for _, output := range outputs {
		if err := s.SaveOutput(ctx, output); err != nil {
			return err
		}
	}
	return nil
}

func (s *OutputStorage) GetOutput(ctx context.Context, taskID, fieldName string) (*models.Output, error) {
	var output models.Output
	if err := s.db.Store().Get(models.OutputKey(taskID, fieldName), &output); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "output not found: task %s field %s", taskID, fieldName)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get output")
	}
	return &output, nil
}

func (s *OutputStorage) GetOutputsByTask(ctx context.Context, taskID string) ([]*models.Output, error) {
	var outputs []models.Output
	if err := s.db.Store().Find(&outputs, badgerhold.Where("TaskID").Eq(taskID).Index("TaskID")); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get outputs by task")
	}

	result := make([]*models.Output, len(outputs))
	for i := range outputs {
		result[i] = &outputs[i]
	}
	return result, nil
}

func (s *OutputStorage) GetOutputsByJob(ctx context.Context, jobID string) ([]*models.Output, error) {
	var outputs []models.Output
	if err := s.db.Store().Find(&outputs, badgerhold.Where("JobID").Eq(jobID).Index("JobID")); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get outputs by job")
	}

	result := make([]*models.Output, len(outputs))
	for i := range outputs {
		result[i] = &outputs[i]
	}
	return result, nil
}

func (s *OutputStorage) DeleteOutputsByJob(ctx context.Context, jobID string) error {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().DeleteMatching(&models.Output{}, query); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to delete outputs by job")
	}
	return nil
}
