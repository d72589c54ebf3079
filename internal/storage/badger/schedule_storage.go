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

// ScheduleStorage implements the ScheduleStorage interface for Badger.
// Schedules are keyed by job id: one schedule per job.
type ScheduleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduleStorage creates a new ScheduleStorage instance
func NewScheduleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduleStorage {
	return &ScheduleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScheduleStorage) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule.JobID == "" {
		return common.NewError(common.KindValidation, "schedule job ID is required")
	}

	now := time.Now()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	if err := s.db.Store().Upsert(schedule.JobID, schedule); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save schedule")
	}
	return nil
}

func (s *ScheduleStorage) GetSchedule(ctx context.Context, jobID string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := s.db.Store().Get(jobID, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "schedule not found for job: %s", jobID)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get schedule")
	}
	return &schedule, nil
}

func (s *ScheduleStorage) ListEnabledSchedules(ctx context.Context) ([]*models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.Store().Find(&schedules, badgerhold.Where("Enabled").Eq(true).Index("Enabled")); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list enabled schedules")
	}

	result := make([]*models.Schedule, len(schedules))
	for i := range schedules {
		result[i] = &schedules[i]
	}
	return result, nil
}

func (s *ScheduleStorage) DeleteSchedule(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Schedule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return common.WrapError(common.KindInternal, err, "failed to delete schedule")
	}
	return nil
}
