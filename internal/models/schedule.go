package models

import "time"

// ScheduleType selects how next_run_at advances.
type ScheduleType string

const (
	ScheduleTypeOnce    ScheduleType = "once"
	ScheduleTypeDelayed ScheduleType = "delayed"
	ScheduleTypeCron    ScheduleType = "cron"
)

// Schedule drives delayed and recurring job launches. One schedule per job;
// JobID is the storage key. For template-backed schedules the spawned job is
// built from (TemplateID, TemplateVersion), otherwise the source job's tasks
// are cloned.
type Schedule struct {
	JobID           string       `json:"job_id"`
	TemplateID      string       `json:"template_id,omitempty"`
	TemplateVersion int          `json:"template_version,omitempty"`
	Type            ScheduleType `json:"type"`
	CronExpr        string       `json:"cron_expr,omitempty"`
	RunAt           *time.Time   `json:"run_at,omitempty"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	Enabled         bool         `json:"enabled" badgerhold:"index"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsDue reports whether the schedule should fire at the given instant.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}
