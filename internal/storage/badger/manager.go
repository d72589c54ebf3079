package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	task     interfaces.TaskStorage
	output   interfaces.OutputStorage
	artifact interfaces.ArtifactStorage
	audit    interfaces.AuditStorage
	schedule interfaces.ScheduleStorage
	template interfaces.TemplateStorage
	org      interfaces.OrgStorage
	taskLog  interfaces.TaskLogStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDB(db, logger), nil
}

// NewManagerWithDB wraps an already-open connection. Used where the caller
// also needs the raw handle, and by tests.
func NewManagerWithDB(db *BadgerDB, logger arbor.ILogger) interfaces.StorageManager {
	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		task:     NewTaskStorage(db, logger),
		output:   NewOutputStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		audit:    NewAuditStorage(db, logger),
		schedule: NewScheduleStorage(db, logger),
		template: NewTemplateStorage(db, logger),
		org:      NewOrgStorage(db, logger),
		taskLog:  NewTaskLogStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// TaskStorage returns the Task storage interface
func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.task
}

// OutputStorage returns the Output storage interface
func (m *Manager) OutputStorage() interfaces.OutputStorage {
	return m.output
}

// ArtifactStorage returns the Artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// AuditStorage returns the Audit storage interface
func (m *Manager) AuditStorage() interfaces.AuditStorage {
	return m.audit
}

// ScheduleStorage returns the Schedule storage interface
func (m *Manager) ScheduleStorage() interfaces.ScheduleStorage {
	return m.schedule
}

// TemplateStorage returns the Template storage interface
func (m *Manager) TemplateStorage() interfaces.TemplateStorage {
	return m.template
}

// OrgStorage returns the Org storage interface
func (m *Manager) OrgStorage() interfaces.OrgStorage {
	return m.org
}

// TaskLogStorage returns the TaskLog storage interface
func (m *Manager) TaskLogStorage() interfaces.TaskLogStorage {
	return m.taskLog
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
