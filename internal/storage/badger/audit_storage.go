package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// AuditStorage implements the AuditStorage interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStorage {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuditStorage) SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		return common.NewError(common.KindValidation, "audit entry ID is required")
	}
	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save audit entry")
	}
	return nil
}

func (s *AuditStorage) GetAuditByArtifact(ctx context.Context, artifactID string) ([]*models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := badgerhold.Where("ArtifactID").Eq(artifactID).Index("ArtifactID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get audit entries by artifact")
	}

	result := make([]*models.AuditEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *AuditStorage) GetAuditByJob(ctx context.Context, jobID string) ([]*models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get audit entries by job")
	}

	result := make([]*models.AuditEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *AuditStorage) DeleteAuditByJob(ctx context.Context, jobID string) error {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().DeleteMatching(&models.AuditEntry{}, query); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to delete audit entries by job")
	}
	return nil
}
