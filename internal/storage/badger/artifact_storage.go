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

// ArtifactStorage implements the ArtifactStorage interface for Badger
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		return common.NewError(common.KindValidation, "artifact ID is required")
	}

	now := time.Now()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	artifact.UpdatedAt = now

	if err := s.db.Store().Upsert(artifact.ID, artifact); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save artifact")
	}
	return nil
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := s.db.Store().Get(id, &artifact); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "artifact not found: %s", id)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get artifact")
	}
	return &artifact, nil
}

func (s *ArtifactStorage) GetArtifactsByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get artifacts by job")
	}

	result := make([]*models.Artifact, len(artifacts))
	for i := range artifacts {
		result[i] = &artifacts[i]
	}
	return result, nil
}

func (s *ArtifactStorage) GetVersions(ctx context.Context, jobID string, artifactType models.ArtifactType, role string) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").
		And("Type").Eq(artifactType).
		And("Role").Eq(role).
		SortBy("Version")
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get artifact versions")
	}

	result := make([]*models.Artifact, len(artifacts))
	for i := range artifacts {
		result[i] = &artifacts[i]
	}
	return result, nil
}

func (s *ArtifactStorage) GetCurrent(ctx context.Context, jobID string, artifactType models.ArtifactType, role string) (*models.Artifact, error) {
	var artifacts []models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").
		And("Type").Eq(artifactType).
		And("Role").Eq(role).
		And("IsCurrent").Eq(true)
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to get current artifact")
	}
	if len(artifacts) == 0 {
		return nil, common.NewError(common.KindNotFound, "no current artifact for %s/%s/%s", jobID, artifactType, role)
	}
	return &artifacts[0], nil
}

func (s *ArtifactStorage) DeleteArtifactsByJob(ctx context.Context, jobID string) error {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().DeleteMatching(&models.Artifact{}, query); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to delete artifacts by job")
	}
	return nil
}
