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

// TemplateStorage implements the TemplateStorage interface for Badger.
// Template versions are immutable once written; SaveVersion refuses to
// overwrite an existing version number.
type TemplateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTemplateStorage creates a new TemplateStorage instance
func NewTemplateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TemplateStorage {
	return &TemplateStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TemplateStorage) SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	if template.ID == "" {
		return common.NewError(common.KindValidation, "template ID is required")
	}

	now := time.Now()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	if err := s.db.Store().Upsert(template.ID, template); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save template")
	}
	return nil
}

func (s *TemplateStorage) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate
	if err := s.db.Store().Get(id, &template); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "template not found: %s", id)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get template")
	}
	return &template, nil
}

func (s *TemplateStorage) ListTemplates(ctx context.Context, orgID, ownerID string) ([]*models.WorkflowTemplate, error) {
	query := badgerhold.Where("ID").Ne("")
	if orgID != "" {
		query = query.And("OrgID").Eq(orgID)
	}
	if ownerID != "" {
		query = query.And("OwnerID").Eq(ownerID)
	}
	query = query.SortBy("CreatedAt").Reverse()

	var templates []models.WorkflowTemplate
	if err := s.db.Store().Find(&templates, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list templates")
	}

	result := make([]*models.WorkflowTemplate, len(templates))
	for i := range templates {
		result[i] = &templates[i]
	}
	return result, nil
}

func (s *TemplateStorage) SaveVersion(ctx context.Context, version *models.WorkflowVersion) error {
	if version.TemplateID == "" || version.Version <= 0 {
		return common.NewError(common.KindValidation, "version requires a template ID and positive version number")
	}
	version.ID = models.WorkflowVersionKey(version.TemplateID, version.Version)
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	if err := s.db.Store().Insert(version.ID, version); err != nil {
		if err == badgerhold.ErrKeyExists {
			return common.NewError(common.KindConflict, "template %s already has version %d", version.TemplateID, version.Version)
		}
		return common.WrapError(common.KindInternal, err, "failed to save template version")
	}
	return nil
}

func (s *TemplateStorage) GetVersion(ctx context.Context, templateID string, version int) (*models.WorkflowVersion, error) {
	var v models.WorkflowVersion
	if err := s.db.Store().Get(models.WorkflowVersionKey(templateID, version), &v); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "template %s has no version %d", templateID, version)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get template version")
	}
	return &v, nil
}

func (s *TemplateStorage) ListVersions(ctx context.Context, templateID string) ([]*models.WorkflowVersion, error) {
	var versions []models.WorkflowVersion
	query := badgerhold.Where("TemplateID").Eq(templateID).Index("TemplateID").SortBy("Version")
	if err := s.db.Store().Find(&versions, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list template versions")
	}

	result := make([]*models.WorkflowVersion, len(versions))
	for i := range versions {
		result[i] = &versions[i]
	}
	return result, nil
}
