package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// OrgStorage implements the OrgStorage interface for Badger
type OrgStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOrgStorage creates a new OrgStorage instance
func NewOrgStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OrgStorage {
	return &OrgStorage{
		db:     db,
		logger: logger,
	}
}

func (s *OrgStorage) SaveMember(ctx context.Context, member *models.OrgMember) error {
	if member.OrgID == "" || member.UserID == "" {
		return common.NewError(common.KindValidation, "org member requires org and user IDs")
	}
	member.ID = models.OrgMemberKey(member.OrgID, member.UserID)

	if err := s.db.Store().Upsert(member.ID, member); err != nil {
		return common.WrapError(common.KindInternal, err, "failed to save org member")
	}
	return nil
}

func (s *OrgStorage) GetMember(ctx context.Context, orgID, userID string) (*models.OrgMember, error) {
	var member models.OrgMember
	if err := s.db.Store().Get(models.OrgMemberKey(orgID, userID), &member); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewError(common.KindNotFound, "user %s is not a member of org %s", userID, orgID)
		}
		return nil, common.WrapError(common.KindInternal, err, "failed to get org member")
	}
	return &member, nil
}

func (s *OrgStorage) ListMembers(ctx context.Context, orgID string) ([]*models.OrgMember, error) {
	var members []models.OrgMember
	query := badgerhold.Where("OrgID").Eq(orgID).Index("OrgID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&members, query); err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to list org members")
	}

	result := make([]*models.OrgMember, len(members))
	for i := range members {
		result[i] = &members[i]
	}
	return result, nil
}

func (s *OrgStorage) DeleteMember(ctx context.Context, orgID, userID string) error {
	if err := s.db.Store().Delete(models.OrgMemberKey(orgID, userID), &models.OrgMember{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return common.WrapError(common.KindInternal, err, "failed to delete org member")
	}
	return nil
}
