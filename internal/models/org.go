package models

import "time"

// OrgRole is a member's permission level within an organization.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "OWNER"
	OrgRoleAdmin  OrgRole = "ADMIN"
	OrgRoleMember OrgRole = "MEMBER"
)

// AtLeast reports whether the role grants the permissions of the required
// role. OWNER > ADMIN > MEMBER.
func (r OrgRole) AtLeast(required OrgRole) bool {
	rank := map[OrgRole]int{OrgRoleMember: 1, OrgRoleAdmin: 2, OrgRoleOwner: 3}
	return rank[r] >= rank[required]
}

// OrgMember binds a user to an organization with a role.
type OrgMember struct {
	ID        string    `json:"id"` // org_id + ":" + user_id
	OrgID     string    `json:"org_id" badgerhold:"index"`
	UserID    string    `json:"user_id" badgerhold:"index"`
	Role      OrgRole   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgMemberKey builds the storage key enforcing (org_id, user_id) uniqueness.
func OrgMemberKey(orgID, userID string) string {
	return orgID + ":" + userID
}

// NewOrgMember creates a membership row.
func NewOrgMember(orgID, userID string, role OrgRole) *OrgMember {
	return &OrgMember{
		ID:        OrgMemberKey(orgID, userID),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now(),
	}
}
